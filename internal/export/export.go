// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

// Package export produces downloadable *.apkg archives from a user's live
// collection. The snapshot is taken while holding the user's session lease;
// zip construction happens after release so a slow download never starves
// the user's other requests.
package export

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/emadruga/javumbo-sub001/internal/apkg"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/session"
)

// Service snapshots and packages collections.
type Service struct {
	reg      *session.Registry
	clk      clock.Clock
	zipLevel int
	log      *zap.Logger
}

// NewService builds an export service. zipLevel follows apkg.Write semantics.
func NewService(reg *session.Registry, clk clock.Clock, zipLevel int, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{reg: reg, clk: clk, zipLevel: zipLevel, log: log}
}

// Export returns the packaged collection and the filename to serve it under.
func (s *Service) Export(ctx context.Context, username string) ([]byte, string, error) {
	lease, err := s.reg.Acquire(ctx, username)
	if err != nil {
		return nil, "", err
	}
	// Make sure the WAL is folded in so the snapshot sees every committed
	// write, then copy. Both happen under the lease.
	snapshot, err := func() ([]byte, error) {
		defer s.reg.Release(lease, false)
		st := lease.Store()
		if err := st.Checkpoint(ctx); err != nil {
			return nil, err
		}
		return st.Snapshot(ctx)
	}()
	if err != nil {
		return nil, "", fmt.Errorf("export snapshot: %w", err)
	}

	// Off the lock from here on.
	archive, err := apkg.Build(snapshot, s.zipLevel)
	if err != nil {
		return nil, "", fmt.Errorf("export package: %w", err)
	}
	filename := fmt.Sprintf("%s_export_%d.apkg", username, s.clk.NowMS())
	s.log.Info("collection exported",
		zap.String("user", username),
		zap.Int("bytes", len(archive)))
	return archive, filename, nil
}
