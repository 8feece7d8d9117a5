// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package export

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emadruga/javumbo-sub001/internal/anki"
	"github.com/emadruga/javumbo-sub001/internal/apkg"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/repo"
	"github.com/emadruga/javumbo-sub001/internal/session"
	"github.com/emadruga/javumbo-sub001/internal/store"
)

func newTestExport(t *testing.T) (*Service, *session.Registry, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	dir := t.TempDir()
	opener := func(username string) (*store.Store, error) {
		path := filepath.Join(dir, username+".anki2")
		if err := anki.Initialize(path, username, clk); err != nil && !errors.Is(err, anki.ErrSchemaInit) {
			return nil, err
		}
		return store.Open(path)
	}
	reg := session.NewRegistry(opener, session.DefaultTTL, clk, nil)
	t.Cleanup(reg.CloseAll)
	return NewService(reg, clk, apkg.DefaultZipLevel, nil), reg, clk
}

func TestExportRoundTrip(t *testing.T) {
	svc, reg, clk := newTestExport(t)
	ctx := context.Background()

	// Three added cards, two of them reviewed.
	lease, err := reg.Acquire(ctx, "alice")
	require.NoError(t, err)
	r := repo.New(lease.Store(), clk)
	var cardIDs []anki.ID
	for _, fb := range [][2]string{{"um", "one"}, {"dois", "two"}, {"três", "three"}} {
		_, cardID, err := r.AddCard(ctx, fb[0], fb[1], anki.DefaultDeckID)
		require.NoError(t, err)
		cardIDs = append(cardIDs, cardID)
	}
	for _, id := range cardIDs[:2] {
		_, err := r.Answer(ctx, id, anki.EaseGood, 1200)
		require.NoError(t, err)
	}
	reg.Release(lease, true)

	archive, filename, err := svc.Export(ctx, "alice")
	require.NoError(t, err)
	if !strings.HasPrefix(filename, "alice_export_") || !strings.HasSuffix(filename, ".apkg") {
		t.Fatalf("Unexpected filename: %s", filename)
	}

	pkg, err := apkg.ReadBytes(archive)
	require.NoError(t, err)
	defer pkg.Close()

	if pkg.MediaCount() != 0 {
		t.Fatalf("Media manifest should be empty, got %d entries", pkg.MediaCount())
	}

	// The embedded collection holds the added cards and both revlog rows.
	var cards, revs int
	require.NoError(t, pkg.DB().Get(&cards, "SELECT COUNT(*) FROM cards WHERE id IN (?, ?, ?)",
		cardIDs[0], cardIDs[1], cardIDs[2]))
	require.NoError(t, pkg.DB().Get(&revs, "SELECT COUNT(*) FROM revlog"))
	if cards != 3 {
		t.Fatalf("Expected 3 exported cards, got %d", cards)
	}
	if revs != 2 {
		t.Fatalf("Expected 2 exported revlog rows, got %d", revs)
	}

	var ver int
	require.NoError(t, pkg.DB().Get(&ver, "SELECT ver FROM col WHERE id = 1"))
	if ver != anki.SchemaVersion {
		t.Fatalf("Exported schema version %d, want %d", ver, anki.SchemaVersion)
	}
}

func TestExportUnknownUser(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	reg := session.NewRegistry(func(string) (*store.Store, error) {
		return nil, store.ErrCollectionMissing
	}, session.DefaultTTL, clk, nil)
	svc := NewService(reg, clk, apkg.DefaultZipLevel, nil)

	_, _, err := svc.Export(context.Background(), "ghost")
	if !errors.Is(err, store.ErrCollectionMissing) {
		t.Fatalf("Expected ErrCollectionMissing, got %v", err)
	}
}
