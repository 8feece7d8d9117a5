// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/emadruga/javumbo-sub001/internal/auth"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/config"
	"github.com/emadruga/javumbo-sub001/internal/export"
	"github.com/emadruga/javumbo-sub001/internal/review"
	"github.com/emadruga/javumbo-sub001/internal/server"
	"github.com/emadruga/javumbo-sub001/internal/session"
	"github.com/emadruga/javumbo-sub001/internal/store"
)

func serveCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to config file")
	return cmd
}

func serve(cfg *config.Config) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	secret := cfg.SecretKey
	if secret == "" {
		// No configured secret: mint an ephemeral one. Sessions then die
		// with the process, which is fine for development.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		secret = hex.EncodeToString(buf)
		log.Warn("secret_key not set, using an ephemeral secret")
	}

	users, err := auth.OpenUserStore(filepath.Join(cfg.DataDir, "users.db"))
	if err != nil {
		return err
	}
	defer users.Close()

	clk := clock.System{}
	registry := session.NewRegistry(func(username string) (*store.Store, error) {
		u, err := users.Lookup(context.Background(), username)
		if err != nil {
			return nil, err
		}
		return store.OpenWithRetries(store.CollectionPath(cfg.DataDir, u.ID), cfg.BusyRetryAttempts)
	}, cfg.SessionTTL(), clk, log)

	gate := auth.NewGate(secret)
	reviews := review.NewService(registry, clk, log)
	exports := export.NewService(registry, clk, cfg.ExportZipLevel, log)
	srv := server.New(log, users, gate, registry, reviews, exports, clk, cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx, cfg.ListenAddress, cfg.SweepInterval())
}
