// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// daemon.go - Long-running auto sync and control API.

package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ckt1031/simple-chat/internal/app"
	"github.com/ckt1031/simple-chat/internal/config"
	"github.com/ckt1031/simple-chat/internal/server"
)

const shutdownTimeout = 5 * time.Second

func daemonCmd(s *session) *cobra.Command {
	var (
		listen string
		token  string
	)
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Sync in the background and serve the control API until interrupted",
		Long: `Sync in the background and serve the control API until interrupted.

Auto sync runs while the autoSync preference is on and a remote is
configured. A sync failure pauses auto sync; saving the config file
resumes it. With --listen the daemon serves /health, /v1/sync and
/metrics on that address.

Examples:
  simple-chat daemon
  simple-chat daemon --listen 127.0.0.1:8787
  SIMPLECHAT_DAEMON_TOKEN=secret simple-chat daemon --listen :8787`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			if !a.AutoSyncEnabled(ctx) && listen == "" {
				return &UsageError{Reason: "auto sync is off and --listen is not set; nothing to run"}
			}
			if token == "" {
				token = os.Getenv("SIMPLECHAT_DAEMON_TOKEN")
			}
			return runDaemon(ctx, s, a, listen, token)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve the control API on this address (e.g. "+server.DefaultAddr+")")
	cmd.Flags().StringVar(&token, "token", "", "require this bearer token (default $SIMPLECHAT_DAEMON_TOKEN)")
	return cmd
}

func runDaemon(ctx context.Context, s *session, a *app.App, listen, token string) error {
	logger := a.Logger.With().Str("component", "daemon").Logger()

	var ln net.Listener
	if listen != "" {
		var err error
		if ln, err = net.Listen("tcp", listen); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.RunAutoSync(ctx)
		return nil
	})

	if a.Scheduler != nil {
		a.Scheduler.SetErrorCallback(func(err error) {
			fmt.Fprintf(s.errOut, "%s auto sync: %v\n", RenderStatus("paused"), err)
		})
		g.Go(func() error {
			err := config.Watch(ctx, s.configPath, a.Logger, func(_ *config.Config, err error) {
				if err != nil {
					logger.Warn().Err(err).Msg("config reload failed")
					return
				}
				logger.Info().Msg("config changed, resuming auto sync")
				a.Scheduler.Resume()
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("config watch stopped")
			}
			return nil
		})
	}

	if ln != nil {
		cfg := server.Config{
			Token:         token,
			Conversations: a.Conversations,
			Gatherer:      a.Registry,
			Version:       Version,
			Logger:        a.Logger,
		}
		if a.Sync != nil {
			cfg.Sync = a.Sync
		}
		if a.Scheduler != nil {
			cfg.Scheduler = a.Scheduler
		}
		srv := server.New(cfg)

		g.Go(func() error {
			return srv.Serve(ln)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if !s.jsonOut {
		fmt.Fprintln(s.errOut, DimStyle.Render("Running. Press Ctrl+C to stop."))
	}
	err := g.Wait()
	logger.Info().Msg("daemon stopped")
	return err
}
