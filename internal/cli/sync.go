// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sync.go - Remote reconciliation commands.

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ckt1031/simple-chat/internal/app"
	"github.com/ckt1031/simple-chat/internal/reconcile"
)

func syncCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes, then pull remote ones",
		Long: `Push local changes, then pull remote ones.

The remote is configured in the [remote] section of the config file. A
conversation is only overwritten when the other side is strictly newer.

Examples:
  simple-chat sync
  simple-chat sync push
  simple-chat sync status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), s, "sync", func(ctx context.Context, e *reconcile.Engine) (reconcile.Report, error) {
				return e.Sync(ctx)
			})
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "push",
			Short: "Upload local changes and deletions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSync(cmd.Context(), s, "sync push", func(ctx context.Context, e *reconcile.Engine) (reconcile.Report, error) {
					return e.Push(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "pull",
			Short: "Download remote changes and deletions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSync(cmd.Context(), s, "sync pull", func(ctx context.Context, e *reconcile.Engine) (reconcile.Report, error) {
					return e.Pull(ctx)
				})
			},
		},
		syncStatusCmd(s),
	)
	return cmd
}

func syncEngine(ctx context.Context, s *session) (*app.App, error) {
	a, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	if a.Sync == nil {
		return nil, app.ErrSyncDisabled
	}
	return a, nil
}

func runSync(ctx context.Context, s *session, command string, fn func(context.Context, *reconcile.Engine) (reconcile.Report, error)) error {
	a, err := syncEngine(ctx, s)
	if err != nil {
		return err
	}
	start := time.Now()
	report, err := fn(ctx, a.Sync)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	return s.emit(command, report, func() {
		fmt.Fprintf(s.out, "%s Synced in %s\n", SuccessStyle.Render("✓"), formatDurationShort(elapsed))
		fields := []struct {
			label string
			n     int
		}{
			{"Uploaded", report.Uploaded},
			{"Remote deleted", report.RemoteDeleted},
			{"Downloaded", report.Downloaded},
			{"Local deleted", report.LocalDeleted},
			{"Assets up", report.AssetsUploaded},
			{"Assets down", report.AssetsDownloaded},
			{"Assets removed", report.AssetsRemoteDeleted},
			{"Skipped", report.Skipped},
		}
		for _, f := range fields {
			if f.n > 0 {
				fmt.Fprintln(s.out, RenderField(f.label, fmt.Sprint(f.n)))
			}
		}
	})
}

// syncStatus is the JSON shape of "sync status".
type syncStatus struct {
	Remote       string    `json:"remote"`
	LastSync     time.Time `json:"last_sync"`
	Synced       int       `json:"synced"`
	Pending      int       `json:"pending"`
	AutoSync     bool      `json:"auto_sync"`
	AutoInterval string    `json:"auto_interval,omitempty"`
}

func syncStatusCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show when the last sync ran and what is pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := syncEngine(ctx, s)
			if err != nil {
				return err
			}
			meta := a.Store.ReadSyncMetadata(ctx)
			st := syncStatus{
				Remote:   a.Config.Remote.Kind,
				LastSync: meta.LastSyncTime,
				Synced:   len(meta.SyncedIDs),
				AutoSync: a.AutoSyncEnabled(ctx),
			}
			for _, h := range a.Conversations.Headers() {
				if h.LastModified().After(meta.LastSyncTime) {
					st.Pending++
				}
			}
			if st.AutoSync {
				st.AutoInterval = a.Config.Remote.AutoSyncInterval.String()
			}

			return s.emit("sync status", st, func() {
				fmt.Fprintln(s.out, TitleStyle.Render("Sync"))
				fmt.Fprintln(s.out, RenderField("Remote", st.Remote))
				fmt.Fprintln(s.out, RenderField("Last sync", formatAge(st.LastSync, s.now())))
				fmt.Fprintln(s.out, RenderField("Synced chats", fmt.Sprint(st.Synced)))
				fmt.Fprintln(s.out, RenderField("Pending", fmt.Sprint(st.Pending)))
				auto := "off"
				if st.AutoSync {
					auto = "every " + st.AutoInterval
				}
				fmt.Fprintln(s.out, RenderField("Auto sync", auto))
			})
		},
	}
}
