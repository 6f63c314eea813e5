// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// assets.go - Attachment blob management.

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ckt1031/simple-chat/internal/app"
	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/util"
)

func assetsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "assets",
		Aliases: []string{"asset", "attachments"},
		Short:   "Manage stored attachments",
		Long: `Manage stored attachments.

Attachments are stored once per distinct content; their id is the SHA-256
of the bytes and may be shortened to any unique prefix.`,
	}
	cmd.AddCommand(
		assetsListCmd(s),
		assetsAddCmd(s),
		assetsGetCmd(s),
		assetsRemoveCmd(s),
	)
	return cmd
}

// resolveAsset expands a unique id prefix to a full asset id.
func resolveAsset(ctx context.Context, a *app.App, prefix string) (string, error) {
	ids, err := a.Assets.IDs(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, id := range ids {
		if id == prefix {
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", &NotFoundError{Resource: "asset", ID: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", &UsageError{Reason: fmt.Sprintf("asset id %q is ambiguous (%d matches)", prefix, len(matches))}
	}
}

func assetsListCmd(s *session) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored attachments",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			filter := make([]model.AssetType, 0, len(types))
			for _, t := range types {
				switch at := model.AssetType(t); at {
				case model.AssetImage, model.AssetPDF, model.AssetFile:
					filter = append(filter, at)
				default:
					return &UsageError{Reason: fmt.Sprintf("unknown asset type %q (image, pdf, file)", t)}
				}
			}
			recs, err := a.Assets.List(ctx, filter...)
			if err != nil {
				return err
			}

			var total int64
			for _, r := range recs {
				total += r.Size
			}
			return s.emit("assets list", recs, func() {
				if len(recs) == 0 {
					fmt.Fprintln(s.out, DimStyle.Render("No attachments."))
					return
				}
				now := s.now()
				t := newTable([]string{"ID", "NAME", "TYPE", "SIZE", "ADDED"}, []int{12, 0, 6, 10, 9})
				for _, r := range recs {
					t.add(r.ID, r.Name, string(r.Type), formatBytes(r.Size), formatAge(r.CreatedAt, now))
				}
				t.render(s.out, GetTerminalWidth())
				fmt.Fprintf(s.out, "\n%d attachment(s), %s\n", len(recs), formatBytes(total))
			})
		},
	}
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "only these types (image, pdf, file)")
	return cmd
}

func assetsAddCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>...",
		Short: "Store files and print their ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			refs := make([]model.AssetRef, 0, len(args))
			for _, path := range args {
				ref, err := a.Attachments.AddFile(ctx, path)
				if err != nil {
					return fmt.Errorf("add %s: %w", path, err)
				}
				refs = append(refs, ref)
			}
			return s.emit("assets add", refs, func() {
				for _, r := range refs {
					fmt.Fprintf(s.out, "%s  %s %s\n", r.ID, r.Name, DimStyle.Render(r.MIMEType))
				}
			})
		},
	}
}

func assetsGetCmd(s *session) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Write an attachment's bytes to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			id, err := resolveAsset(ctx, a, args[0])
			if err != nil {
				return err
			}
			rec, err := a.Assets.Get(ctx, id)
			if err != nil {
				return err
			}
			path := output
			if path == "" {
				path = rec.Name
			}
			if path == "" {
				return &UsageError{Reason: "attachment has no name, pass --output"}
			}
			if err := util.AtomicWriteFile(path, rec.Blob, 0o644); err != nil {
				return err
			}
			return s.emit("assets get", map[string]any{"id": id, "path": path, "size": rec.Size}, func() {
				fmt.Fprintf(s.out, "%s Wrote %s (%s)\n", SuccessStyle.Render("✓"), path, formatBytes(rec.Size))
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: the attachment name)")
	return cmd
}

func assetsRemoveCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete attachments",
		Long: `Delete attachments.

References in the open conversation are removed as well; other
conversations keep a dangling reference that is skipped when sending.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			removed := make([]string, 0, len(args))
			for _, arg := range args {
				id, err := resolveAsset(ctx, a, arg)
				if err != nil {
					return err
				}
				if _, err := a.Attachments.Remove(ctx, id); err != nil {
					return err
				}
				removed = append(removed, id)
			}
			return s.emit("assets rm", map[string][]string{"deleted": removed}, func() {
				fmt.Fprintf(s.out, "%s Deleted %d attachment(s)\n", SuccessStyle.Render("✓"), len(removed))
			})
		},
	}
}
