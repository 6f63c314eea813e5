// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// backup.go - Whole-store backup export and import.

package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ckt1031/simple-chat/internal/export"
	"github.com/ckt1031/simple-chat/internal/util"
)

func backupCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or import every conversation, setting and attachment",
	}
	cmd.AddCommand(backupExportCmd(s), backupImportCmd(s))
	return cmd
}

func backupExportCmd(s *session) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup file",
		Long: `Write a backup file.

Without --output the backup is written to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			if output == "" {
				_, err := a.Backup.Export(ctx, s.out)
				return err
			}

			var buf bytes.Buffer
			doc, err := a.Backup.Export(ctx, &buf)
			if err != nil {
				return err
			}
			if err := util.AtomicWriteFile(output, buf.Bytes(), 0o600); err != nil {
				return err
			}
			data := map[string]any{
				"path":          output,
				"conversations": doc.Conversations.Headers.Len(),
				"assets":        len(doc.Assets),
				"size":          buf.Len(),
			}
			return s.emit("backup export", data, func() {
				fmt.Fprintf(s.out, "%s Wrote %s: %d conversation(s), %d attachment(s), %s\n",
					SuccessStyle.Render("✓"), output, doc.Conversations.Headers.Len(), len(doc.Assets),
					formatBytes(int64(buf.Len())))
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "backup file path")
	return cmd
}

func backupImportCmd(s *session) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace all local data with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return &UsageError{Reason: "import replaces all local conversations, settings and attachments; pass --yes to continue"}
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := export.Decode(f)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			if err := a.Backup.Import(ctx, doc); err != nil {
				return err
			}
			if a.Scheduler != nil {
				a.Scheduler.MarkDirty()
			}
			data := map[string]int{
				"conversations": doc.Conversations.Headers.Len(),
				"folders":       len(doc.Conversations.Folders.Folders()),
				"assets":        len(doc.Assets),
			}
			return s.emit("backup import", data, func() {
				fmt.Fprintf(s.out, "%s Imported %d conversation(s), %d folder(s), %d attachment(s)\n",
					SuccessStyle.Render("✓"), data["conversations"], data["folders"], data["assets"])
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm replacing local data")
	return cmd
}
