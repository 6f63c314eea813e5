// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// folders.go - Folder management.

package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ckt1031/simple-chat/internal/app"
)

func foldersCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "folders",
		Aliases: []string{"folder", "f"},
		Short:   "Manage conversation folders",
		Long: `Manage conversation folders.

A folder is named by its id, a unique id prefix, or its exact name.
Deleting a folder keeps its conversations; they become ungrouped.`,
	}
	cmd.AddCommand(
		foldersListCmd(s),
		foldersCreateCmd(s),
		foldersRenameCmd(s),
		foldersRemoveCmd(s),
	)
	return cmd
}

// resolveFolder finds a folder by id, unique id prefix or name.
func resolveFolder(a *app.App, ref string) (string, error) {
	folders := a.Conversations.Folders()
	var byPrefix, byName []string
	for _, f := range folders {
		if f.ID == ref {
			return f.ID, nil
		}
		if strings.HasPrefix(f.ID, ref) || strings.HasPrefix(strings.TrimPrefix(f.ID, "folder_"), ref) {
			byPrefix = append(byPrefix, f.ID)
		}
		if f.Name == ref {
			byName = append(byName, f.ID)
		}
	}
	for _, matches := range [][]string{byName, byPrefix} {
		switch len(matches) {
		case 0:
			continue
		case 1:
			return matches[0], nil
		default:
			return "", &UsageError{Reason: fmt.Sprintf("folder %q is ambiguous (%d matches)", ref, len(matches))}
		}
	}
	return "", &NotFoundError{Resource: "folder", ID: ref}
}

func foldersListCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List folders",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			folders := a.Conversations.Folders()
			counts := make(map[string]int, len(folders))
			for _, h := range a.Conversations.Headers() {
				if h.FolderID != "" {
					counts[h.FolderID]++
				}
			}

			type row struct {
				ID    string `json:"id"`
				Name  string `json:"name"`
				Chats int    `json:"chats"`
			}
			rows := make([]row, 0, len(folders))
			for _, f := range folders {
				rows = append(rows, row{ID: f.ID, Name: f.Name, Chats: counts[f.ID]})
			}
			return s.emit("folders list", rows, func() {
				if len(rows) == 0 {
					fmt.Fprintln(s.out, DimStyle.Render("No folders."))
					return
				}
				t := newTable([]string{"ID", "NAME", "CHATS"}, []int{16, 0, 6})
				for _, r := range rows {
					t.add(strings.TrimPrefix(r.ID, "folder_"), r.Name, strconv.Itoa(r.Chats))
				}
				t.render(s.out, GetTerminalWidth())
			})
		},
	}
}

func foldersCreateCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "create <name>",
		Aliases: []string{"new"},
		Short:   "Create a folder",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			name := strings.TrimSpace(strings.Join(args, " "))
			if name == "" {
				return &UsageError{Reason: "folder name is empty"}
			}
			f, err := a.Conversations.CreateFolder(ctx, name)
			if err != nil {
				return err
			}
			return s.emit("folders create", f, func() {
				fmt.Fprintln(s.out, f.ID)
			})
		},
	}
}

func foldersRenameCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <folder> <name>",
		Short: "Rename a folder",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			id, err := resolveFolder(a, args[0])
			if err != nil {
				return err
			}
			name := strings.TrimSpace(strings.Join(args[1:], " "))
			if name == "" {
				return &UsageError{Reason: "folder name is empty"}
			}
			if err := a.Conversations.RenameFolder(ctx, id, name); err != nil {
				return err
			}
			return s.emit("folders rename", map[string]string{"id": id, "name": name}, func() {
				fmt.Fprintf(s.out, "%s Renamed to %q\n", SuccessStyle.Render("✓"), name)
			})
		},
	}
}

func foldersRemoveCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <folder>",
		Aliases: []string{"delete"},
		Short:   "Delete a folder, keeping its conversations",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			id, err := resolveFolder(a, args[0])
			if err != nil {
				return err
			}
			if err := a.Conversations.DeleteFolder(ctx, id); err != nil {
				return err
			}
			return s.emit("folders rm", map[string]string{"deleted": id}, func() {
				fmt.Fprintf(s.out, "%s Deleted folder\n", SuccessStyle.Render("✓"))
			})
		},
	}
}
