// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chats.go - Conversation listing and management.

package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ckt1031/simple-chat/internal/app"
	"github.com/ckt1031/simple-chat/internal/export"
	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/storage"
)

func chatsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chats",
		Aliases: []string{"chat", "c"},
		Short:   "List and manage conversations",
		Long: `List and manage conversations.

Chat ids may be shortened to any unique prefix.

Examples:
  simple-chat chats list --search kubernetes
  simple-chat chats show 3f2a
  simple-chat chats move 3f2a Work
  simple-chat chats export 3f2a -o ~/notes`,
	}
	cmd.AddCommand(
		chatsListCmd(s),
		chatsShowCmd(s),
		chatsNewCmd(s),
		chatsRenameCmd(s),
		chatsMoveCmd(s),
		chatsRemoveCmd(s),
		chatsExportCmd(s),
	)
	return cmd
}

// resolveChat expands a unique id prefix to a full conversation id.
func resolveChat(a *app.App, prefix string) (string, error) {
	if _, ok := a.Conversations.Header(prefix); ok {
		return prefix, nil
	}
	var matches []string
	for _, h := range a.Conversations.Headers() {
		if strings.HasPrefix(h.ID, prefix) {
			matches = append(matches, h.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", &NotFoundError{Resource: "chat", ID: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", &UsageError{Reason: fmt.Sprintf("chat id %q is ambiguous (%d matches)", prefix, len(matches))}
	}
}

// =============================================================================
// LIST
// =============================================================================

func chatsListCmd(s *session) *cobra.Command {
	var (
		folder string
		search string
		limit  int
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}

			if folder != "" {
				if folder, err = resolveFolder(a, folder); err != nil {
					return err
				}
			}
			headers := a.Conversations.Headers()
			if search != "" {
				headers = a.Store.Search(ctx, search)
			}
			var out []model.ConversationHeader
			for _, h := range headers {
				if folder != "" && h.FolderID != folder {
					continue
				}
				out = append(out, h)
				if limit > 0 && len(out) == limit {
					break
				}
			}

			return s.emit("chats list", out, func() {
				if len(out) == 0 {
					fmt.Fprintln(s.out, DimStyle.Render("No conversations."))
					return
				}
				now := s.now()
				t := newTable([]string{"ID", "TITLE", "MSGS", "UPDATED"}, []int{8, 0, 5, 9})
				for _, h := range out {
					t.add(h.ID, h.Title, strconv.Itoa(h.MessageCount), formatAge(h.LastModified(), now))
				}
				t.render(s.out, GetTerminalWidth())
			})
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "only conversations in this folder")
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by title")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of conversations")
	return cmd
}

// =============================================================================
// SHOW
// =============================================================================

func chatsShowCmd(s *session) *cobra.Command {
	var reasoning bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			id, err := resolveChat(a, args[0])
			if err != nil {
				return err
			}
			if err := a.Conversations.OpenConversation(ctx, id); err != nil {
				return err
			}
			h, _ := a.Conversations.Header(id)
			msgs := a.Conversations.Messages()
			showReasoning := reasoning || a.Settings(ctx).Preferences.ShowReasoning

			data := struct {
				Header   model.ConversationHeader `json:"header"`
				Messages []*model.Message         `json:"messages"`
			}{h, msgs}
			return s.emit("chats show", data, func() {
				fmt.Fprintln(s.out, TitleStyle.Render(h.Title))
				fmt.Fprintln(s.out, DimStyle.Render(h.ID))
				for _, m := range msgs {
					fmt.Fprintln(s.out, RenderSeparator())
					printMessage(s, m, showReasoning)
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&reasoning, "reasoning", "r", false, "include reasoning")
	return cmd
}

// printMessage writes one message in the transcript layout.
func printMessage(s *session, m *model.Message, reasoning bool) {
	author := UserStyle.Render(m.Role.DisplayName())
	if m.Role == model.RoleAssistant {
		author = AssistantStyle.Render(m.Role.DisplayName())
		if m.Model != "" {
			author += " " + DimStyle.Render("("+m.Model+")")
		}
	}
	fmt.Fprintf(s.out, "%s %s\n", author, DimStyle.Render(m.Timestamp.Local().Format("2006-01-02 15:04")))

	if reasoning && m.Reasoning != "" {
		label := "Reasoning"
		if d := m.ReasoningDuration(); d > 0 {
			label += " (" + formatDurationShort(d) + ")"
		}
		fmt.Fprintln(s.out, DimStyle.Render(label+":"))
		fmt.Fprintln(s.out, DimStyle.Render(strings.TrimSpace(m.Reasoning)))
		fmt.Fprintln(s.out)
	}
	if m.Content != "" {
		fmt.Fprintln(s.out, m.Content)
	}
	for _, ref := range m.Assets {
		fmt.Fprintf(s.out, "%s %s %s\n", DimStyle.Render("attachment:"), ref.Name, DimStyle.Render(ref.ID[:min(12, len(ref.ID))]))
	}
	if m.Error != nil {
		fmt.Fprintln(s.out, ErrorStyle.Render("Error: ")+m.Error.Message)
	} else if m.Aborted {
		fmt.Fprintln(s.out, WarningStyle.Render("Stopped"))
	}
}

// =============================================================================
// CREATE, RENAME, MOVE, REMOVE
// =============================================================================

func chatsNewCmd(s *session) *cobra.Command {
	var folder, modelName string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an empty conversation and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			ref, err := optionalModel(modelName)
			if err != nil {
				return err
			}
			if folder != "" {
				if folder, err = resolveFolder(a, folder); err != nil {
					return err
				}
			}
			id := a.Conversations.CreateNewConversation(folder, ref)
			return s.emit("chats new", map[string]string{"id": id}, func() {
				fmt.Fprintln(s.out, id)
			})
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "folder id or name")
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "model as provider/model")
	return cmd
}

func chatsRenameCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			id, err := resolveChat(a, args[0])
			if err != nil {
				return err
			}
			title := strings.TrimSpace(strings.Join(args[1:], " "))
			if title == "" {
				return &UsageError{Reason: "title is empty"}
			}
			if err := a.Conversations.RenameConversation(ctx, id, title); err != nil {
				return err
			}
			return s.emit("chats rename", map[string]string{"id": id, "title": title}, func() {
				fmt.Fprintf(s.out, "%s Renamed to %q\n", SuccessStyle.Render("✓"), title)
			})
		},
	}
}

func chatsMoveCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> [folder]",
		Short: "Move a conversation into a folder, or out of any folder",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			id, err := resolveChat(a, args[0])
			if err != nil {
				return err
			}
			folder := ""
			if len(args) == 2 {
				if folder, err = resolveFolder(a, args[1]); err != nil {
					return err
				}
			}
			if err := a.Conversations.MoveConversation(ctx, id, folder); err != nil {
				return err
			}
			return s.emit("chats move", map[string]string{"id": id, "folder_id": folder}, func() {
				if folder == "" {
					fmt.Fprintf(s.out, "%s Removed from folder\n", SuccessStyle.Render("✓"))
					return
				}
				fmt.Fprintf(s.out, "%s Moved to %s\n", SuccessStyle.Render("✓"), folder)
			})
		},
	}
}

func chatsRemoveCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete conversations",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			var deleted []string
			for _, arg := range args {
				id, err := resolveChat(a, arg)
				if err != nil {
					return err
				}
				if err := a.Conversations.DeleteConversation(ctx, id); err != nil {
					return err
				}
				deleted = append(deleted, id)
			}
			return s.emit("chats rm", map[string][]string{"deleted": deleted}, func() {
				fmt.Fprintf(s.out, "%s Deleted %d conversation(s)\n", SuccessStyle.Render("✓"), len(deleted))
			})
		},
	}
}

// =============================================================================
// EXPORT
// =============================================================================

func chatsExportCmd(s *session) *cobra.Command {
	opts := export.DefaultOptions()
	var noReasoning bool
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a conversation as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			conv, err := loadConversation(ctx, a, args[0])
			if err != nil {
				return err
			}
			opts.IncludeReasoning = !noReasoning
			path, err := export.ExportToFile(conv, opts)
			if err != nil {
				return err
			}
			return s.emit("chats export", map[string]string{"path": path}, func() {
				fmt.Fprintf(s.out, "%s Exported to %s\n", SuccessStyle.Render("✓"), path)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", ".", "output directory")
	cmd.Flags().BoolVar(&noReasoning, "no-reasoning", false, "leave out reasoning")
	return cmd
}

// loadConversation reads a conversation's header and body from the store.
func loadConversation(ctx context.Context, a *app.App, prefix string) (*export.Conversation, error) {
	id, err := resolveChat(a, prefix)
	if err != nil {
		return nil, err
	}
	a.Conversations.Flush()
	h, _ := a.Conversations.Header(id)
	body, err := a.Store.ReadBody(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		body = &model.ConversationBody{}
	}
	return &export.Conversation{Header: h, Body: body}, nil
}

// =============================================================================
// SHARED
// =============================================================================

// optionalModel parses a --model flag; empty means none.
func optionalModel(s string) (*model.ModelRef, error) {
	if s == "" {
		return nil, nil
	}
	ref, err := model.ParseModelRef(s)
	if err != nil {
		return nil, &UsageError{Reason: err.Error()}
	}
	return &ref, nil
}
