// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Send a message and stream the reply to the terminal.

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ckt1031/simple-chat/internal/app"
	"github.com/ckt1031/simple-chat/internal/conversation"
	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/stream"
)

func askCmd(s *session) *cobra.Command {
	var (
		chatID    string
		folder    string
		modelName string
		files     []string
		reasoning bool
	)
	cmd := &cobra.Command{
		Use:     "ask [message]",
		Aliases: []string{"a"},
		Short:   "Send a message and stream the reply",
		Long: `Send a message and stream the reply.

Without --chat a new conversation is started. The message is read from
stdin when no argument is given. Ctrl+C stops the reply and keeps what
arrived so far.

Examples:
  simple-chat ask "What is a vector clock?"
  simple-chat ask --model openai/gpt-4o-mini "Summarize this" -f notes.txt
  git diff | simple-chat ask --chat 3f2a`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			content, err := readMessage(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			ref, err := optionalModel(modelName)
			if err != nil {
				return err
			}
			a, err := s.open(ctx)
			if err != nil {
				return err
			}

			id := chatID
			if id == "" {
				if folder != "" {
					if folder, err = resolveFolder(a, folder); err != nil {
						return err
					}
				}
				id = a.Conversations.CreateNewConversation(folder, ref)
			} else {
				if id, err = resolveChat(a, id); err != nil {
					return err
				}
				if err := a.Conversations.OpenConversation(ctx, id); err != nil {
					return err
				}
				if ref != nil {
					a.Conversations.SetSelectedModel(ref)
				}
			}

			var refs []model.AssetRef
			for _, f := range files {
				r, err := a.Attachments.AddFile(ctx, f)
				if err != nil {
					return fmt.Errorf("attach %s: %w", f, err)
				}
				refs = append(refs, r)
			}

			if content == "" && len(refs) == 0 {
				return &UsageError{Reason: "message is empty"}
			}

			show := reasoning || a.Settings(ctx).Preferences.ShowReasoning
			return streamReply(s, a, id, show, func() stream.Result {
				return a.Generator.Send(ctx, id, content, refs)
			})
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "continue this conversation")
	cmd.Flags().StringVar(&folder, "folder", "", "folder for a new conversation")
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "model as provider/model")
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "attach a file (repeatable)")
	cmd.Flags().BoolVarP(&reasoning, "reasoning", "r", false, "print reasoning as it streams")
	return cmd
}

func regenerateCmd(s *session) *cobra.Command {
	var reasoning bool
	return &cobra.Command{
		Use:   "regenerate <chat-id>",
		Short: "Replace the last reply with a new one",
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
			msgs := a.Conversations.Messages()
			if len(msgs) == 0 || msgs[len(msgs)-1].Role != model.RoleAssistant {
				return &UsageError{Reason: "the conversation does not end with a reply"}
			}
			last := msgs[len(msgs)-1].ID

			show := reasoning || a.Settings(ctx).Preferences.ShowReasoning
			return streamReply(s, a, id, show, func() stream.Result {
				return a.Generator.Regenerate(ctx, id, last)
			})
		},
	}
}

// readMessage joins args, or reads stdin when there are none.
func readMessage(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}
	if f, ok := stdin.(*os.File); ok && f == os.Stdin && IsTTY() {
		return "", &UsageError{Reason: "no message given"}
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// =============================================================================
// STREAMING OUTPUT
// =============================================================================

// replyPrinter writes assistant deltas of one conversation as they land.
type replyPrinter struct {
	mu        sync.Mutex
	w         io.Writer
	a         *app.App
	convID    string
	reasoning bool

	content   map[string]int
	thoughts  map[string]int
	inThought bool
}

func (p *replyPrinter) onChange(c conversation.Change) {
	if c.Kind != conversation.ChangeMessages || c.ConversationID != p.convID || c.MessageID == "" {
		return
	}
	msg, ok := p.a.Conversations.Message(c.MessageID)
	if !ok || msg.Role != model.RoleAssistant {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reasoning {
		if n := p.thoughts[msg.ID]; len(msg.Reasoning) > n {
			if !p.inThought {
				fmt.Fprint(p.w, DimStyle.Render("Reasoning: "))
				p.inThought = true
			}
			fmt.Fprint(p.w, DimStyle.Render(msg.Reasoning[n:]))
			p.thoughts[msg.ID] = len(msg.Reasoning)
		}
	}
	if n := p.content[msg.ID]; len(msg.Content) > n {
		if p.inThought {
			fmt.Fprint(p.w, "\n\n")
			p.inThought = false
		}
		fmt.Fprint(p.w, msg.Content[n:])
		p.content[msg.ID] = len(msg.Content)
	}
}

// streamReply runs generate while printing the reply, then reports how it
// ended. A failed generation is returned as an error after its message is
// stored.
func streamReply(s *session, a *app.App, convID string, reasoning bool, generate func() stream.Result) error {
	var p *replyPrinter
	if !s.jsonOut {
		p = &replyPrinter{
			w:         s.out,
			a:         a,
			convID:    convID,
			reasoning: reasoning,
			content:   make(map[string]int),
			thoughts:  make(map[string]int),
		}
		unsubscribe := a.Conversations.Subscribe(p.onChange)
		defer unsubscribe()
	}

	res := generate()

	if s.jsonOut {
		data := map[string]any{
			"conversation_id": res.ConversationID,
			"message_id":      res.MessageID,
			"status":          res.Status.String(),
		}
		if msg, ok := a.Conversations.Message(res.MessageID); ok {
			data["message"] = msg
		}
		if res.Err != nil {
			return res.Err
		}
		return NewJSONResponse("ask", data).Print(s.out)
	}

	fmt.Fprintln(s.out)
	switch res.Status {
	case stream.StatusAborted:
		fmt.Fprintln(s.errOut, WarningStyle.Render("Stopped."))
	case stream.StatusFailed:
		if res.Err == nil {
			res.Err = errors.New("generation failed")
		}
		return res.Err
	}
	fmt.Fprintln(s.errOut, DimStyle.Render("chat "+convID))
	return nil
}
