// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ckt1031/simple-chat/internal/model"
)

// ErrNotLastAssistant is returned by Regenerate when the message is no longer
// the conversation's last assistant message.
var ErrNotLastAssistant = errors.New("message is not the last assistant message")

// ErrNotLoaded is returned when the conversation is not in memory.
var ErrNotLoaded = errors.New("conversation is not loaded")

// =============================================================================
// COLLABORATORS
// =============================================================================

// Conversations is the part of the conversation state machine the Generator
// drives. conversation.Manager implements it.
type Conversations interface {
	Target
	AddMessageTo(conversationID string, partial model.Message) (string, bool)
	UpdateMessage(id string, patch model.MessagePatch) bool
	Message(id string) (*model.Message, bool)
	ConversationMessages(conversationID string) ([]*model.Message, bool)
	SelectedModelFor(conversationID string) *model.ModelRef
	SetConversationLoading(conversationID string, loading bool)
	RemoveLastAssistantMessage(id string) bool
	PersistConversation(ctx context.Context, conversationID string) error
}

// Attachment is the request form of an asset: inline image bytes or
// extracted text.
type Attachment struct {
	Name  string
	Text  string
	Image *Image
}

// AttachmentResolver turns asset references into request content.
type AttachmentResolver interface {
	Resolve(ctx context.Context, ref model.AssetRef) (Attachment, error)
}

// Observer is told about every generation. Used for metrics.
type Observer interface {
	GenerationFinished(providerID string, status Status, events int, elapsed time.Duration)
}

// =============================================================================
// GENERATOR
// =============================================================================

// GeneratorConfig wires a Generator.
type GeneratorConfig struct {
	Conversations Conversations
	Backends      BackendResolver
	Settings      func() model.Settings

	// Optional
	Attachments AttachmentResolver
	Observer    Observer
	Cancels     *CancelRegistry
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// Generator runs generations against the conversation state machine.
type Generator struct {
	conv        Conversations
	backends    BackendResolver
	settings    func() model.Settings
	attachments AttachmentResolver
	observer    Observer
	cancels     *CancelRegistry
	timeout     time.Duration
	logger      zerolog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Cancels == nil {
		cfg.Cancels = NewCancelRegistry()
	}
	if cfg.Settings == nil {
		cfg.Settings = func() model.Settings { return model.Settings{} }
	}
	return &Generator{
		conv:        cfg.Conversations,
		backends:    cfg.Backends,
		settings:    cfg.Settings,
		attachments: cfg.Attachments,
		observer:    cfg.Observer,
		cancels:     cfg.Cancels,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger.With().Str("component", "generator").Logger(),
	}
}

// Result describes a finished generation. MessageID is the message that
// carries the outcome: the placeholder, or a new error message.
type Result struct {
	ConversationID string
	MessageID      string
	Status         Status
	Err            error
}

// Send appends a user message to conversationID and generates a reply.
func (g *Generator) Send(ctx context.Context, conversationID, content string, assets []model.AssetRef) Result {
	_, ok := g.conv.AddMessageTo(conversationID, model.Message{
		Role:    model.RoleUser,
		Content: content,
		Assets:  assets,
	})
	if !ok {
		return Result{ConversationID: conversationID, Status: StatusFailed, Err: fmt.Errorf("%w: %s", ErrNotLoaded, conversationID)}
	}
	return g.Generate(ctx, conversationID)
}

// Regenerate cancels any generation in conversationID and waits for it to
// unwind, removes the assistant message assistantID if it is still last, and
// generates again.
func (g *Generator) Regenerate(ctx context.Context, conversationID, assistantID string) Result {
	done, superseded := g.cancels.Supersede(conversationID)
	if superseded {
		select {
		case <-done:
		case <-ctx.Done():
			go func() {
				<-done
				g.settle(context.WithoutCancel(ctx), conversationID)
			}()
			return Result{ConversationID: conversationID, Status: StatusAborted, Err: ctx.Err()}
		}
	}
	if !g.conv.RemoveLastAssistantMessage(assistantID) {
		if superseded {
			g.settle(context.WithoutCancel(ctx), conversationID)
		}
		return Result{ConversationID: conversationID, Status: StatusFailed, Err: ErrNotLastAssistant}
	}
	return g.Generate(ctx, conversationID)
}

// settle clears the loading flag a superseded generation left behind and
// persists, which releases a background buffer.
func (g *Generator) settle(ctx context.Context, conversationID string) {
	g.conv.SetConversationLoading(conversationID, false)
	if err := g.conv.PersistConversation(ctx, conversationID); err != nil {
		g.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to persist conversation")
	}
}

// Stop cancels the generation in conversationID. Returns false if none was
// running.
func (g *Generator) Stop(conversationID string) bool {
	return g.cancels.Cancel(conversationID)
}

// StopAll cancels every running generation.
func (g *Generator) StopAll() {
	g.cancels.CancelAll()
}

// Active returns the conversations with a running generation.
func (g *Generator) Active() []string {
	return g.cancels.Active()
}

// Generate streams a reply to the current history of conversationID into a
// new assistant message. It blocks until the stream ends and always persists
// the conversation before returning.
func (g *Generator) Generate(ctx context.Context, conversationID string) Result {
	settings := g.settings()
	ref, provider, err := resolveModel(settings, g.conv.SelectedModelFor(conversationID))
	if err != nil {
		return g.configFailure(ctx, conversationID, err)
	}

	history, ok := g.conv.ConversationMessages(conversationID)
	if !ok {
		return Result{ConversationID: conversationID, Status: StatusFailed, Err: fmt.Errorf("%w: %s", ErrNotLoaded, conversationID)}
	}
	req := Request{
		Provider: provider,
		Model:    ref.Model,
		System:   settings.Preferences.SystemPrompt,
		Messages: g.buildHistory(ctx, history),
	}

	placeholder, _ := g.conv.AddMessageTo(conversationID, model.Message{Role: model.RoleAssistant, Model: ref.Model})
	g.conv.SetConversationLoading(conversationID, true)

	var (
		genCtx context.Context
		cancel context.CancelFunc
	)
	if g.timeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, g.timeout)
	} else {
		genCtx, cancel = context.WithCancel(ctx)
	}
	handle := g.cancels.Set(conversationID, cancel)
	defer handle.Finish()

	start := time.Now()
	g.logger.Debug().
		Str("conversation_id", conversationID).
		Str("model", ref.String()).
		Int("history", len(req.Messages)).
		Msg("generation started")

	outcome := g.run(genCtx, provider, req, placeholder)
	handle.Release()

	res := Result{ConversationID: conversationID, MessageID: placeholder, Status: outcome.Status, Err: outcome.Err}
	switch outcome.Status {
	case StatusAborted:
		aborted := true
		g.conv.UpdateMessage(placeholder, model.MessagePatch{Aborted: &aborted})
	case StatusFailed:
		res.MessageID = g.attachError(conversationID, placeholder, ref.Model, outcome.Err)
		g.logger.Warn().Err(outcome.Err).Str("conversation_id", conversationID).Msg("generation failed")
	}

	if !handle.Superseded() {
		g.conv.SetConversationLoading(conversationID, false)
	}
	if err := g.conv.PersistConversation(context.WithoutCancel(ctx), conversationID); err != nil {
		g.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to persist conversation")
		if res.Err == nil {
			res.Err = err
		}
	}

	if g.observer != nil {
		g.observer.GenerationFinished(provider.ID(), outcome.Status, outcome.Events, time.Since(start))
	}
	g.logger.Debug().
		Str("conversation_id", conversationID).
		Str("status", outcome.Status.String()).
		Dur("elapsed", time.Since(start)).
		Msg("generation finished")
	return res
}

func (g *Generator) run(ctx context.Context, provider model.Provider, req Request, placeholder string) Outcome {
	backend, err := g.backends.BackendFor(provider)
	if err != nil {
		return Outcome{Status: StatusFailed, Err: err}
	}
	es, err := backend.Stream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, 0)
		}
		return Outcome{Status: StatusFailed, Err: err}
	}
	return Apply(ctx, g.conv, placeholder, es)
}

// attachError puts err on the placeholder if nothing was streamed into its
// content, otherwise on a new assistant message. Returns the carrier id.
func (g *Generator) attachError(conversationID, placeholder, modelName string, err error) string {
	msgErr := ToMessageError(err)
	if msg, ok := g.conv.Message(placeholder); ok && msg.Content == "" {
		g.conv.UpdateMessage(placeholder, model.MessagePatch{Error: msgErr})
		return placeholder
	}
	id, ok := g.conv.AddMessageTo(conversationID, model.Message{
		Role:  model.RoleAssistant,
		Model: modelName,
		Error: msgErr,
	})
	if !ok {
		return placeholder
	}
	return id
}

// configFailure records a configuration error as a synthetic assistant
// message without contacting any backend.
func (g *Generator) configFailure(ctx context.Context, conversationID string, err error) Result {
	res := Result{ConversationID: conversationID, Status: StatusFailed, Err: err}
	id, ok := g.conv.AddMessageTo(conversationID, model.Message{
		Role:  model.RoleAssistant,
		Error: ToMessageError(err),
	})
	if !ok {
		return res
	}
	res.MessageID = id
	if perr := g.conv.PersistConversation(context.WithoutCancel(ctx), conversationID); perr != nil {
		g.logger.Error().Err(perr).Str("conversation_id", conversationID).Msg("failed to persist conversation")
	}
	return res
}

// resolveModel picks the model (conversation selection, else the default
// preference) and its enabled provider.
func resolveModel(settings model.Settings, selected *model.ModelRef) (model.ModelRef, model.Provider, error) {
	if len(settings.EnabledProviders()) == 0 {
		return model.ModelRef{}, model.Provider{}, ErrNoProvider
	}
	ref := selected
	if ref == nil {
		ref = settings.Preferences.DefaultModel
	}
	if ref == nil || ref.Model == "" || ref.ProviderID == "" {
		return model.ModelRef{}, model.Provider{}, ErrNoModel
	}
	provider, ok := settings.Provider(ref.ProviderID)
	if !ok || !provider.Enabled() {
		return model.ModelRef{}, model.Provider{}, fmt.Errorf("%w: provider %q", ErrNoProvider, ref.ProviderID)
	}
	return *ref, provider, nil
}

// buildHistory converts stored messages into request messages. Failed
// assistant turns without content are dropped; attachments become inline
// images or appended text. Dangling attachments are skipped.
func (g *Generator) buildHistory(ctx context.Context, msgs []*model.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == model.RoleAssistant && msg.Content == "" {
			continue
		}
		cm := ChatMessage{Role: msg.Role, Content: msg.Content}

		if g.attachments != nil {
			var extra strings.Builder
			for _, ref := range msg.Assets {
				att, err := g.attachments.Resolve(ctx, ref)
				if err != nil {
					g.logger.Warn().Err(err).Str("asset_id", ref.ID).Msg("skipping attachment")
					continue
				}
				switch {
				case att.Image != nil:
					cm.Images = append(cm.Images, *att.Image)
				case att.Text != "":
					extra.WriteString("\n\n--- ")
					extra.WriteString(att.Name)
					extra.WriteString(" ---\n")
					extra.WriteString(att.Text)
				}
			}
			cm.Content += extra.String()
		}

		if cm.Content == "" && len(cm.Images) == 0 {
			continue
		}
		out = append(out, cm)
	}
	return out
}
