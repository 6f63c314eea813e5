// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/stream"
)

// Configuration constants.
const (
	// DefaultMaxRetries is the default number of retry attempts for transient
	// errors while opening a stream.
	DefaultMaxRetries = 2

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second
)

// ErrNotConfigured indicates the endpoint has no base URL.
var ErrNotConfigured = errors.New("provider base URL not configured")

// =============================================================================
// ERROR TYPES
// =============================================================================

// APIError is a failed request to an OpenAI-compatible endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Code returns the HTTP status, or "network" for transport failures.
func (e *APIError) Code() string {
	if e.StatusCode != 0 {
		return strconv.Itoa(e.StatusCode)
	}
	return "network"
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// wrapError normalizes go-openai errors into APIError.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Cause: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := "request failed"
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: msg, Cause: err}
	}
	return &APIError{Message: err.Error(), Cause: err}
}

// =============================================================================
// CLIENT
// =============================================================================

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	MaxRetries int
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client streams chat completions from an OpenAI-compatible endpoint
// (OpenAI, OpenRouter, DeepSeek or a custom provider). It implements
// stream.Backend.
type Client struct {
	api        *openai.Client
	baseURL    string
	maxRetries int
	logger     zerolog.Logger
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		api:        openai.NewClientWithConfig(oc),
		baseURL:    oc.BaseURL,
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger.With().Str("component", "cloud").Str("base_url", oc.BaseURL).Logger(),
	}, nil
}

// NewProviderClient creates a client for a configured provider.
func NewProviderClient(p model.Provider, logger zerolog.Logger) (*Client, error) {
	return NewClient(Config{BaseURL: p.BaseURL(), APIKey: p.APIKey(), Logger: logger})
}

// ListModels returns the model ids the endpoint offers.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Stream implements stream.Backend. Opening the stream is retried on
// transient failures; once events flow, errors are terminal.
func (c *Client) Stream(ctx context.Context, req stream.Request) (stream.EventStream, error) {
	chat := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toMessages(req),
		Stream:   true,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt)
			c.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Err(lastErr).Msg("retrying stream")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		s, err := c.api.CreateChatCompletionStream(ctx, chat)
		if err == nil {
			return &completionStream{stream: s}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = wrapError(err)
		var apiErr *APIError
		if !errors.As(lastErr, &apiErr) || !apiErr.Retryable() {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// calculateBackoff returns the delay before retry attempt (1-based).
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	return delay
}

// toMessages converts a generic request into chat completion messages,
// system prompt first. Messages with images use multi-part content.
func toMessages(req stream.Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{Role: roleFor(m.Role)}
		if len(m.Images) == 0 {
			msg.Content = m.Content
			out = append(out, msg)
			continue
		}
		if m.Content != "" {
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: m.Content,
			})
		}
		for _, img := range m.Images {
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: dataURL(img)},
			})
		}
		out = append(out, msg)
	}
	return out
}

func roleFor(r model.Role) string {
	switch r {
	case model.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

func dataURL(img stream.Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
