// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TokenSource returns the bearer token for the next request. It is where
// token refresh lives.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// HTTPConfig configures an HTTP transport.
type HTTPConfig struct {
	// BaseURL is the API root, e.g. https://sync.example.com/v1.
	BaseURL string

	// Folder names the folder all objects live in.
	Folder string

	// Token supplies the bearer token. Nil sends no Authorization header.
	Token TokenSource

	// RequestsPerSecond paces requests. Zero means unlimited.
	RequestsPerSecond float64

	// Burst is the number of requests allowed at once (default 4).
	Burst int

	// Timeout bounds each request (default 60s).
	Timeout time.Duration

	// MaxRetries is the retry count for 429, 5xx and network errors
	// (default 2, negative disables).
	MaxRetries int

	// RetryWait is the initial retry delay (default 250ms).
	RetryWait time.Duration

	Logger zerolog.Logger
}

// HTTP is a Transport for an HTTP object API:
//
//	GET    {base}/folders/{folder}/objects?prefix=p  -> {"objects":[{name,size,modTime}]}
//	GET    {base}/folders/{folder}/objects/{name}    -> raw bytes, 404 if absent
//	PUT    {base}/folders/{folder}/objects/{name}    <- raw bytes
//	DELETE {base}/folders/{folder}/objects/{name}
type HTTP struct {
	httpClient *resty.Client
	folder     string
	token      TokenSource
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

type listResponse struct {
	Objects []Object `json:"objects"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHTTP creates an HTTP transport.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("remote base URL not configured")
	}
	if strings.TrimSpace(cfg.Folder) == "" {
		return nil, errors.New("remote folder not configured")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = 250 * time.Millisecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	logger := cfg.Logger.With().Str("component", "remote").Str("folder", cfg.Folder).Logger()
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(10 * cfg.RetryWait).
		AddRetryCondition(shouldRetry).
		SetLogger(restyLogger{logger})

	return &HTTP{
		httpClient: client,
		folder:     cfg.Folder,
		token:      cfg.Token,
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		logger:     logger,
	}, nil
}

// shouldRetry retries network errors, 429 and 5xx. Cancellation is final.
func shouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

// request paces and authenticates a new request.
func (h *HTTP) request(ctx context.Context) (*resty.Request, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req := h.httpClient.R().
		SetContext(ctx).
		SetPathParam("folder", h.folder)
	if h.token != nil {
		tok, err := h.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get remote token: %w", err)
		}
		if tok != "" {
			req.SetAuthToken(tok)
		}
	}
	return req, nil
}

// List implements Transport.
func (h *HTTP) List(ctx context.Context, prefix string) ([]Object, error) {
	req, err := h.request(ctx)
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		req.SetQueryParam("prefix", prefix)
	}
	resp, err := req.Get("/folders/{folder}/objects")
	if err != nil {
		return nil, transportError("list", "", err)
	}
	if resp.IsError() {
		return nil, statusError("list", "", resp)
	}

	var out listResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &RequestError{Op: "list", Message: "invalid listing", Err: err}
	}
	// Servers may ignore the prefix parameter
	objects := out.Objects[:0]
	for _, o := range out.Objects {
		if strings.HasPrefix(o.Name, prefix) {
			objects = append(objects, o)
		}
	}
	return objects, nil
}

// Get implements Transport.
func (h *HTTP) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, &RequestError{Op: "get", Err: err}
	}
	req, err := h.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.SetPathParam("name", name).
		SetHeader("Accept", "*/*").
		Get("/folders/{folder}/objects/{name}")
	if err != nil {
		return nil, transportError("get", name, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrObjectNotFound
	}
	if resp.IsError() {
		return nil, statusError("get", name, resp)
	}
	return resp.Body(), nil
}

// Put implements Transport.
func (h *HTTP) Put(ctx context.Context, name string, data []byte, contentType string) error {
	if err := ValidateName(name); err != nil {
		return &RequestError{Op: "put", Err: err}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req, err := h.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.SetPathParam("name", name).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		Put("/folders/{folder}/objects/{name}")
	if err != nil {
		return transportError("put", name, err)
	}
	if resp.IsError() {
		return statusError("put", name, resp)
	}
	h.logger.Debug().Str("object", name).Int("bytes", len(data)).Msg("uploaded")
	return nil
}

// Delete implements Transport.
func (h *HTTP) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return &RequestError{Op: "delete", Err: err}
	}
	req, err := h.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.SetPathParam("name", name).Delete("/folders/{folder}/objects/{name}")
	if err != nil {
		return transportError("delete", name, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	if resp.IsError() {
		return statusError("delete", name, resp)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func transportError(op, name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &RequestError{Op: op, Name: name, Err: err}
}

// statusError builds a RequestError from a failed response, preferring the
// message in a JSON error body.
func statusError(op, name string, resp *resty.Response) error {
	rerr := &RequestError{Op: op, Name: name, StatusCode: resp.StatusCode(), Message: resp.Status()}
	var body errorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		switch {
		case body.Message != "":
			rerr.Message = body.Message
		case body.Error != "":
			rerr.Message = body.Error
		}
	}
	return rerr
}

// restyLogger routes resty's own logging into zerolog.
type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), v...)
}
