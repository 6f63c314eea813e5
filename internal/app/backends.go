// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ckt1031/simple-chat/internal/cloud"
	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/ollama"
	"github.com/ckt1031/simple-chat/internal/stream"
)

// =============================================================================
// BACKEND CACHE
// =============================================================================

// backendKey identifies a client. A changed key or base URL yields a new
// client.
type backendKey struct {
	id      string
	baseURL string
	apiKey  string
}

// backends resolves providers to model clients and keeps one client per
// provider configuration. It implements stream.BackendResolver.
type backends struct {
	mu      sync.Mutex
	clients map[backendKey]stream.Backend
	logger  zerolog.Logger
}

func newBackends(logger zerolog.Logger) *backends {
	return &backends{
		clients: make(map[backendKey]stream.Backend),
		logger:  logger,
	}
}

// BackendFor implements stream.BackendResolver.
func (b *backends) BackendFor(p model.Provider) (stream.Backend, error) {
	key := backendKey{id: p.ID(), baseURL: p.BaseURL(), apiKey: p.APIKey()}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[key]; ok {
		return c, nil
	}

	var backend stream.Backend
	if p.IsOllama() {
		cfg := ollama.DefaultConfig()
		cfg.BaseURL = p.BaseURL()
		backend = ollama.NewClient(cfg)
	} else {
		c, err := cloud.NewProviderClient(p, b.logger)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", p.ID(), err)
		}
		backend = c
	}
	b.clients[key] = backend
	return backend, nil
}

// ListModels asks the provider which models it offers.
func (b *backends) ListModels(ctx context.Context, p model.Provider) ([]string, error) {
	backend, err := b.BackendFor(p)
	if err != nil {
		return nil, err
	}
	switch c := backend.(type) {
	case *ollama.Client:
		infos, err := c.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(infos))
		for _, m := range infos {
			names = append(names, m.Name)
		}
		return names, nil
	case *cloud.Client:
		return c.ListModels(ctx)
	default:
		return nil, fmt.Errorf("provider %q cannot list models", p.ID())
	}
}
