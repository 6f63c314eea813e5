// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the local control API served by the daemon.
//
// # Endpoints
//
//   - GET  /health   - Liveness, conversation counts and sync state
//   - GET  /v1/sync  - Engine and scheduler status
//   - POST /v1/sync  - Run a push-then-pull sync now
//   - GET  /metrics  - Prometheus metrics
//
// # Middleware
//
// Every request passes through recovery, security headers, request logging
// and a global rate limit. When a token is configured, requests must carry
// it as a bearer token; the comparison is constant-time.
//
// # Usage
//
//	srv := server.New(server.Config{
//		Conversations: a.Conversations,
//		Gatherer:      a.Registry,
//		Logger:        a.Logger,
//	})
//	go srv.Serve(ln)
//	defer srv.Shutdown(ctx)
//
// Sync and Scheduler are interfaces; leave them unset rather than assigning
// a nil pointer when sync is disabled.
package server
