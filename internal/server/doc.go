// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API consumed by the browser client.
//
// Endpoints:
//   - POST /v1/chat/completions            - chat completions (streaming and non-streaming)
//   - GET  /health                         - health check
//   - GET  /stats                          - usage statistics
//   - GET  /v1/metrics                     - recent per-request metrics
//   - GET  /v1/errors                      - recent failures
//   - GET  /cache/stats                    - response cache statistics
//   - POST /cache/clear                    - clear the response cache
//   - GET  /v1/conversations/{id}/export   - download a conversation (markdown/json/html)
//   - GET  /v1/conversations/{id}/preferences - read session preferences
//   - PUT  /v1/conversations/{id}/preferences - replace session preferences
//
// Requests pass through a middleware chain: panic recovery, security
// headers, CORS, request logging, and a per-client rate limit backed by the
// throttle package.
package server
