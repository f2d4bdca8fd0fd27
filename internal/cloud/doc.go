// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud implements the client for the hosted model provider.
//
// The client covers both request shapes the provider exposes: a blocking
// chat completion and a chunked streaming completion whose body is parsed
// by the stream package. Provider failures are classified into the turn
// error taxonomy so callers can decide retry behavior uniformly, and
// transient failures are retried here with exponential backoff.
//
// Outbound request pacing uses a token-bucket limiter so a burst of
// sessions cannot flood the provider and trip its rate limits.
package cloud
