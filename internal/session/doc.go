// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks live conversation sessions for connected clients.
//
// Each session owns one conversation plus the client's preferences. The
// manager enforces a single in-flight submission per conversation (a second
// send while the assistant is still streaming is rejected), persists dirty
// sessions through the storage layer, and reaps sessions that have been
// idle past the configured timeout.
package session
