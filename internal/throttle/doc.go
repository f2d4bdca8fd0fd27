// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package throttle provides a sliding-window request limiter keyed by client
// identifier.
//
// Each identifier keeps a list of request timestamps inside the window;
// after any access the list never holds timestamps older than now-window.
// Rejected attempts are not recorded, so a client hammering past its limit
// does not push its own reset time further out.
package throttle
