// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigchat.
//
// TOML configuration with sensible defaults, environment variable
// overrides, validation with clamping, and an optional hot-reload watcher.
//
// Configuration file locations (in order of precedence):
//   - path passed explicitly (e.g. -config flag)
//   - ~/.rigchat/config.toml
//   - Built-in defaults
package config
