// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders stored conversations for download.
//
// Three formats are supported: Markdown with a YAML frontmatter header,
// pretty-printed JSON, and a standalone HTML page with embedded CSS and
// syntax-highlighted code blocks. Exporters return bytes plus a MIME type
// so the HTTP layer can stream them directly.
package export
