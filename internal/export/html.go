// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a standalone HTML page with
// embedded CSS and chroma-highlighted code blocks.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts a conversation to HTML format.
func (e *HTMLExporter) Export(conv *storage.StoredConversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	title := conversationTitle(conv)
	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", html.EscapeString(title)))
	sb.WriteString("    <meta name=\"generator\" content=\"rigchat\">\n")
	sb.WriteString(fmt.Sprintf("    <meta name=\"date\" content=\"%s\">\n", conv.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(e.getCSS())
	sb.WriteString("</head>\n")
	sb.WriteString(fmt.Sprintf("<body class=\"%s-theme\">\n", e.theme()))
	sb.WriteString("    <div class=\"container\">\n")

	if e.options.IncludeMetadata {
		sb.WriteString(e.renderHeader(conv, title))
	}

	sb.WriteString("        <main class=\"conversation\">\n")
	for i := range conv.Messages {
		sb.WriteString(e.renderMessage(&conv.Messages[i]))
	}
	sb.WriteString("        </main>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	sb.WriteString(fmt.Sprintf("            <p>Exported from <strong>rigchat</strong> on %s</p>\n",
		formatTimestamp(time.Now())))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

func (e *HTMLExporter) theme() string {
	if e.options.Theme == "light" {
		return "light"
	}
	return "dark"
}

// =============================================================================
// RENDERING
// =============================================================================

// renderHeader renders the header section with metadata.
func (e *HTMLExporter) renderHeader(conv *storage.StoredConversation, title string) string {
	var sb strings.Builder

	sb.WriteString("        <header class=\"header\">\n")
	sb.WriteString(fmt.Sprintf("            <h1>%s</h1>\n", html.EscapeString(title)))
	sb.WriteString("            <div class=\"metadata\">\n")
	sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Created:</strong> %s</span>\n",
		formatTimestamp(conv.CreatedAt)))
	sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Messages:</strong> %d</span>\n",
		len(conv.Messages)))
	sb.WriteString("            </div>\n")
	sb.WriteString("        </header>\n")

	return sb.String()
}

// renderMessage renders a single message.
func (e *HTMLExporter) renderMessage(msg *storage.StoredMessage) string {
	var sb strings.Builder

	roleClass := strings.ToLower(msg.Role)
	sb.WriteString(fmt.Sprintf("            <div class=\"message %s-message\">\n", roleClass))

	sb.WriteString("                <div class=\"message-header\">\n")
	sb.WriteString(fmt.Sprintf("                    <span class=\"role-label\">%s</span>\n",
		html.EscapeString(roleLabel(msg.Role))))
	if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
		sb.WriteString(fmt.Sprintf("                    <span class=\"timestamp\">%s</span>\n",
			formatShortTimestamp(msg.Timestamp)))
	}
	sb.WriteString("                </div>\n")

	sb.WriteString("                <div class=\"message-content\">\n")
	sb.WriteString(e.renderContent(msg.Content))
	sb.WriteString("                </div>\n")

	if msg.Error != nil {
		sb.WriteString(fmt.Sprintf("                <div class=\"message-error\">Error (%s): %s</div>\n",
			html.EscapeString(string(msg.Error.Kind)),
			html.EscapeString(msg.Error.Message)))
	}

	sb.WriteString("            </div>\n")
	return sb.String()
}

// fenceRe matches fenced code blocks with an optional language tag.
var fenceRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\n(.*?)```")

// renderContent splits prose from fenced code blocks, escaping the prose
// and running code through chroma.
func (e *HTMLExporter) renderContent(content string) string {
	var sb strings.Builder

	last := 0
	for _, loc := range fenceRe.FindAllStringSubmatchIndex(content, -1) {
		sb.WriteString(renderProse(content[last:loc[0]]))

		lang := content[loc[2]:loc[3]]
		code := content[loc[4]:loc[5]]
		sb.WriteString(e.highlightCode(lang, code))

		last = loc[1]
	}
	sb.WriteString(renderProse(content[last:]))

	return sb.String()
}

// renderProse escapes plain text and wraps paragraphs.
func renderProse(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	var sb strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		escaped := html.EscapeString(para)
		escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")
		sb.WriteString("<p>" + escaped + "</p>\n")
	}
	return sb.String()
}

// highlightCode renders a code block through chroma. Unknown languages
// fall back to the plaintext lexer; a tokenizer failure falls back to an
// escaped <pre>.
func (e *HTMLExporter) highlightCode(lang, code string) string {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	styleName := "monokai"
	if e.theme() == "light" {
		styleName = "github"
	}
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "<pre><code>" + html.EscapeString(code) + "</code></pre>\n"
	}

	formatter := chromahtml.New(chromahtml.WithClasses(false), chromahtml.TabWidth(4))
	var sb strings.Builder
	if err := formatter.Format(&sb, style, iterator); err != nil {
		return "<pre><code>" + html.EscapeString(code) + "</code></pre>\n"
	}
	return sb.String()
}

// =============================================================================
// STYLES
// =============================================================================

// getCSS returns the embedded stylesheet for both themes.
func (e *HTMLExporter) getCSS() string {
	return `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            line-height: 1.6;
        }
        body.dark-theme { background: #1a1b26; color: #c0caf5; }
        body.light-theme { background: #fafafa; color: #24292e; }
        .container { max-width: 860px; margin: 0 auto; padding: 2rem 1rem; }
        .header { margin-bottom: 2rem; padding-bottom: 1rem; border-bottom: 1px solid rgba(128,128,128,0.3); }
        .header h1 { font-size: 1.5rem; margin-bottom: 0.5rem; }
        .metadata { display: flex; flex-wrap: wrap; gap: 1rem; font-size: 0.85rem; opacity: 0.8; }
        .message { margin-bottom: 1.5rem; border-radius: 8px; padding: 1rem; }
        .dark-theme .user-message { background: #24283b; }
        .dark-theme .assistant-message { background: #1f2335; }
        .dark-theme .system-message { background: #292e42; font-style: italic; }
        .light-theme .user-message { background: #eef2f7; }
        .light-theme .assistant-message { background: #f6f8fa; }
        .light-theme .system-message { background: #fff8e6; font-style: italic; }
        .message-header { display: flex; justify-content: space-between; margin-bottom: 0.5rem; }
        .role-label { font-weight: 600; font-size: 0.9rem; }
        .timestamp { font-size: 0.8rem; opacity: 0.6; }
        .message-content p { margin-bottom: 0.75rem; }
        .message-content pre { border-radius: 6px; padding: 0.75rem; overflow-x: auto; margin-bottom: 0.75rem; }
        .message-error { margin-top: 0.5rem; padding: 0.5rem 0.75rem; border-radius: 6px;
            background: rgba(220, 50, 47, 0.15); color: #f7768e; font-size: 0.9rem; }
        .light-theme .message-error { color: #b31d28; }
        .footer { margin-top: 2rem; padding-top: 1rem; border-top: 1px solid rgba(128,128,128,0.3);
            font-size: 0.85rem; opacity: 0.7; text-align: center; }
    </style>
`
}
