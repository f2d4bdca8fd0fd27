// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

// =============================================================================
// DOCUMENT TYPE
// =============================================================================

// Document is one entry in the static read-only corpus.
type Document struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
	Content string   `json:"content"`
}

// SearchResult pairs a document with its relevance score for one query.
// Transient; never persisted.
type SearchResult struct {
	Document *Document `json:"document"`
	Score    float64   `json:"score"`
}

// =============================================================================
// BUILT-IN CORPUS
// =============================================================================

// corpus is the fixed document set the stub searches. Read-only after init.
var corpus = []*Document{
	{
		ID:    "doc-rag",
		Title: "Retrieval-Augmented Generation (RAG)",
		Tags:  []string{"rag", "retrieval", "context"},
		Content: "Retrieval-augmented generation injects retrieved document text " +
			"into the system context before generation. The model is instructed to " +
			"prioritize the retrieved knowledge over its general training data, which " +
			"reduces hallucination on domain questions.",
	},
	{
		ID:    "doc-context-window",
		Title: "Context windows and token budgets",
		Tags:  []string{"tokens", "context", "trimming"},
		Content: "Language models accept a bounded number of tokens per request. " +
			"Long conversations must be trimmed or summarized to fit the budget, " +
			"keeping the system instruction and the most recent turns intact.",
	},
	{
		ID:    "doc-streaming",
		Title: "Streaming responses",
		Tags:  []string{"streaming", "sse"},
		Content: "Streaming delivers a response incrementally as server-sent event " +
			"frames. Each frame carries a content delta that is appended to the " +
			"visible message in arrival order until a done marker arrives.",
	},
	{
		ID:    "doc-caching",
		Title: "Response caching",
		Tags:  []string{"cache", "performance"},
		Content: "Completed responses can be cached under a fingerprint of the " +
			"request inputs. A cache hit skips the completion call entirely, " +
			"returning the stored answer until its time-to-live expires.",
	},
	{
		ID:    "doc-rate-limits",
		Title: "Rate limiting",
		Tags:  []string{"throttling", "limits"},
		Content: "Request throttling bounds how many completions a single client " +
			"may issue inside a time window. Rejected requests report how long to " +
			"wait before retrying.",
	},
	{
		ID:    "doc-prompting",
		Title: "Prompting styles and chain of thought",
		Tags:  []string{"prompting", "reasoning"},
		Content: "A chain-of-thought directive asks the model to show step-by-step " +
			"reasoning before its answer. Short mode requests brief bullet reasoning; " +
			"detailed mode requests explicit multi-step working.",
	},
}

// Corpus returns the built-in document set. Callers must not mutate it.
func Corpus() []*Document {
	return corpus
}
