// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/retrieval"
)

// =============================================================================
// ASSEMBLER TYPES
// =============================================================================

// Response mode values accepted by the assembler and the HTTP boundary.
const (
	ResponseModeShort    = "short"
	ResponseModeDetailed = "detailed"
)

// Chain-of-thought directive levels.
const (
	ChainOfThoughtNone     = "none"
	ChainOfThoughtShort    = "short"
	ChainOfThoughtDetailed = "detailed"
)

// Defaults for retrieval when the caller leaves them zero.
const (
	DefaultRAGMaxDocuments = 3
	DefaultRAGMinScore     = 0.3
)

// Searcher is the knowledge lookup used for the retrieved-knowledge block.
type Searcher interface {
	Search(query string, limit int, minScore float64) []retrieval.SearchResult
}

// AssembleOptions are the runtime options for one assembly.
type AssembleOptions struct {
	// UserName, when set, adds a personalization clause.
	UserName string

	// ResponseMode is "short" or "detailed"; it shapes the length
	// directive and the few-shot examples.
	ResponseMode string

	// ChainOfThought is "none", "short", or "detailed". A non-none value
	// replaces the response-length directive for that turn.
	ChainOfThought string

	// UseRAG enables the retrieved-knowledge block.
	UseRAG          bool
	RAGMaxDocuments int
	RAGMinScore     float64

	// Language, when a valid BCP 47 tag, pins the response language;
	// otherwise the model is told to mirror the user's language.
	Language string

	// Trim controls the history-bounding stage.
	Trim TrimOptions
}

// normalized fills zero fields with defaults.
func (o AssembleOptions) normalized() AssembleOptions {
	if o.ResponseMode == "" {
		o.ResponseMode = ResponseModeDetailed
	}
	if o.ChainOfThought == "" {
		o.ChainOfThought = ChainOfThoughtNone
	}
	if o.RAGMaxDocuments <= 0 {
		o.RAGMaxDocuments = DefaultRAGMaxDocuments
	}
	if o.RAGMinScore <= 0 {
		o.RAGMinScore = DefaultRAGMinScore
	}
	o.Trim = o.Trim.normalized()
	return o
}

// Assembler builds the bounded message sequence for one submission.
type Assembler struct {
	searcher   Searcher
	summarizer *Summarizer
}

// NewAssembler creates an assembler. searcher may be nil when retrieval is
// disabled; summarizer may be nil, in which case the summarize strategy
// degrades to its count fallback.
func NewAssembler(searcher Searcher, summarizer *Summarizer) *Assembler {
	if summarizer == nil {
		summarizer = NewSummarizer(nil)
	}
	return &Assembler{searcher: searcher, summarizer: summarizer}
}

// =============================================================================
// ASSEMBLY
// =============================================================================

// Assemble builds the system message, prepends it to history, and bounds
// the result per the trimming strategy. The returned sequence is ready to
// submit. The only network call is the summarize strategy's, and that
// failure is recovered internally, so Assemble itself cannot fail.
func (a *Assembler) Assemble(ctx context.Context, history []*model.Message, opts AssembleOptions) []*model.Message {
	opts = opts.normalized()

	system := model.NewSystemMessage(a.buildSystemPrompt(history, opts))
	messages := make([]*model.Message, 0, len(history)+1)
	messages = append(messages, system)
	messages = append(messages, history...)

	if opts.Trim.Strategy == StrategySummarize {
		return a.summarizer.SummarizeAndTrim(ctx, messages, opts.Trim)
	}
	return Trim(messages, opts.Trim)
}

// buildSystemPrompt composes the persona, directives, examples, knowledge
// block, and personalization clause in fixed order.
func (a *Assembler) buildSystemPrompt(history []*model.Message, opts AssembleOptions) string {
	var sb strings.Builder

	sb.WriteString(personaPrompt)
	sb.WriteString("\n\n")
	sb.WriteString(languageDirective(opts.Language))

	// Chain-of-thought and response-length directives are mutually
	// exclusive for a turn.
	if opts.ChainOfThought != ChainOfThoughtNone {
		sb.WriteString("\n\n")
		sb.WriteString(chainOfThoughtDirective(opts.ChainOfThought))
	} else {
		sb.WriteString("\n\n")
		sb.WriteString(responseModeDirective(opts.ResponseMode))
	}

	sb.WriteString("\n\n")
	sb.WriteString(fewShotExamples(opts.ResponseMode))

	if opts.UseRAG && a.searcher != nil {
		if block := a.knowledgeBlock(history, opts); block != "" {
			sb.WriteString("\n\n")
			sb.WriteString(block)
		}
	}

	if opts.UserName != "" {
		sb.WriteString("\n\n")
		sb.WriteString(fmt.Sprintf("The user's name is %s. Address them by name when it feels natural.", opts.UserName))
	}

	return sb.String()
}

// knowledgeBlock retrieves documents matching the most recent user message
// and formats them with a priority instruction. Empty when nothing scores
// above the floor.
func (a *Assembler) knowledgeBlock(history []*model.Message, opts AssembleOptions) string {
	query := lastUserContent(history)
	if query == "" {
		return ""
	}

	results := a.searcher.Search(query, opts.RAGMaxDocuments, opts.RAGMinScore)
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Relevant knowledge base articles:\n")
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("\n### %s\n%s\n", r.Document.Title, r.Document.Content))
	}
	sb.WriteString("\nWhen answering, prioritize the knowledge above over your general knowledge.")
	return sb.String()
}

// lastUserContent returns the newest user message's content, or empty.
func lastUserContent(history []*model.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			return history[i].GetDisplayContent()
		}
	}
	return ""
}

// =============================================================================
// PROMPT FRAGMENTS
// =============================================================================

// personaPrompt is the fixed persona every submission starts from.
const personaPrompt = "You are a helpful, knowledgeable assistant for a conversational chat application. " +
	"Be accurate and direct. When you are not sure about something, say so instead of guessing."

// languageDirective pins the response language when tag is a valid BCP 47
// tag, and mirrors the user's language otherwise.
func languageDirective(tag string) string {
	if tag != "" {
		if parsed, err := language.Parse(tag); err == nil {
			return fmt.Sprintf("Always respond in %s.", display.English.Tags().Name(parsed))
		}
	}
	return "Respond in the same language the user writes in."
}

// responseModeDirective is the length guidance applied when no
// chain-of-thought directive is active.
func responseModeDirective(mode string) string {
	if mode == ResponseModeShort {
		return "Keep responses short: answer in one or two sentences unless the question truly requires more."
	}
	return "Give detailed responses: explain your answer, include relevant background, and structure longer answers with short paragraphs."
}

// chainOfThoughtDirective is the reasoning-style guidance for non-none modes.
func chainOfThoughtDirective(mode string) string {
	if mode == ChainOfThoughtShort {
		return "Before the final answer, show your reasoning as a brief bullet list, then state the answer on its own line."
	}
	return "Work through the problem step by step, numbering each step and stating what you conclude from it, before giving the final answer."
}

// fewShotExamples returns style examples matched to the response mode.
func fewShotExamples(mode string) string {
	if mode == ResponseModeShort {
		return "Example exchange:\n" +
			"User: What is HTTP?\n" +
			"Assistant: HTTP is the protocol browsers and servers use to exchange web pages and data."
	}
	return "Example exchange:\n" +
		"User: What is HTTP?\n" +
		"Assistant: HTTP (Hypertext Transfer Protocol) is the application-level protocol the web is built on. " +
		"A client sends a request naming a method and a resource, and the server returns a status code, headers, and usually a body. " +
		"It is stateless by design, which is why cookies and tokens exist to carry session state across requests."
}
