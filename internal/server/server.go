// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/cache"
	"github.com/jeranaias/rigchat/internal/cloud"
	"github.com/jeranaias/rigchat/internal/config"
	chatctx "github.com/jeranaias/rigchat/internal/context"
	"github.com/jeranaias/rigchat/internal/export"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/stream"
	"github.com/jeranaias/rigchat/internal/telemetry"
	"github.com/jeranaias/rigchat/internal/throttle"
	"github.com/jeranaias/rigchat/internal/util"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxQueryLength is the maximum length for a single message content.
	MaxQueryLength = 100000

	// MaxMessageCount is the maximum number of messages in a request.
	MaxMessageCount = 100

	// MaxRequestBodySize caps the request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxTokensLimit is the maximum value for the max_tokens parameter.
	MaxTokensLimit = 128000

	// MinTemperature and MaxTemperature bound the temperature parameter.
	MinTemperature = 0.0
	MaxTemperature = 2.0

	// Version is the server version.
	Version = "0.1.0"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks server usage counters.
type ServerStats struct {
	mu sync.Mutex

	totalRequests    int64
	cacheHits        int64
	streamedRequests int64
	providerRequests int64
	totalTokens      int64
	startTime        time.Time
}

// NewServerStats creates a new ServerStats instance.
func NewServerStats() *ServerStats {
	return &ServerStats{startTime: time.Now()}
}

// RecordRequest records one completed chat request.
func (s *ServerStats) RecordRequest(streamed, cacheHit bool, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++
	s.totalTokens += int64(tokens)
	switch {
	case cacheHit:
		s.cacheHits++
	case streamed:
		s.streamedRequests++
		s.providerRequests++
	default:
		s.providerRequests++
	}
}

// StatsSnapshot is a copy of the current counters.
type StatsSnapshot struct {
	TotalRequests    int64     `json:"total_requests"`
	CacheHits        int64     `json:"cache_hits"`
	StreamedRequests int64     `json:"streamed_requests"`
	ProviderRequests int64     `json:"provider_requests"`
	TotalTokens      int64     `json:"total_tokens"`
	StartTime        time.Time `json:"start_time"`
}

// Snapshot returns a copy of the current stats.
func (s *ServerStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StatsSnapshot{
		TotalRequests:    s.totalRequests,
		CacheHits:        s.cacheHits,
		StreamedRequests: s.streamedRequests,
		ProviderRequests: s.providerRequests,
		TotalTokens:      s.totalTokens,
		StartTime:        s.startTime,
	}
}

// Uptime returns the server uptime.
func (s *ServerStats) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API server. Construct with NewServer, attach shared
// stores with the With* setters, then call Start or Handler.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server

	provider *cloud.Client
	sessions *session.Manager
	pipeline *chatctx.Assembler
	cache    *cache.ResponseCache
	limiter  *throttle.Limiter
	metrics  *telemetry.MetricsStore
	errorLog *telemetry.ErrorStore
	store    *storage.Store
	stats    *ServerStats
	cors     *CORSConfig
}

// NewServer creates a Server around the given configuration.
func NewServer(cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Server{
		cfg:      cfg,
		stats:    NewServerStats(),
		cors:     DefaultCORSConfig(),
		limiter:  throttle.NewLimiter(cfg.Throttle.MaxRequests, time.Duration(cfg.Throttle.WindowSecs)*time.Second),
		metrics:  telemetry.NewMetricsStore(cfg.Telemetry.Capacity),
		errorLog: telemetry.NewErrorStore(cfg.Telemetry.Capacity),
	}
}

// WithProvider sets the completion provider client.
func (s *Server) WithProvider(client *cloud.Client) *Server {
	s.provider = client
	return s
}

// WithSessions sets the session manager.
func (s *Server) WithSessions(m *session.Manager) *Server {
	s.sessions = m
	return s
}

// WithPipeline sets the context assembler.
func (s *Server) WithPipeline(a *chatctx.Assembler) *Server {
	s.pipeline = a
	return s
}

// WithCache sets the response cache.
func (s *Server) WithCache(c *cache.ResponseCache) *Server {
	s.cache = c
	return s
}

// WithLimiter replaces the default request limiter.
func (s *Server) WithLimiter(l *throttle.Limiter) *Server {
	s.limiter = l
	return s
}

// WithTelemetry sets the metrics and error stores.
func (s *Server) WithTelemetry(m *telemetry.MetricsStore, e *telemetry.ErrorStore) *Server {
	s.metrics = m
	s.errorLog = e
	return s
}

// WithStore sets the persistence layer.
func (s *Server) WithStore(store *storage.Store) *Server {
	s.store = store
	return s
}

// Handler builds the full handler: routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// The chat endpoint additionally carries the per-client rate limit.
	mux.Handle("POST /v1/chat/completions",
		RateLimitMiddleware(s.limiter)(http.HandlerFunc(s.handleChatCompletions)))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /v1/metrics", s.handleMetrics)
	mux.HandleFunc("GET /v1/errors", s.handleErrors)
	mux.HandleFunc("GET /cache/stats", s.handleCacheStats)
	mux.HandleFunc("POST /cache/clear", s.handleCacheClear)
	mux.HandleFunc("GET /v1/conversations/{id}/export", s.handleExport)
	mux.HandleFunc("GET /v1/conversations/{id}/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /v1/conversations/{id}/preferences", s.handlePutPreferences)

	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.cors),
		LoggingMiddleware(log.Default()),
	)(mux)
}

// ============================================================================
// REQUEST AND RESPONSE TYPES
// ============================================================================

// ChatMessage is one message in a stateless completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the chat completion request body.
//
// Two modes: session mode sends conversation_id plus message, and the
// server supplies history; stateless mode sends the full messages array.
type ChatCompletionRequest struct {
	ConversationID string        `json:"conversation_id,omitempty"`
	Message        string        `json:"message,omitempty"`
	Messages       []ChatMessage `json:"messages,omitempty"`

	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Per-request preference overrides.
	UserName       string `json:"user_name,omitempty"`
	ResponseMode   string `json:"response_mode,omitempty"`
	ChainOfThought string `json:"chain_of_thought,omitempty"`
	UseRAG         *bool  `json:"use_rag,omitempty"`
	Language       string `json:"language,omitempty"`
}

// ChatChoice is a single choice in the completion response.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage contains token usage information.
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

// ChatCompletionResponse is the non-streaming completion response.
type ChatCompletionResponse struct {
	ID             string       `json:"id"`
	Object         string       `json:"object"`
	Created        int64        `json:"created"`
	Model          string       `json:"model"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Choices        []ChatChoice `json:"choices"`
	Usage          Usage        `json:"usage"`
}

// StreamDelta is the incremental payload inside a streaming chunk.
type StreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// StreamChoice is a single choice in a streaming chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamChunk is a single chunk in a streaming response.
type StreamChunk struct {
	ID             string         `json:"id"`
	Object         string         `json:"object"`
	Created        int64          `json:"created"`
	Model          string         `json:"model"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Choices        []StreamChoice `json:"choices"`
}

// ============================================================================
// VALIDATION
// ============================================================================

// validateRequest enforces the request limits. Returns a client-safe
// message on failure.
func validateRequest(req *ChatCompletionRequest) error {
	if req.Message == "" && len(req.Messages) == 0 {
		return fmt.Errorf("request must contain a message")
	}
	if len(req.Messages) > MaxMessageCount {
		return fmt.Errorf("too many messages: maximum is %d", MaxMessageCount)
	}
	if len(req.Message) > MaxQueryLength {
		return fmt.Errorf("message exceeds maximum length of %d", MaxQueryLength)
	}
	for i, msg := range req.Messages {
		if !model.Role(msg.Role).Valid() {
			return fmt.Errorf("invalid role %q at message %d: must be one of user, assistant, system", msg.Role, i)
		}
		if len(msg.Content) > MaxQueryLength {
			return fmt.Errorf("message %d exceeds maximum length of %d", i, MaxQueryLength)
		}
	}
	if req.MaxTokens < 0 || req.MaxTokens > MaxTokensLimit {
		return fmt.Errorf("max_tokens must be between 0 and %d", MaxTokensLimit)
	}
	if req.Temperature < MinTemperature || req.Temperature > MaxTemperature {
		return fmt.Errorf("temperature must be between %.1f and %.1f", MinTemperature, MaxTemperature)
	}
	return nil
}

// ============================================================================
// CHAT COMPLETIONS
// ============================================================================

// handleChatCompletions handles POST /v1/chat/completions.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		log.Printf("REQUEST_DECODE_FAILED | err=%v", err)
		s.writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	if err := validateRequest(&req); err != nil {
		s.recordError(model.ErrKindValidation, err.Error(), r.URL.Path)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.provider == nil || !s.provider.IsConfigured() {
		s.writeError(w, http.StatusServiceUnavailable, "completion provider not configured")
		return
	}

	// Session mode: the server owns history and guards against interleaved
	// submissions on one conversation.
	sessionMode := req.Message != ""
	var convID string
	if sessionMode {
		if s.sessions == nil {
			s.writeError(w, http.StatusServiceUnavailable, "sessions not configured")
			return
		}
		id, err := s.sessions.GetOrCreate(r.Context(), req.ConversationID)
		if err != nil {
			log.Printf("SESSION_OPEN_FAILED | id=%s err=%v", req.ConversationID, err)
			s.writeError(w, http.StatusInternalServerError, "could not open conversation")
			return
		}
		convID = id

		if err := s.sessions.BeginSubmission(convID); err != nil {
			s.writeError(w, http.StatusConflict, "a response is already being generated for this conversation")
			return
		}
		defer s.sessions.EndSubmission(convID)

		if err := s.sessions.AppendMessage(convID, model.NewUserMessage(req.Message)); err != nil {
			s.writeError(w, http.StatusInternalServerError, "could not record message")
			return
		}
	}

	history, err := s.requestHistory(&req, convID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "could not load conversation history")
		return
	}

	opts := s.assembleOptions(&req, convID)
	assembled := s.pipeline.Assemble(r.Context(), history, opts)

	if req.Stream {
		s.completeStreaming(w, r, &req, convID, assembled, opts)
	} else {
		s.completeBlocking(w, r, &req, convID, assembled, opts)
	}
}

// requestHistory resolves the message history for a request.
func (s *Server) requestHistory(req *ChatCompletionRequest, convID string) ([]*model.Message, error) {
	if convID != "" {
		return s.sessions.History(convID)
	}
	history := make([]*model.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		history = append(history, model.NewMessage(model.Role(m.Role), m.Content))
	}
	return history, nil
}

// assembleOptions merges stored preferences with per-request overrides and
// the configured pipeline settings.
func (s *Server) assembleOptions(req *ChatCompletionRequest, convID string) chatctx.AssembleOptions {
	prefs := storage.DefaultPreferences()
	if convID != "" {
		if p, err := s.sessions.Preferences(convID); err == nil {
			prefs = p
		}
	}

	if req.UserName != "" {
		prefs.UserName = req.UserName
	}
	if req.ResponseMode != "" {
		prefs.ResponseMode = req.ResponseMode
	}
	if req.ChainOfThought != "" {
		prefs.ChainOfThought = req.ChainOfThought
	}
	if req.UseRAG != nil {
		prefs.UseRAG = *req.UseRAG
	}
	if req.Language != "" {
		prefs.Language = req.Language
	}

	// Stateless requests without an explicit flag follow the server-wide
	// retrieval default; session requests follow stored preferences.
	useRAG := prefs.UseRAG
	if req.UseRAG == nil && convID == "" {
		useRAG = s.cfg.Retrieval.Enabled
	}

	ctxCfg := s.cfg.Context
	return chatctx.AssembleOptions{
		UserName:        prefs.UserName,
		ResponseMode:    prefs.ResponseMode,
		ChainOfThought:  prefs.ChainOfThought,
		UseRAG:          useRAG,
		RAGMaxDocuments: s.cfg.Retrieval.MaxDocuments,
		RAGMinScore:     s.cfg.Retrieval.MinScore,
		Language:        prefs.Language,
		Trim: chatctx.TrimOptions{
			Strategy:           chatctx.Strategy(ctxCfg.Strategy),
			MaxTokens:          ctxCfg.MaxTokens,
			KeepSystemMessage:  ctxCfg.KeepSystemMessage,
			KeepFirstMessages:  ctxCfg.KeepFirstMessages,
			SummarizeThreshold: ctxCfg.SummarizeThreshold,
			MaxSummaryTokens:   ctxCfg.MaxSummaryTokens,
		},
	}
}

// completionParams resolves temperature and max_tokens, falling back to the
// configured provider defaults.
func (s *Server) completionParams(req *ChatCompletionRequest) (float64, int) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = s.cfg.Provider.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.cfg.Provider.MaxTokens
	}
	return temperature, maxTokens
}

// lastUserContent returns the newest user message content in the request.
func lastUserContent(req *ChatCompletionRequest) string {
	if req.Message != "" {
		return req.Message
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

// completeBlocking handles the non-streaming path, including the response
// cache.
func (s *Server) completeBlocking(w http.ResponseWriter, r *http.Request, req *ChatCompletionRequest, convID string, assembled []*model.Message, opts chatctx.AssembleOptions) {
	start := time.Now()

	fingerprint := cache.FingerprintInputs{
		LastUserMessage: lastUserContent(req),
		UserName:        opts.UserName,
		ResponseMode:    opts.ResponseMode,
		ChainOfThought:  opts.ChainOfThought,
	}

	if s.cacheEnabled() {
		if response, ok := s.cache.Get(fingerprint); ok {
			log.Printf("CACHE_HIT | query=%s latency=%dms",
				util.TruncateWidth(util.FirstLine(fingerprint.LastUserMessage), 50),
				time.Since(start).Milliseconds())

			s.stats.RecordRequest(false, true, 0)
			s.recordMetric(telemetry.MetricEntry{
				Timestamp: time.Now(),
				Model:     "cache",
				CacheHit:  true,
				Latency:   time.Since(start),
				Success:   true,
			})
			s.finishAssistantTurn(convID, response, 0)
			s.writeJSON(w, http.StatusOK, s.completionResponse(req, convID, "cache", response, 0))
			return
		}
	}

	temperature, maxTokens := s.completionParams(req)
	resp, err := s.provider.ChatWithOptions(r.Context(), cloud.FromConversation(assembled), temperature, maxTokens)
	if err != nil {
		s.failRequest(w, r, convID, err)
		return
	}

	content := resp.GetContent()
	tokens := resp.Usage.TotalTokens

	if s.cacheEnabled() && content != "" {
		s.cache.Set(fingerprint, content, 0)
	}

	s.stats.RecordRequest(false, false, tokens)
	s.recordMetric(telemetry.MetricEntry{
		Timestamp:   time.Now(),
		Model:       s.provider.Model(),
		TotalTokens: tokens,
		Latency:     time.Since(start),
		Success:     true,
	})
	s.finishAssistantTurn(convID, content, tokens)

	log.Printf("REQUEST_COMPLETE | model=%s tokens=%d latency=%dms",
		s.provider.Model(), tokens, time.Since(start).Milliseconds())

	s.writeJSON(w, http.StatusOK, s.completionResponse(req, convID, s.provider.Model(), content, tokens))
}

// completeStreaming handles the SSE path. Stream frames are re-encoded as
// chat.completion.chunk objects for the browser.
func (s *Server) completeStreaming(w http.ResponseWriter, r *http.Request, req *ChatCompletionRequest, convID string, assembled []*model.Message, opts chatctx.AssembleOptions) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	start := time.Now()
	responseID := newResponseID()
	created := time.Now().Unix()

	// Opening chunk announces the assistant role.
	s.sendChunk(w, flusher, StreamChunk{
		ID: responseID, Object: "chat.completion.chunk", Created: created,
		Model: s.provider.Model(), ConversationID: convID,
		Choices: []StreamChoice{{Delta: StreamDelta{Role: "assistant"}}},
	})

	msg := model.NewAssistantMessage()
	onContent := func(delta string) {
		s.sendChunk(w, flusher, StreamChunk{
			ID: responseID, Object: "chat.completion.chunk", Created: created,
			Model: s.provider.Model(), ConversationID: convID,
			Choices: []StreamChoice{{Delta: StreamDelta{Content: delta}}},
		})
	}

	temperature, maxTokens := s.completionParams(req)
	state, err := s.provider.Stream(r.Context(), cloud.FromConversation(assembled), temperature, maxTokens, msg, onContent)

	switch state {
	case stream.StateCompleted:
		finish := "stop"
		s.sendChunk(w, flusher, StreamChunk{
			ID: responseID, Object: "chat.completion.chunk", Created: created,
			Model: s.provider.Model(), ConversationID: convID,
			Choices: []StreamChoice{{FinishReason: &finish}},
		})
		fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()

		s.stats.RecordRequest(true, false, msg.TokenCount)
		s.recordMetric(telemetry.MetricEntry{
			Timestamp:   time.Now(),
			Model:       s.provider.Model(),
			Streamed:    true,
			TotalTokens: msg.TokenCount,
			Latency:     time.Since(start),
			Success:     true,
		})
		s.appendAssistantMessage(convID, msg)

	case stream.StateCancelled:
		// Client went away; keep whatever streamed so the transcript
		// matches what the browser showed.
		log.Printf("STREAM_CANCELLED | conversation=%s err=%v", convID, err)
		s.appendAssistantMessage(convID, msg)

	default:
		info := msg.Error
		if info == nil {
			info = cloud.ErrorInfo(err)
		}
		log.Printf("STREAM_FAILED | conversation=%s kind=%s err=%v", convID, info.Kind, err)
		s.recordError(info.Kind, info.Message, r.URL.Path)
		s.recordMetric(telemetry.MetricEntry{
			Timestamp: time.Now(),
			Model:     s.provider.Model(),
			Streamed:  true,
			Latency:   time.Since(start),
			Success:   false,
		})
		s.sendStreamError(w, flusher, info)
		s.appendAssistantMessage(convID, msg)
	}
}

// sendChunk sends a single SSE chunk.
func (s *Server) sendChunk(w http.ResponseWriter, flusher http.Flusher, chunk StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// StreamErrorFrame is the terminal error frame: a flat body so stream
// consumers can parse it the same way as content frames.
type StreamErrorFrame struct {
	Error      string `json:"error"`
	Type       string `json:"type"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// sendStreamError emits a terminal error frame followed by [DONE].
func (s *Server) sendStreamError(w http.ResponseWriter, flusher http.Flusher, info *model.ErrorInfo) {
	frame := StreamErrorFrame{
		Error:      info.Message,
		Type:       info.Kind.String(),
		RetryAfter: info.RetryAfterSeconds,
	}
	data, _ := json.Marshal(frame)
	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// failRequest maps a provider error onto an HTTP response and records it.
func (s *Server) failRequest(w http.ResponseWriter, r *http.Request, convID string, err error) {
	info := cloud.ErrorInfo(err)
	log.Printf("REQUEST_FAILED | conversation=%s kind=%s err=%v", convID, info.Kind, err)

	s.recordError(info.Kind, info.Message, r.URL.Path)
	s.recordMetric(telemetry.MetricEntry{
		Timestamp: time.Now(),
		Model:     s.provider.Model(),
		Success:   false,
	})

	status := statusForKind(info.Kind)
	if status == http.StatusTooManyRequests && info.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", info.RetryAfterSeconds))
	}
	s.writeError(w, status, info.Message)
}

// statusForKind maps the error taxonomy onto HTTP statuses.
func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.ErrKindRateLimit:
		return http.StatusTooManyRequests
	case model.ErrKindValidation, model.ErrKindModeration:
		return http.StatusBadRequest
	case model.ErrKindServer, model.ErrKindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// finishAssistantTurn records a completed non-streamed assistant message on
// the session, if one is involved.
func (s *Server) finishAssistantTurn(convID, content string, tokens int) {
	if convID == "" {
		return
	}
	msg := model.NewMessage(model.RoleAssistant, content)
	msg.TokenCount = tokens
	s.appendAssistantMessage(convID, msg)
}

// appendAssistantMessage appends to the session and persists best-effort.
func (s *Server) appendAssistantMessage(convID string, msg *model.Message) {
	if convID == "" || s.sessions == nil {
		return
	}
	if err := s.sessions.AppendMessage(convID, msg); err != nil {
		log.Printf("SESSION_APPEND_FAILED | conversation=%s err=%v", convID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sessions.Persist(ctx, convID); err != nil {
		log.Printf("SESSION_PERSIST_FAILED | conversation=%s err=%v", convID, err)
	}
}

// completionResponse builds the non-streaming response body.
func (s *Server) completionResponse(req *ChatCompletionRequest, convID, modelName, content string, tokens int) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:             newResponseID(),
		Object:         "chat.completion",
		Created:        time.Now().Unix(),
		Model:          modelName,
		ConversationID: convID,
		Choices: []ChatChoice{{
			Message:      ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: Usage{TotalTokens: tokens},
	}
}

func (s *Server) cacheEnabled() bool {
	return s.cache != nil && s.cfg.Cache.Enabled
}

func (s *Server) recordMetric(entry telemetry.MetricEntry) {
	if s.metrics != nil {
		s.metrics.Record(entry)
	}
}

func (s *Server) recordError(kind model.ErrorKind, message, path string) {
	if s.errorLog != nil {
		s.errorLog.Record(telemetry.ErrorEntry{
			Timestamp: time.Now(),
			Kind:      kind,
			// Provider error bodies can be arbitrarily long; store them
			// verbatim but bounded.
			Message: util.TruncateRunesNoEllipsis(message, 500),
			Path:    path,
		})
	}
}

// ============================================================================
// HEALTH AND STATS
// ============================================================================

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ProviderStatus string `json:"provider_status"`
	StorageStatus  string `json:"storage_status"`
	CacheEnabled   bool   `json:"cache_enabled"`
	CacheEntries   int    `json:"cache_entries"`
	ActiveSessions int    `json:"active_sessions"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:  "ok",
		Version: Version,
	}

	if s.provider != nil && s.provider.IsConfigured() {
		health.ProviderStatus = "configured"
	} else {
		health.ProviderStatus = "not_configured"
		health.Status = "degraded"
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err == nil {
			health.StorageStatus = "ok"
		} else {
			health.StorageStatus = "unavailable"
			health.Status = "degraded"
		}
	} else {
		health.StorageStatus = "not_configured"
	}

	if s.cacheEnabled() {
		health.CacheEnabled = true
		health.CacheEntries = s.cache.Size()
	}
	if s.sessions != nil {
		health.ActiveSessions = s.sessions.GetStats().Active
	}

	s.writeJSON(w, http.StatusOK, health)
}

// StatsResponse is the usage statistics response body.
type StatsResponse struct {
	StatsSnapshot
	UptimeSeconds   int64   `json:"uptime_seconds"`
	CacheHitRate    float64 `json:"cache_hit_rate_percent"`
	ActiveSessions  int     `json:"active_sessions"`
	SessionsCreated int     `json:"sessions_created"`
	SessionsReaped  int     `json:"sessions_reaped"`
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snapshot := s.stats.Snapshot()

	var hitRate float64
	if snapshot.TotalRequests > 0 {
		hitRate = float64(snapshot.CacheHits) / float64(snapshot.TotalRequests) * 100
	}

	resp := StatsResponse{
		StatsSnapshot: snapshot,
		UptimeSeconds: int64(s.stats.Uptime().Seconds()),
		CacheHitRate:  hitRate,
	}
	if s.sessions != nil {
		sessStats := s.sessions.GetStats()
		resp.ActiveSessions = sessStats.Active
		resp.SessionsCreated = sessStats.TotalCreated
		resp.SessionsReaped = sessStats.TotalReaped
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleMetrics handles GET /v1/metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	entries := []telemetry.MetricEntry{}
	if s.metrics != nil {
		entries = s.metrics.Snapshot()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"metrics": entries,
	})
}

// handleErrors handles GET /v1/errors.
func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	entries := []telemetry.ErrorEntry{}
	if s.errorLog != nil {
		entries = s.errorLog.Snapshot()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(entries),
		"errors": entries,
	})
}

// ============================================================================
// CACHE ENDPOINTS
// ============================================================================

// CacheStatsResponse is the cache statistics response body.
type CacheStatsResponse struct {
	Enabled bool    `json:"enabled"`
	Entries int     `json:"entries"`
	Hits    int     `json:"hits"`
	Misses  int     `json:"misses"`
	HitRate float64 `json:"hit_rate_percent"`
}

// handleCacheStats handles GET /cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeJSON(w, http.StatusOK, CacheStatsResponse{Enabled: false})
		return
	}

	stats := s.cache.Stats()
	var hitRate float64
	if total := stats.Hits + stats.Misses; total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}

	s.writeJSON(w, http.StatusOK, CacheStatsResponse{
		Enabled: s.cfg.Cache.Enabled,
		Entries: stats.Entries,
		Hits:    stats.Hits,
		Misses:  stats.Misses,
		HitRate: hitRate,
	})
}

// handleCacheClear handles POST /cache/clear.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"status":  "error",
			"message": "cache not configured",
		})
		return
	}

	s.cache.Clear()
	log.Printf("CACHE_CLEARED | client=%s", ClientID(r))

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "cache cleared",
	})
}

// ============================================================================
// EXPORT
// ============================================================================

// handleExport handles GET /v1/conversations/{id}/export.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "missing conversation id")
		return
	}

	snapshot := s.lookupConversation(r.Context(), id)
	if snapshot == nil {
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	exporter, err := export.ForFormat(r.URL.Query().Get("format"), nil)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	content, err := exporter.Export(snapshot)
	if err != nil {
		log.Printf("EXPORT_FAILED | conversation=%s err=%v", id, err)
		s.writeError(w, http.StatusUnprocessableEntity, "conversation could not be exported")
		return
	}

	filename := fmt.Sprintf("conversation_%s%s", id, exporter.FileExtension())
	w.Header().Set("Content-Type", exporter.MimeType()+"; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

// ============================================================================
// PREFERENCES
// ============================================================================

// maxPreferencesBodySize bounds the PUT preferences body.
const maxPreferencesBodySize = 16 * 1024

// handleGetPreferences handles GET /v1/conversations/{id}/preferences.
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "sessions are not available")
		return
	}

	prefs, err := s.sessions.Preferences(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, prefs)
}

// handlePutPreferences handles PUT /v1/conversations/{id}/preferences.
func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "sessions are not available")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPreferencesBodySize)
	var prefs storage.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	if err := validatePreferences(&prefs); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	if err := s.sessions.SetPreferences(id, prefs); err != nil {
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sessions.Persist(ctx, id); err != nil {
		log.Printf("SESSION_PERSIST_FAILED | conversation=%s err=%v", id, err)
	}

	log.Printf("PREFERENCES_UPDATED | conversation=%s mode=%s cot=%s", id, prefs.ResponseMode, prefs.ChainOfThought)
	s.writeJSON(w, http.StatusOK, prefs)
}

// validatePreferences fills empty mode fields with defaults and rejects
// unknown values.
func validatePreferences(prefs *storage.Preferences) error {
	defaults := storage.DefaultPreferences()
	if prefs.ResponseMode == "" {
		prefs.ResponseMode = defaults.ResponseMode
	}
	if prefs.ChainOfThought == "" {
		prefs.ChainOfThought = defaults.ChainOfThought
	}

	switch prefs.ResponseMode {
	case chatctx.ResponseModeShort, chatctx.ResponseModeDetailed:
	default:
		return fmt.Errorf("response_mode must be %q or %q", chatctx.ResponseModeShort, chatctx.ResponseModeDetailed)
	}
	switch prefs.ChainOfThought {
	case chatctx.ChainOfThoughtNone, chatctx.ChainOfThoughtShort, chatctx.ChainOfThoughtDetailed:
	default:
		return fmt.Errorf("chain_of_thought must be %q, %q, or %q",
			chatctx.ChainOfThoughtNone, chatctx.ChainOfThoughtShort, chatctx.ChainOfThoughtDetailed)
	}
	if len(prefs.UserName) > 100 {
		return fmt.Errorf("user_name exceeds maximum length of 100")
	}
	return nil
}

// lookupConversation checks the live sessions first, then storage.
func (s *Server) lookupConversation(ctx context.Context, id string) *storage.StoredConversation {
	if s.sessions != nil {
		if snapshot, err := s.sessions.Snapshot(id); err == nil {
			return snapshot
		}
	}
	if s.store != nil {
		if snapshot, ok, err := s.store.LoadConversation(ctx, id); err == nil && ok {
			return snapshot
		}
	}
	return nil
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: streaming responses are open-ended.
		IdleTimeout: 120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s", addr, Version)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.httpServer.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    status,
		},
	})
}

// newResponseID generates a unique completion id.
func newResponseID() string {
	return "chatcmpl-" + uuid.NewString()
}
