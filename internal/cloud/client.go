// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigchat/internal/model"
)

// Configuration constants for the provider API.
const (
	// DefaultBaseURL is the base URL for the provider API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the default timeout for blocking API requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of attempts for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 1 * time.Second

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// DefaultRequestsPerSecond paces outbound calls to the provider.
	DefaultRequestsPerSecond = 2

	// DefaultBurst is the token bucket size for outbound pacing.
	DefaultBurst = 4
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client with connection pooling for blocking requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for streaming requests. No client
	// timeout; lifetime is controlled by the request context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// ErrNotConfigured indicates the API key is not set.
var ErrNotConfigured = errors.New("provider API key not configured")

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// APIError represents a classified failure from the provider API.
type APIError struct {
	Status            int
	Code              string
	Message           string
	Kind              model.ErrorKind
	RetryAfterSeconds int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

// Classify maps an arbitrary request error to the turn error taxonomy.
// Context cancellation is not a provider failure and maps to unknown;
// callers handle ctx.Err separately.
func Classify(err error) model.ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.ErrKindUnknown
	}
	// Any error without an HTTP status means the request never produced
	// a provider response: connection refused, DNS, timeouts.
	return model.ErrKindNetwork
}

// ErrorInfo converts a request error to the transcript error shape.
func ErrorInfo(err error) *model.ErrorInfo {
	kind := Classify(err)
	info := model.NewErrorInfo(kind, err.Error())
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		info.RetryAfterSeconds = apiErr.RetryAfterSeconds
	}
	return info
}

// classifyStatus maps an HTTP status and provider error code to an error kind.
func classifyStatus(status int, code string) model.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return model.ErrKindRateLimit
	case status >= 500:
		return model.ErrKindServer
	case code == "moderation" || code == "content_policy_violation":
		return model.ErrKindModeration
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return model.ErrKindValidation
	default:
		return model.ErrKindUnknown
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage is one message in the provider wire format.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FromConversation converts transcript messages to the wire format.
// Failed turns are skipped; their content was already emptied and the
// provider has no use for an error bubble.
func FromConversation(messages []*model.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.IsError() {
			continue
		}
		out = append(out, ChatMessage{Role: m.Role.String(), Content: m.GetDisplayContent()})
	}
	return out
}

// ChatRequest is the body of a chat completion request.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatResponse is a blocking chat completion response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// apiErrorResponse is the provider's error body shape.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for the hosted model provider.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	timeout    time.Duration

	// limiter paces outbound requests across all callers of this client.
	limiter *rate.Limiter

	httpClient      *http.Client
	streamingClient *http.Client
}

// NewClient creates a provider client with the given API key.
//
// An empty key still produces a usable client; requests fail with
// ErrNotConfigured so the caller can surface a setup hint.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:          strings.TrimSpace(apiKey),
		baseURL:         DefaultBaseURL,
		model:           "openrouter/auto",
		maxRetries:      DefaultMaxRetries,
		timeout:         DefaultTimeout,
		limiter:         rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultBurst),
		httpClient:      sharedHTTPClient,
		streamingClient: sharedStreamingClient,
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithModel sets the model identifier used for requests.
func (c *Client) WithModel(model string) *Client {
	c.model = model
	return c
}

// WithTimeout sets the blocking request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	client := *c.httpClient
	client.Timeout = timeout
	c.httpClient = &client
	return c
}

// WithMaxRetries sets the maximum number of attempts for transient errors.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	c.maxRetries = maxRetries
	return c
}

// WithRateLimit replaces the outbound pacing limiter.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short hash of the API key for logging.
// SECURITY: key material is never logged, only the fingerprint.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// setHeaders sets the required headers for provider requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rigchat/0.2.0")
}

// =============================================================================
// BLOCKING COMPLETION
// =============================================================================

// Chat performs a blocking chat completion, retrying transient failures
// with exponential backoff. Non-retryable kinds (validation, moderation)
// return immediately.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (*ChatResponse, error) {
	return c.ChatWithOptions(ctx, messages, 0, 0)
}

// ChatWithOptions performs a blocking chat completion with explicit
// sampling options. Zero values fall back to provider defaults.
func (c *Client) ChatWithOptions(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int) (*ChatResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	reqBody := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      false,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt)
			log.Printf("PROVIDER_RETRY | attempt=%d delay=%s err=%v", attempt+1, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		response, err := c.doRequest(ctx, reqBody)
		if err == nil {
			return response, nil
		}
		if !Classify(err).Retryable() {
			return nil, err
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs a single blocking request to the completions endpoint.
func (c *Client) doRequest(ctx context.Context, reqBody ChatRequest) (*ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	log.Printf("PROVIDER_RESPONSE | status=%d duration=%s", resp.StatusCode, time.Since(start).Round(time.Millisecond))

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp, body)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &chatResp, nil
}

// errorFromResponse converts a non-200 provider response to an APIError.
func (c *Client) errorFromResponse(resp *http.Response, body []byte) error {
	apiErr := &APIError{
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(string(body)),
	}

	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Code = parsed.Error.Code
		apiErr.Message = parsed.Error.Message
	}

	apiErr.Kind = classifyStatus(resp.StatusCode, apiErr.Code)

	if apiErr.Kind == model.ErrKindRateLimit {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			apiErr.RetryAfterSeconds = secs
		}
	}

	return apiErr
}

// readResponse reads the response body with a size limit.
// SECURITY: the limit prevents memory exhaustion from a hostile upstream.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// calculateBackoff returns the delay before the next retry attempt.
// Exponential: 1s, 2s, 4s, capped at retryMaxDelay.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// =============================================================================
// SUMMARIZATION
// =============================================================================

// summarySystemPrompt instructs the model to compress conversation history.
const summarySystemPrompt = "You are a summarization assistant. Summarize the " +
	"conversation below, preserving key facts, decisions, and open questions. " +
	"Respond with the summary only."

// Summarize produces a compact summary of the given conversation text,
// bounded to maxTokens. Used by the context pipeline when trimming with
// the summarize strategy.
func (c *Client) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	messages := []ChatMessage{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: text},
	}

	resp, err := c.ChatWithOptions(ctx, messages, 0.3, maxTokens)
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(resp.GetContent())
	if summary == "" {
		return "", errors.New("provider returned empty summary")
	}
	return summary, nil
}
