// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

// State is the consumer's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the request lifecycle.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// =============================================================================
// FRAME TYPES
// =============================================================================

// dataPrefix marks an event frame line.
const dataPrefix = "data: "

// doneMarker is the final frame body of a successful stream.
const doneMarker = "[DONE]"

// CancelledPlaceholder replaces the assistant content when a request is
// aborted before anything streamed.
const CancelledPlaceholder = "[Request cancelled]"

// Usage carries token accounting inside a frame. Usage frames are purely
// additive, so their ordering relative to content frames does not matter.
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

// Frame is one decoded "data:" event body.
type Frame struct {
	Content string `json:"content,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`

	// Error fields, present only on error frames.
	Error      string `json:"error,omitempty"`
	Type       string `json:"type,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// ErrStreamFailed is returned by Feed once an error frame has been applied;
// the caller must stop reading further chunks.
var ErrStreamFailed = errors.New("stream failed")

// DecodeFrame parses one "data:" event body into a Frame. The default
// decoder reads {content}/{usage}/{error} bodies; sources with a different
// chunk shape install their own decoder via SetDecoder.
type DecodeFrame func(body []byte) (Frame, error)

// decodeFrame is the default decoder.
func decodeFrame(body []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(body, &f)
	return f, err
}

// =============================================================================
// CONSUMER
// =============================================================================

// Consumer applies a chunked response stream to an assistant message.
// One consumer serves exactly one request; a new submission starts a fresh
// consumer with an empty buffer and a zero usage counter.
type Consumer struct {
	state State

	msg    *model.Message
	buffer string

	usageTokens int
	doneSeen    bool

	decode DecodeFrame

	// onContent, when set, is invoked after each applied content frame so
	// the UI can scroll or repaint.
	onContent func(delta string)
}

// NewConsumer creates an idle consumer that will stream into msg.
func NewConsumer(msg *model.Message) *Consumer {
	return &Consumer{state: StateIdle, msg: msg, decode: decodeFrame}
}

// SetDecoder replaces the frame decoder. Must be called before Begin.
func (c *Consumer) SetDecoder(fn DecodeFrame) {
	if fn != nil {
		c.decode = fn
	}
}

// OnContent registers a notification callback for applied content frames.
func (c *Consumer) OnContent(fn func(delta string)) {
	c.onContent = fn
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return c.state
}

// UsageTokens returns the accumulated token count from usage frames.
func (c *Consumer) UsageTokens() int {
	return c.usageTokens
}

// Begin transitions Idle -> Streaming with a fresh buffer and usage counter.
func (c *Consumer) Begin() error {
	if c.state != StateIdle {
		return errors.New("consumer already used; start a new one per request")
	}
	c.state = StateStreaming
	c.buffer = ""
	c.usageTokens = 0
	return nil
}

// =============================================================================
// CHUNK PROCESSING
// =============================================================================

// Feed processes one received chunk. All complete lines in the buffer are
// parsed; any partial trailing line is retained for the next chunk. Returns
// ErrStreamFailed once an error frame is applied.
func (c *Consumer) Feed(chunk string) error {
	if c.state != StateStreaming {
		return errors.New("feed outside streaming state")
	}

	c.buffer += chunk

	for {
		idx := strings.IndexByte(c.buffer, '\n')
		if idx < 0 {
			return nil
		}

		line := strings.TrimRight(c.buffer[:idx], "\r")
		c.buffer = c.buffer[idx+1:]

		if err := c.applyLine(line); err != nil {
			return err
		}
	}
}

// applyLine parses and applies a single complete line.
func (c *Consumer) applyLine(line string) error {
	if line == "" || !strings.HasPrefix(line, dataPrefix) {
		// Blank frame separators and unknown fields are ignored.
		return nil
	}

	body := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if body == doneMarker {
		c.doneSeen = true
		return nil
	}

	frame, err := c.decode([]byte(body))
	if err != nil {
		// Skip malformed frames rather than aborting the stream.
		return nil
	}

	if frame.Error != "" {
		c.fail(&frame)
		return ErrStreamFailed
	}

	if frame.Content != "" {
		c.msg.AppendToken(frame.Content)
		if c.onContent != nil {
			c.onContent(frame.Content)
		}
	}

	if frame.Usage != nil {
		c.usageTokens += frame.Usage.TotalTokens
	}

	return nil
}

// fail transitions to Failed: the in-progress content is emptied and the
// error attached, keeping the turn visible in the transcript.
func (c *Consumer) fail(frame *Frame) {
	info := model.NewErrorInfo(classifyFrameError(frame.Type), frame.Error)
	info.RetryAfterSeconds = frame.RetryAfter
	c.msg.Fail(info)
	c.state = StateFailed
}

// Finish marks the end of the underlying read loop. The consumer completes
// regardless of whether a [DONE] marker was observed; a missing marker just
// means the transport closed first.
func (c *Consumer) Finish() {
	if c.state != StateStreaming {
		return
	}
	c.msg.FinalizeStream(c.usageTokens)
	c.state = StateCompleted
}

// FailTransport converts a mid-stream read failure into a failed turn so
// the transcript records the error instead of a silent truncation.
func (c *Consumer) FailTransport(err error) {
	if c.state != StateStreaming {
		return
	}
	c.msg.Fail(model.NewErrorInfo(model.ErrKindNetwork, err.Error()))
	c.state = StateFailed
}

// Cancel aborts the stream at a chunk boundary. Content streamed so far is
// preserved; the placeholder is used only when nothing had streamed yet.
func (c *Consumer) Cancel() {
	if c.state != StateStreaming {
		return
	}

	streamed := c.msg.GetDisplayContent()
	c.msg.FinalizeStream(c.usageTokens)
	if streamed == "" {
		c.msg.Content = CancelledPlaceholder
	}
	c.state = StateCancelled
}

// =============================================================================
// READ LOOP
// =============================================================================

// readBufferSize is the chunk size used by Consume.
const readBufferSize = 4096

// Consume drives the consumer from an io.Reader until the stream ends, an
// error frame arrives, or ctx is cancelled. Cancellation is checked at each
// chunk boundary, so one in-flight chunk may still be applied after the
// signal fires.
func (c *Consumer) Consume(ctx context.Context, r io.Reader) error {
	if err := c.Begin(); err != nil {
		return err
	}

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			c.Cancel()
			return ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			if feedErr := c.Feed(string(buf[:n])); feedErr != nil {
				return feedErr
			}
		}
		if err != nil {
			if err == io.EOF {
				c.Finish()
				return nil
			}
			// Only context cancellation counts as a cancel; any other
			// read failure is a broken transport and fails the turn.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.Cancel()
				return err
			}
			c.FailTransport(err)
			return err
		}
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// classifyFrameError maps a wire error type to the turn error taxonomy.
func classifyFrameError(frameType string) model.ErrorKind {
	switch frameType {
	case "rate_limit", "rate_limit_error":
		return model.ErrKindRateLimit
	case "network", "network_error":
		return model.ErrKindNetwork
	case "server", "server_error":
		return model.ErrKindServer
	case "validation", "validation_error":
		return model.ErrKindValidation
	case "moderation", "moderation_error":
		return model.ErrKindModeration
	default:
		return model.ErrKindUnknown
	}
}
