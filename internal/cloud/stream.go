// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/stream"
)

// STREAMING: the provider's chunked body is handed to the stream package;
// this file opens the connection, classifies pre-stream failures, and
// translates the provider's delta chunks into the internal frame shape.

// streamChunk is one provider streaming chunk:
// {choices:[{delta:{content?}}], usage?}, with an error object on
// mid-stream provider failures.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// decodeChunk translates a provider delta chunk into an internal frame.
func decodeChunk(body []byte) (stream.Frame, error) {
	var chunk streamChunk
	if err := json.Unmarshal(body, &chunk); err != nil {
		return stream.Frame{}, err
	}

	var frame stream.Frame
	for _, choice := range chunk.Choices {
		frame.Content += choice.Delta.Content
	}
	if chunk.Usage != nil {
		frame.Usage = &stream.Usage{TotalTokens: chunk.Usage.TotalTokens}
	}
	if chunk.Error != nil {
		frame.Error = chunk.Error.Message
		frame.Type = chunk.Error.Code
	}
	return frame, nil
}

// OpenStream starts a streaming chat completion and returns the response
// body for the caller to consume. A non-200 status is read fully and
// classified; no body is returned in that case.
//
// Streaming requests are not retried. Once frames may have been emitted a
// retry would duplicate content; callers surface the failure instead.
func (c *Client) OpenStream(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int) (*http.Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqBody := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      true,
		Temperature: temperature,
		MaxTokens:   maxTokens,
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
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamingClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := readResponse(resp)
		resp.Body.Close()
		if readErr != nil {
			body = nil
		}
		return nil, c.errorFromResponse(resp, body)
	}

	return resp, nil
}

// Stream performs a streaming chat completion into msg, reporting each
// applied content frame through onContent. The consumer's terminal state
// is returned alongside any error so callers can distinguish cancellation
// from stream failure.
func (c *Client) Stream(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int, msg *model.Message, onContent func(delta string)) (stream.State, error) {
	resp, err := c.OpenStream(ctx, messages, temperature, maxTokens)
	if err != nil {
		msg.Fail(ErrorInfo(err))
		return stream.StateFailed, err
	}
	defer resp.Body.Close()

	consumer := stream.NewConsumer(msg)
	consumer.SetDecoder(decodeChunk)
	if onContent != nil {
		consumer.OnContent(onContent)
	}

	if err := consumer.Consume(ctx, resp.Body); err != nil {
		return consumer.State(), err
	}
	return consumer.State(), nil
}
