// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/httpclient"
	"github.com/kadirpekel/visior/pkg/protocol"
)

// OpenAIProvider implements Provider against an OpenAI-protocol
// chat-completions endpoint.
type OpenAIProvider struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
}

// OpenAIRequest is the chat-completions request payload.
type OpenAIRequest struct {
	Model          string                `json:"model"`
	Messages       []OpenAIMessage       `json:"messages"`
	Temperature    float64               `json:"temperature"`
	Tools          []OpenAITool          `json:"tools,omitempty"`
	ToolChoice     string                `json:"tool_choice,omitempty"`
	ResponseFormat *OpenAIResponseFormat `json:"response_format,omitempty"`
}

// OpenAIMessage is one chat message on the wire.
type OpenAIMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

// OpenAITool wraps a function spec.
type OpenAITool struct {
	Type     string             `json:"type"`
	Function OpenAIToolFunction `json:"function"`
}

// OpenAIToolFunction is the function schema inside a tool spec.
type OpenAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// OpenAIToolCall is one requested tool invocation. Arguments is usually a
// JSON-encoded string but some runtimes inline an object.
type OpenAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// OpenAIResponseFormat selects structured output.
type OpenAIResponseFormat struct {
	Type string `json:"type"`
}

// OpenAIResponse is the chat-completions response payload.
type OpenAIResponse struct {
	Choices []struct {
		Message      OpenAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewProviderFromConfig builds the configured runtime provider; mock mode
// yields the deterministic mock.
func NewProviderFromConfig(cfg *config.RuntimeConfig) Provider {
	if cfg.Mock != nil && *cfg.Mock {
		return NewMockProvider()
	}
	return &OpenAIProvider{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// resolveURL appends the chat-completions path to bare API roots; fully
// qualified endpoints pass through untouched.
func resolveURL(baseURL string) string {
	trimmed := strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(trimmed, "/api/v1") || strings.HasSuffix(trimmed, "/v1") {
		return trimmed + "/chat/completions"
	}
	return baseURL
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*Result, error) {
	if p.baseURL == "" || p.apiKey == "" {
		return nil, protocol.NewStatusError(http.StatusServiceUnavailable, protocol.CodeNotConfigured,
			"llm runtime base URL and API key are required")
	}

	wireReq := OpenAIRequest{
		Model:       req.Model,
		Messages:    make([]OpenAIMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		wireReq.Messages = append(wireReq.Messages, OpenAIMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		wireReq.Tools = append(wireReq.Tools, OpenAITool{
			Type: "function",
			Function: OpenAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(wireReq.Tools) > 0 {
		wireReq.ToolChoice = "auto"
	}
	if req.JSONOnly {
		wireReq.ResponseFormat = &OpenAIResponseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, resolveURL(p.baseURL), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, protocol.NewStatusErrorf(http.StatusBadGateway, protocol.CodeUpstreamError,
			"llm runtime unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, protocol.NewStatusErrorf(http.StatusBadGateway, protocol.CodeUpstreamError,
			"llm runtime returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var decoded OpenAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, protocol.NewStatusErrorf(http.StatusBadGateway, protocol.CodeUpstreamError,
			"failed to decode llm response: %v", err)
	}
	if decoded.Error != nil {
		return nil, protocol.NewStatusErrorf(http.StatusBadGateway, protocol.CodeUpstreamError,
			"llm runtime error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return nil, protocol.NewStatusError(http.StatusBadGateway, protocol.CodeUpstreamError,
			"llm response contained no choices")
	}

	msg := decoded.Choices[0].Message
	result := &Result{Usage: decoded.Usage}

	if len(msg.ToolCalls) > 0 {
		// Multiple tool calls can arrive; the loop executes one per step,
		// so only the last one is honored.
		call := msg.ToolCalls[len(msg.ToolCalls)-1]
		result.Kind = ResultToolCall
		result.ToolName = call.Function.Name
		result.ToolArgs = decodeToolArguments(call.Function.Arguments)
		return result, nil
	}

	result.Kind = ResultMessage
	result.Message = msg.Content
	return result, nil
}

// decodeToolArguments accepts a JSON-encoded string, an inline object, or
// garbage. Garbage becomes an empty argument map rather than an error.
func decodeToolArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		var args map[string]any
		if err := json.Unmarshal([]byte(asString), &args); err == nil {
			return args
		}
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	return map[string]any{}
}
