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

// Package llms is the runtime client. One call returns either a final
// message or a single tool call, never both.
package llms

import "context"

// Message is one turn of the conversation sent to the runtime.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSpec describes one callable tool in the runtime payload.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage is the token accounting block of one runtime response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResultKind discriminates the two response shapes.
type ResultKind int

const (
	ResultMessage ResultKind = iota
	ResultToolCall
)

// Result is the decoded runtime response.
type Result struct {
	Kind     ResultKind
	Message  string
	ToolName string
	ToolArgs map[string]any
	Usage    Usage
}

// ChatRequest is one runtime invocation.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	// JSONOnly requests a JSON object response (reranker, safety guard).
	JSONOnly bool
}

// Provider sends chat requests to an LLM runtime.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*Result, error)
}
