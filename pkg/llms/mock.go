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
	"context"
	"strings"
)

// MockProvider is the deterministic runtime used in mock mode. The first
// call requests one chunk window; once a TOOL_RESULT turn is present it
// answers with a fixed final message. Token usage is fixed so budget
// behavior is reproducible.
type MockProvider struct{}

// NewMockProvider creates the default mock runtime.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Chat(ctx context.Context, req ChatRequest) (*Result, error) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role == "assistant" && strings.HasPrefix(m.Content, "TOOL_RESULT") {
			return &Result{
				Kind:    ResultMessage,
				Message: "Mock final answer after tool results.",
				Usage:   Usage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
			}, nil
		}
	}

	return &Result{
		Kind:     ResultToolCall,
		ToolName: "read_chunk_window",
		ToolArgs: map[string]any{"doc_id": "doc_1", "section_id": "sec_intro"},
		Usage:    Usage{PromptTokens: 80, CompletionTokens: 20, TotalTokens: 100},
	}, nil
}

// ScriptedProvider replays a fixed sequence of results, then repeats the
// last one. Used by tests that need specific loop behavior.
type ScriptedProvider struct {
	Results []Result
	index   int
	// Calls records every request for assertions.
	Calls []ChatRequest
}

// NewScriptedProvider creates a provider that replays results in order.
func NewScriptedProvider(results ...Result) *ScriptedProvider {
	return &ScriptedProvider{Results: results}
}

func (p *ScriptedProvider) Chat(ctx context.Context, req ChatRequest) (*Result, error) {
	p.Calls = append(p.Calls, req)
	if len(p.Results) == 0 {
		return &Result{Kind: ResultMessage, Message: "done"}, nil
	}
	r := p.Results[p.index]
	if p.index < len(p.Results)-1 {
		p.index++
	}
	return &r, nil
}
