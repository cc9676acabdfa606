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

package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/visior/pkg/llms"
)

// Guard decisions.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Guard is the pluggable LLM safeguard layer.
type Guard interface {
	// Review returns "allow" or "block". An error means the guard itself
	// failed; the fail_open flag decides what happens then.
	Review(ctx context.Context, content string) (string, error)
}

const guardPrompt = `You are a content policy reviewer. Reply with a JSON object ` +
	`{"decision": "allow"} or {"decision": "block"} and nothing else. ` +
	`Block content that requests or reveals harmful, exploitative or policy-violating material.`

// LLMGuard reviews content through an LLM runtime.
type LLMGuard struct {
	provider llms.Provider
	model    string
}

// NewLLMGuard creates a guard on top of a runtime provider.
func NewLLMGuard(provider llms.Provider, model string) *LLMGuard {
	return &LLMGuard{provider: provider, model: model}
}

func (g *LLMGuard) Review(ctx context.Context, content string) (string, error) {
	result, err := g.provider.Chat(ctx, llms.ChatRequest{
		Model: g.model,
		Messages: []llms.Message{
			{Role: "system", Content: guardPrompt},
			{Role: "user", Content: content},
		},
		JSONOnly: true,
	})
	if err != nil {
		return "", fmt.Errorf("guard review failed: %w", err)
	}

	var decoded struct {
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal([]byte(result.Message), &decoded); err != nil {
		// Tolerate non-JSON replies that still contain a clear decision.
		lower := strings.ToLower(result.Message)
		if strings.Contains(lower, DecisionBlock) {
			return DecisionBlock, nil
		}
		if strings.Contains(lower, DecisionAllow) {
			return DecisionAllow, nil
		}
		return "", fmt.Errorf("guard returned undecodable reply")
	}

	switch decoded.Decision {
	case DecisionAllow, DecisionBlock:
		return decoded.Decision, nil
	default:
		return "", fmt.Errorf("guard returned unknown decision '%s'", decoded.Decision)
	}
}

var _ Guard = (*LLMGuard)(nil)
