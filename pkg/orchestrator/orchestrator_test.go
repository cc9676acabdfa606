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

package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kadirpekel/visior/pkg/catalog"
	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/embedders"
	"github.com/kadirpekel/visior/pkg/llms"
	"github.com/kadirpekel/visior/pkg/protocol"
	"github.com/kadirpekel/visior/pkg/ratelimit"
	"github.com/kadirpekel/visior/pkg/retrieval"
	"github.com/kadirpekel/visior/pkg/tools"
	"github.com/kadirpekel/visior/pkg/vector"
)

func newTestOrchestrator(t *testing.T, llm llms.Provider, mutate func(*config.Config)) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	store := config.NewStore(cfg)

	provider := vector.NewChromemProvider()
	embedder := embedders.Pseudo{}
	repo := catalog.NewSeededRepository()
	doc, err := repo.GetDocument(context.Background(), "doc_1")
	if err != nil || doc == nil {
		t.Fatalf("Seeded document missing: %v", err)
	}
	if err := retrieval.IndexDocument(context.Background(), provider, &cfg.Vector, embedder, doc); err != nil {
		t.Fatalf("Indexing failed: %v", err)
	}

	retriever := retrieval.NewRetriever(vector.NewGateway(provider), embedder, nil, store, nil)
	registry := tools.NewDefaultRegistry(repo, retriever)
	limiter := ratelimit.NewLimiter(cfg.Proxy.RateLimitCalls, cfg.Proxy.RateLimitTokens, time.Minute)
	executor := tools.NewExecutor(registry, limiter, nil)

	return New(retriever, llm, executor, store, nil)
}

func windowCall(sectionID string, args map[string]any) llms.Result {
	toolArgs := map[string]any{"doc_id": "doc_1", "section_id": sectionID}
	for k, v := range args {
		toolArgs[k] = v
	}
	return llms.Result{
		Kind:     llms.ResultToolCall,
		ToolName: "read_chunk_window",
		ToolArgs: toolArgs,
		Usage:    llms.Usage{PromptTokens: 80, CompletionTokens: 20, TotalTokens: 100},
	}
}

func finalMessage(text string) llms.Result {
	return llms.Result{
		Kind:    llms.ResultMessage,
		Message: text,
		Usage:   llms.Usage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
	}
}

func TestRespondNoTools(t *testing.T) {
	llm := llms.NewScriptedProvider(finalMessage("The intro covers LDAP basics. [doc_1/sec_intro]"))
	o := newTestOrchestrator(t, llm, nil)

	resp, err := o.Respond(context.Background(), &Request{Query: "what is in the intro?"})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if resp.Answer == "" {
		t.Error("Expected an answer")
	}
	if len(resp.Tools) != 0 {
		t.Errorf("Expected no tool calls, got %d", len(resp.Tools))
	}
	if resp.Usage.TotalTokens != 160 {
		t.Errorf("Expected usage 160, got %d", resp.Usage.TotalTokens)
	}
	if len(resp.Sources) == 0 {
		t.Error("Expected retrieval sources")
	}
	if resp.Telemetry.TraceID == "" {
		t.Error("Expected a trace id")
	}
	if resp.Telemetry.ToolSteps != 0 {
		t.Errorf("Expected 0 tool steps, got %d", resp.Telemetry.ToolSteps)
	}
}

func TestRespondMockToolExpansion(t *testing.T) {
	o := newTestOrchestrator(t, llms.NewMockProvider(), nil)

	resp, err := o.Respond(context.Background(), &Request{Query: "how do I configure ldap?"})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if resp.Answer != "Mock final answer after tool results." {
		t.Errorf("Unexpected answer: %q", resp.Answer)
	}
	if len(resp.Tools) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.Tools))
	}
	call := resp.Tools[0]
	if call.Name != "read_chunk_window" {
		t.Errorf("Expected read_chunk_window, got %s", call.Name)
	}
	if call.Arguments["window_before"] != 1 || call.Arguments["window_after"] != 1 {
		t.Errorf("Expected initial window (1,1), got %v/%v",
			call.Arguments["window_before"], call.Arguments["window_after"])
	}
	if call.Arguments["anchor_chunk_id"] != "doc_1:sec_intro:0" {
		t.Errorf("Anchor not resolved from retrieval: %v", call.Arguments["anchor_chunk_id"])
	}
	if resp.Usage.TotalTokens != 260 {
		t.Errorf("Expected accumulated usage 260, got %d", resp.Usage.TotalTokens)
	}
	if resp.Telemetry.ToolSteps != 1 {
		t.Errorf("Expected 1 tool step, got %d", resp.Telemetry.ToolSteps)
	}
}

func TestRespondClampsOversizedWindows(t *testing.T) {
	llm := llms.NewScriptedProvider(
		windowCall("sec_intro", map[string]any{"window_before": 5, "window_after": 3}),
		windowCall("sec_setup", map[string]any{"window_before": 5, "window_after": 3}),
		finalMessage("done"),
	)
	o := newTestOrchestrator(t, llm, func(cfg *config.Config) {
		one := 1
		cfg.Proxy.MaxWindowRadius = &one
		cfg.Orchestrator.MaxToolSteps = 3
	})

	resp, err := o.Respond(context.Background(), &Request{Query: "expand"})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if len(resp.Tools) != 2 {
		t.Fatalf("Expected 2 executed tool calls, got %d", len(resp.Tools))
	}
	for i, call := range resp.Tools {
		if call.Arguments["window_before"] != 1 || call.Arguments["window_after"] != 1 {
			t.Errorf("Call %d: expected clamped window (1,1), got %v/%v",
				i, call.Arguments["window_before"], call.Arguments["window_after"])
		}
	}
	if resp.Answer != "done" {
		t.Errorf("Expected final answer, got %q", resp.Answer)
	}
}

func TestRespondToolStepLimit(t *testing.T) {
	llm := llms.NewScriptedProvider(
		windowCall("sec_intro", nil),
		windowCall("sec_setup", nil),
	)
	o := newTestOrchestrator(t, llm, func(cfg *config.Config) {
		cfg.Orchestrator.MaxToolSteps = 1
	})

	_, err := o.Respond(context.Background(), &Request{Query: "keep going"})
	se := protocol.AsStatusError(err)
	if se == nil || se.Code != protocol.CodeLLMLimitExceeded || se.Status != 400 {
		t.Fatalf("Expected 400 LLM_LIMIT_EXCEEDED, got %+v", se)
	}
}

func TestRespondContextBudget(t *testing.T) {
	o := newTestOrchestrator(t, llms.NewMockProvider(), func(cfg *config.Config) {
		cfg.Orchestrator.PromptTokenBudget = 50
		cfg.Orchestrator.ContextTokenBudget = 90
	})

	_, err := o.Respond(context.Background(), &Request{Query: "anything"})
	se := protocol.AsStatusError(err)
	if se == nil || se.Code != protocol.CodeContextBudgetExceeded || se.Status != 400 {
		t.Fatalf("Expected 400 CONTEXT_BUDGET_EXCEEDED, got %+v", se)
	}
}

func TestRespondSuppressesRepeatedCalls(t *testing.T) {
	call := map[string]any{"window_before": 1, "window_after": 1}
	llm := llms.NewScriptedProvider(
		windowCall("sec_intro", call),
		windowCall("sec_intro", call),
		finalMessage("answered from the first window"),
	)
	o := newTestOrchestrator(t, llm, func(cfg *config.Config) {
		cfg.Orchestrator.MaxToolSteps = 3
	})

	resp, err := o.Respond(context.Background(), &Request{Query: "repeat yourself"})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if len(resp.Tools) != 1 {
		t.Errorf("Repeated call must not reach the proxy twice, got %d traces", len(resp.Tools))
	}
	if resp.Telemetry.ToolSteps != 2 {
		t.Errorf("Suppressed repeat still consumes a step, got %d", resp.Telemetry.ToolSteps)
	}
	if resp.Answer == "" {
		t.Error("Expected a final answer")
	}
}

func TestRespondToolErrorConsumesStep(t *testing.T) {
	llm := llms.NewScriptedProvider(
		llms.Result{
			Kind:     llms.ResultToolCall,
			ToolName: "read_doc_section",
			ToolArgs: map[string]any{"doc_id": "doc_missing", "section_id": "sec_x"},
			Usage:    llms.Usage{TotalTokens: 50},
		},
		finalMessage("the document is not available"),
	)
	o := newTestOrchestrator(t, llm, nil)

	resp, err := o.Respond(context.Background(), &Request{Query: "read the missing doc"})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if len(resp.Tools) != 0 {
		t.Errorf("Failed calls must not be traced as executed, got %d", len(resp.Tools))
	}
	if resp.Telemetry.ToolSteps != 1 {
		t.Errorf("Failed call still consumes a step, got %d", resp.Telemetry.ToolSteps)
	}
	if resp.Answer == "" {
		t.Error("Expected the loop to continue to a final answer")
	}
}

func TestRespondAccessDeniedTerminatesLoop(t *testing.T) {
	llm := llms.NewScriptedProvider(
		llms.Result{
			Kind:     llms.ResultToolCall,
			ToolName: "read_doc_metadata",
			ToolArgs: map[string]any{"doc_id": "doc_1"},
			Usage:    llms.Usage{TotalTokens: 50},
		},
		finalMessage("must never be reached"),
	)
	o := newTestOrchestrator(t, llm, nil)

	_, err := o.Respond(context.Background(), &Request{Query: "read the foreign doc", TenantID: "tenant_2"})
	se := protocol.AsStatusError(err)
	if se == nil || se.Status != 403 || se.Code != protocol.CodeAccessDenied {
		t.Fatalf("Expected 403 ACCESS_DENIED to surface, got %+v", se)
	}
}

func TestRespondRateLimitAbortsLoop(t *testing.T) {
	llm := llms.NewScriptedProvider(
		llms.Result{
			Kind:     llms.ResultToolCall,
			ToolName: "read_doc_metadata",
			ToolArgs: map[string]any{"doc_id": "doc_1"},
			Usage:    llms.Usage{TotalTokens: 50},
		},
		llms.Result{
			Kind:     llms.ResultToolCall,
			ToolName: "read_doc_section",
			ToolArgs: map[string]any{"doc_id": "doc_1", "section_id": "sec_intro"},
			Usage:    llms.Usage{TotalTokens: 50},
		},
		finalMessage("must never be reached"),
	)
	o := newTestOrchestrator(t, llm, func(cfg *config.Config) {
		cfg.Proxy.RateLimitCalls = 1
		cfg.Orchestrator.MaxToolSteps = 3
	})

	_, err := o.Respond(context.Background(), &Request{Query: "keep reading"})
	se := protocol.AsStatusError(err)
	if se == nil || se.Status != 429 || se.Code != protocol.CodeRateLimitExceeded {
		t.Fatalf("Expected 429 RATE_LIMIT_EXCEEDED to surface, got %+v", se)
	}
}

func TestRespondRequiresQuery(t *testing.T) {
	o := newTestOrchestrator(t, llms.NewMockProvider(), nil)
	_, err := o.Respond(context.Background(), &Request{Query: "   "})
	se := protocol.AsStatusError(err)
	if se == nil || se.Status != 400 {
		t.Fatalf("Expected 400 for blank query, got %+v", se)
	}
}

func TestResolveUser(t *testing.T) {
	cfg := config.Default().Orchestrator

	user := resolveUser(&Request{}, &cfg)
	if user.TenantID != "tenant_1" || user.UserID != "anonymous" {
		t.Errorf("Expected configured defaults, got %+v", user)
	}

	user = resolveUser(&Request{UserID: "u7"}, &cfg)
	if user.UserID != "u7" || user.TenantID != "tenant_1" {
		t.Errorf("Expected default tenant backfill, got %+v", user)
	}

	user = resolveUser(&Request{
		User:     &protocol.UserContext{TenantID: "tenant_9"},
		UserID:   "ignored",
		TenantID: "ignored",
	}, &cfg)
	if user.TenantID != "tenant_9" || user.UserID != "anonymous" {
		t.Errorf("Explicit user block must win, got %+v", user)
	}
}

func TestProgressiveWindow(t *testing.T) {
	w := newProgressiveWindow(windowPolicy{initial: 1, step: 1, max: 2})

	got := []int{w.next("sec_a"), w.next("sec_a"), w.next("sec_a")}
	want := []int{1, 2, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Step %d: expected radius %d, got %d", i, want[i], got[i])
		}
	}
	if w.next("sec_b") != 1 {
		t.Error("Sections must widen independently")
	}

	prev := 0
	for i := 0; i < 10; i++ {
		r := w.next("sec_c")
		if r < prev {
			t.Fatalf("Radius must be monotonic, %d after %d", r, prev)
		}
		if r > 2 {
			t.Fatalf("Radius must stay clamped, got %d", r)
		}
		prev = r
	}
}

func TestNextRadius(t *testing.T) {
	if nextRadius(1, 1, 3) != 2 {
		t.Error("Expected widening by step")
	}
	if nextRadius(3, 1, 3) != 3 {
		t.Error("Expected clamp at max")
	}
	if nextRadius(2, 0, 3) != 2 {
		t.Error("Zero step must hold the radius")
	}
}

func TestResolveToolCallAnchorFallback(t *testing.T) {
	o := newTestOrchestrator(t, llms.NewMockProvider(), nil)
	cfg := o.store.Snapshot()
	window := newProgressiveWindow(windowPolicyFromConfig(&cfg.Orchestrator))

	name, args := o.resolveToolCall("read_chunk_window",
		map[string]any{"doc_id": "doc_1", "section_id": "sec_unknown"},
		map[string]string{}, window, cfg)
	if name != "read_doc_section" {
		t.Fatalf("Expected fallback to read_doc_section, got %s", name)
	}
	if args["section_id"] != "sec_unknown" {
		t.Errorf("Fallback lost the section id: %v", args["section_id"])
	}
}

func TestBuildContextBudget(t *testing.T) {
	sections := []protocol.Hit{
		{DocID: "d", SectionID: "s1", Summary: strings.Repeat("a", 2000)},
		{DocID: "d", SectionID: "s2", Summary: "short"},
	}
	encoded := buildContext(sections, 2000)
	if encoded == "[]" {
		t.Fatal("Expected context items within a generous budget")
	}

	tiny := buildContext(sections, 100)
	if len(tiny) > 100*4+200 {
		t.Errorf("Context exceeds the trimmed budget: %d bytes", len(tiny))
	}
}
