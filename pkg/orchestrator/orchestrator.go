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

// Package orchestrator runs the budgeted assistant loop: retrieve, build
// a summaries-only context, then alternate runtime calls and tool
// executions until a final answer or a budget stops the loop. Tool
// windows widen progressively per section; identical calls are
// suppressed but still consume a step.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/llms"
	"github.com/kadirpekel/visior/pkg/observability"
	"github.com/kadirpekel/visior/pkg/protocol"
	"github.com/kadirpekel/visior/pkg/retrieval"
	"github.com/kadirpekel/visior/pkg/tools"
)

const resultSummaryLimit = 200

const personaPrompt = `You are a grounded documentation assistant. Answer strictly from the retrieved material and the tool results. Cite every claim as [doc_id/section_id]. If the material does not answer the question, say so.`

const developerPrompt = `When you need more text, request chunk windows. Start small and expand gradually; never request a wide window first.`

// Request is one assistant invocation.
type Request struct {
	ConversationID string                `json:"conversation_id,omitempty"`
	User           *protocol.UserContext `json:"user,omitempty"`
	UserID         string                `json:"user_id,omitempty"`
	TenantID       string                `json:"tenant_id,omitempty"`
	Query          string                `json:"query"`
	Model          string                `json:"model,omitempty"`
	Channel        string                `json:"channel,omitempty"`
	Locale         string                `json:"locale,omitempty"`
	TraceID        string                `json:"trace_id,omitempty"`

	Filters    map[string]any `json:"filters,omitempty"`
	DocIDs     []string       `json:"doc_ids,omitempty"`
	SectionIDs []string       `json:"section_ids,omitempty"`

	MaxToolSteps *int `json:"max_tool_steps,omitempty"`

	// Retrieval carries per-request retrieval overrides.
	Retrieval retrieval.Overrides `json:"retrieval,omitempty"`
}

// Response is the assistant answer with sources, tool trace and
// accounting. Safety is filled in by the gateway layer.
type Response struct {
	Answer    string                   `json:"answer"`
	Sources   []protocol.Hit           `json:"sources"`
	Tools     []protocol.ToolCallTrace `json:"tools"`
	Usage     llms.Usage               `json:"usage"`
	Safety    protocol.SafetyBlock     `json:"safety"`
	Telemetry protocol.Telemetry       `json:"telemetry"`
}

// Orchestrator drives the retrieve/respond loop.
type Orchestrator struct {
	retriever *retrieval.Retriever
	llm       llms.Provider
	executor  *tools.Executor
	store     *config.Store
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

// New creates an orchestrator. metrics may be nil.
func New(retriever *retrieval.Retriever, llm llms.Provider, executor *tools.Executor, store *config.Store, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		retriever: retriever,
		llm:       llm,
		executor:  executor,
		store:     store,
		metrics:   metrics,
		tracer:    observability.GetTracer("visior/orchestrator"),
	}
}

// Respond runs one assistant request to completion.
func (o *Orchestrator) Respond(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, protocol.ErrBadRequest("query is required")
	}

	cfg := o.store.Snapshot()
	user := resolveUser(req, &cfg.Orchestrator)
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.respond",
		trace.WithAttributes(
			attribute.String("tenant_id", user.TenantID),
			attribute.String("trace_id", traceID),
		))
	defer span.End()

	retrievalStart := time.Now()
	retrieved, err := o.retriever.Search(ctx, retrieval.Query{
		TenantID:   user.TenantID,
		Query:      req.Query,
		DocIDs:     req.DocIDs,
		SectionIDs: req.SectionIDs,
		Filters:    req.Filters,
		Overrides:  req.Retrieval,
	})
	if err != nil {
		return nil, err
	}
	retrievalLatency := time.Since(retrievalStart)

	anchors := sectionAnchors(append(append([]protocol.Hit{}, retrieved.Sections...), retrieved.Chunks...))

	messages := []llms.Message{
		{Role: "system", Content: personaPrompt},
		{Role: "developer", Content: developerPrompt},
		{Role: "system", Content: "Retrieved sections (summaries only): " + buildContext(retrieved.Sections, cfg.Orchestrator.PromptTokenBudget)},
		{Role: "user", Content: req.Query},
	}

	model := req.Model
	if model == "" {
		model = cfg.Orchestrator.DefaultModel
	}
	maxToolSteps := cfg.Orchestrator.MaxToolSteps
	if req.MaxToolSteps != nil && *req.MaxToolSteps >= 0 {
		maxToolSteps = *req.MaxToolSteps
	}

	toolSpecs := o.toolSpecs(&cfg.Proxy)
	window := newProgressiveWindow(windowPolicyFromConfig(&cfg.Orchestrator))
	seen := make(map[string]bool)

	var usage llms.Usage
	var traces []protocol.ToolCallTrace
	var llmLatency time.Duration
	toolTokens := 0
	toolSteps := 0

	for step := 0; step <= maxToolSteps; step++ {
		llmStart := time.Now()
		result, err := o.llm.Chat(ctx, llms.ChatRequest{
			Model:    model,
			Messages: messages,
			Tools:    toolSpecs,
		})
		llmLatency += time.Since(llmStart)
		if err != nil {
			return nil, protocol.ErrUpstream(fmt.Sprintf("runtime call failed: %v", err))
		}
		if o.metrics != nil {
			o.metrics.LLMDuration.Observe(time.Since(llmStart).Seconds())
			o.metrics.LLMTokensTotal.WithLabelValues("prompt").Add(float64(result.Usage.PromptTokens))
			o.metrics.LLMTokensTotal.WithLabelValues("completion").Add(float64(result.Usage.CompletionTokens))
		}
		usage.PromptTokens += result.Usage.PromptTokens
		usage.CompletionTokens += result.Usage.CompletionTokens
		usage.TotalTokens += result.Usage.TotalTokens

		if err := checkBudget(usage.TotalTokens+toolTokens, cfg.Orchestrator.ContextTokenBudget); err != nil {
			return nil, err
		}

		if result.Kind == llms.ResultMessage {
			return &Response{
				Answer:  result.Message,
				Sources: retrieved.Sections,
				Tools:   emptyIfNil(traces),
				Usage:   usage,
				Telemetry: protocol.Telemetry{
					TraceID:            traceID,
					RetrievalLatencyMS: retrievalLatency.Milliseconds(),
					LLMLatencyMS:       llmLatency.Milliseconds(),
					ToolSteps:          toolSteps,
				},
			}, nil
		}

		if step == maxToolSteps {
			return nil, protocol.NewStatusErrorf(400, protocol.CodeLLMLimitExceeded,
				"tool step limit %d reached", maxToolSteps)
		}
		toolSteps++

		name, args := o.resolveToolCall(result.ToolName, result.ToolArgs, anchors, window, cfg)

		key := repeatKey(name, args)
		if seen[key] {
			slog.Debug("tool_call_suppressed", "tool", name, "trace_id", traceID)
			messages = append(messages, llms.Message{
				Role:    "assistant",
				Content: `TOOL_RESULT: {"notice": "identical tool call suppressed; the observation is unchanged, answer from what you have"}`,
			})
			continue
		}
		seen[key] = true

		envelope := o.executor.Execute(ctx, name, user, args, &cfg.Proxy, traceID)
		if !envelope.OK() {
			// Denials and rate limits end the loop and surface to the
			// caller unchanged. Everything else (not_found and friends)
			// stays in the loop as an observation the model can react to.
			switch envelope.Error.Status {
			case http.StatusForbidden, http.StatusTooManyRequests:
				return nil, envelope.Error
			}
			messages = append(messages, llms.Message{
				Role:    "assistant",
				Content: fmt.Sprintf("TOOL_ERROR: %s: %s", envelope.Error.Code, envelope.Error.Message),
			})
			continue
		}

		text := tools.ExtractText(envelope.Result)
		toolTokens += len(text) / 4
		if err := checkBudget(usage.TotalTokens+toolTokens, cfg.Orchestrator.ContextTokenBudget); err != nil {
			return nil, err
		}

		traces = append(traces, protocol.ToolCallTrace{
			Name:          name,
			Arguments:     args,
			ResultSummary: truncate(text, resultSummaryLimit),
		})

		resultJSON, err := json.Marshal(envelope.Result)
		if err != nil {
			resultJSON = []byte("{}")
		}
		messages = append(messages, llms.Message{
			Role:    "assistant",
			Content: "TOOL_RESULT:" + string(resultJSON),
		})
	}

	return nil, protocol.NewStatusErrorf(400, protocol.CodeLLMLoop,
		"model did not produce a final answer within %d tool steps", maxToolSteps)
}

// resolveToolCall normalizes a runtime tool call. Window calls get their
// anchor resolved from the retrieval map and their radius either clamped
// or supplied by the progressive widening state; a window call with no
// resolvable anchor degrades to reading the whole section.
func (o *Orchestrator) resolveToolCall(name string, rawArgs map[string]any, anchors map[string]string, window *progressiveWindow, cfg *config.Config) (string, map[string]any) {
	args := make(map[string]any, len(rawArgs))
	for k, v := range rawArgs {
		args[k] = v
	}
	if name != "read_chunk_window" {
		return name, args
	}

	docID := stringArg(args, "doc_id")
	sectionID := stringArg(args, "section_id")
	anchor := stringArg(args, "anchor_chunk_id")
	if anchor == "" && sectionID != "" {
		anchor = anchors[sectionID]
	}
	if anchor == "" {
		return "read_doc_section", map[string]any{"doc_id": docID, "section_id": sectionID}
	}

	maxRadius := min(cfg.Orchestrator.MaxWindowRadius(), *cfg.Proxy.MaxWindowRadius)

	var before, after int
	_, hasBefore := args["window_before"]
	_, hasAfter := args["window_after"]
	_, hasRadius := args["radius"]
	if hasBefore || hasAfter || hasRadius {
		radius := intArg(args, "radius", 0)
		before = clampRadius(intArg(args, "window_before", radius), maxRadius)
		after = clampRadius(intArg(args, "window_after", radius), maxRadius)
	} else {
		key := sectionID
		if key == "" {
			key = anchor
		}
		r := clampRadius(window.next(key), maxRadius)
		before, after = r, r
	}

	out := map[string]any{
		"doc_id":          docID,
		"anchor_chunk_id": anchor,
		"window_before":   before,
		"window_after":    after,
	}
	if sectionID != "" {
		out["section_id"] = sectionID
	}
	return name, out
}

func (o *Orchestrator) toolSpecs(proxy *config.ProxyConfig) []llms.ToolSpec {
	registered := o.executor.Registry().Tools()
	specs := make([]llms.ToolSpec, 0, len(registered))
	for _, tool := range registered {
		specs = append(specs, llms.ToolSpec{
			Name:        tool.GetName(),
			Description: tool.GetDescription(),
			Parameters:  tool.GetSchema(proxy),
		})
	}
	return specs
}

// ResolveUser exposes the caller-identity resolution for the gateway,
// which needs the tenant and user before the loop runs.
func ResolveUser(req *Request, cfg *config.OrchestratorConfig) protocol.UserContext {
	return resolveUser(req, cfg)
}

// resolveUser picks the caller identity: an explicit user block wins,
// then the (user_id, tenant_id) pair, then the configured defaults.
func resolveUser(req *Request, cfg *config.OrchestratorConfig) protocol.UserContext {
	if req.User != nil && req.User.TenantID != "" {
		user := *req.User
		if user.UserID == "" {
			user.UserID = cfg.DefaultUserID
		}
		return user
	}
	user := protocol.UserContext{UserID: req.UserID, TenantID: req.TenantID}
	if user.UserID == "" {
		user.UserID = cfg.DefaultUserID
	}
	if user.TenantID == "" {
		user.TenantID = cfg.DefaultTenantID
	}
	return user
}

func checkBudget(used, budget int) error {
	if used > budget {
		return protocol.NewStatusErrorf(400, protocol.CodeContextBudgetExceeded,
			"token usage %d exceeds context budget %d", used, budget)
	}
	return nil
}

// repeatKey identifies a tool call for suppression. Map marshaling sorts
// keys, so identical argument sets produce identical keys.
func repeatKey(name string, args map[string]any) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		return name
	}
	return name + ":" + string(encoded)
}

func clampRadius(r, max int) int {
	if r < 0 {
		return 0
	}
	if r > max {
		return max
	}
	return r
}

func truncate(text string, limit int) string {
	if len(text) > limit {
		return text[:limit]
	}
	return text
}

func emptyIfNil(traces []protocol.ToolCallTrace) []protocol.ToolCallTrace {
	if traces == nil {
		return []protocol.ToolCallTrace{}
	}
	return traces
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
