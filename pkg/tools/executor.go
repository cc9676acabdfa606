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

package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/observability"
	"github.com/kadirpekel/visior/pkg/protocol"
	"github.com/kadirpekel/visior/pkg/ratelimit"
)

const proxyScope = "proxy"

// Envelope is the uniform tool-proxy response. It always travels as HTTP
// 200; errors live inside so the model can react to them.
type Envelope struct {
	Status  string                `json:"status"` // "ok" or "error"
	Result  map[string]any        `json:"result,omitempty"`
	Error   *protocol.StatusError `json:"error,omitempty"`
	TraceID string                `json:"trace_id"`
}

// OK reports whether the execution succeeded.
func (e Envelope) OK() bool {
	return e.Status == "ok"
}

// Executor runs tools under access control and rate limits.
type Executor struct {
	registry *Registry
	limiter  *ratelimit.Limiter
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// NewExecutor creates an executor. metrics may be nil.
func NewExecutor(registry *Registry, limiter *ratelimit.Limiter, metrics *observability.Metrics) *Executor {
	return &Executor{
		registry: registry,
		limiter:  limiter,
		metrics:  metrics,
		tracer:   observability.GetTracer("visior/tools"),
	}
}

// Registry exposes the tool set for schema generation.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs one tool call and wraps the outcome in an Envelope.
func (e *Executor) Execute(ctx context.Context, name string, user protocol.UserContext, args map[string]any, proxy *config.ProxyConfig, traceID string) Envelope {
	ctx, span := e.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool", name),
			attribute.String("tenant_id", user.TenantID),
		))
	defer span.End()

	started := time.Now()
	envelope := e.execute(ctx, name, user, args, proxy, traceID)

	if e.metrics != nil {
		e.metrics.ToolCallsTotal.WithLabelValues(name).Inc()
		e.metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
		if !envelope.OK() {
			e.metrics.ToolErrorsTotal.WithLabelValues(name, envelope.Error.Code).Inc()
		}
	}

	if !envelope.OK() {
		slog.Debug("tool_execution_failed",
			"tool", name,
			"code", envelope.Error.Code,
			"trace_id", traceID)
	}
	return envelope
}

func (e *Executor) execute(ctx context.Context, name string, user protocol.UserContext, args map[string]any, proxy *config.ProxyConfig, traceID string) Envelope {
	if user.TenantID == "" {
		return errorEnvelope(protocol.ErrBadRequest("tenant_id is required"), traceID)
	}

	tool, ok := e.registry.Get(name)
	if !ok {
		return errorEnvelope(protocol.ErrNotFound("tool_not_found"), traceID)
	}

	// Argument bytes stand in for the request's token cost; the real
	// output cost is reported inside the result.
	if e.limiter != nil {
		key := ratelimit.Key(user.TenantID, stringArg(args, "doc_id"))
		if err := e.limiter.Allow(proxyScope, key, estimateArgsTokens(args)); err != nil {
			if e.metrics != nil {
				e.metrics.RateLimitDenials.WithLabelValues(proxyScope).Inc()
			}
			return errorEnvelope(err, traceID)
		}
	}

	result, err := tool.Execute(ctx, Request{User: user, Args: args, Proxy: proxy})
	if err != nil {
		return errorEnvelope(err, traceID)
	}

	return Envelope{Status: "ok", Result: result, TraceID: traceID}
}

func errorEnvelope(err error, traceID string) Envelope {
	return Envelope{Status: "error", Error: protocol.AsStatusError(err), TraceID: traceID}
}

func estimateArgsTokens(args map[string]any) int {
	encoded, err := json.Marshal(args)
	if err != nil {
		return 16
	}
	return len(encoded)/4 + 16
}
