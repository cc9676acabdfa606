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

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of counters and histograms the pipeline reports.
type Metrics struct {
	RequestDuration  *prometheus.HistogramVec
	RequestsTotal    *prometheus.CounterVec
	LLMDuration      prometheus.Histogram
	LLMTokensTotal   *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	ToolCallsTotal   *prometheus.CounterVec
	ToolErrorsTotal  *prometheus.CounterVec
	RetrievalLatency prometheus.Histogram
	SafetyVerdicts   *prometheus.CounterVec
	RateLimitDenials *prometheus.CounterVec
}

// NewMetrics registers the metric set on the given registerer. Tests pass
// a private registry; the server passes the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visior_request_duration_seconds",
			Help:    "Assistant request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visior_requests_total",
			Help: "Total assistant requests",
		}, []string{"endpoint", "status"}),
		LLMDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "visior_llm_request_duration_seconds",
			Help:    "LLM runtime call duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		LLMTokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visior_llm_tokens_total",
			Help: "Tokens consumed by runtime calls",
		}, []string{"kind"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visior_tool_execution_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visior_tool_calls_total",
			Help: "Total tool executions",
		}, []string{"tool"}),
		ToolErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visior_tool_errors_total",
			Help: "Total tool execution errors",
		}, []string{"tool", "code"}),
		RetrievalLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "visior_retrieval_latency_seconds",
			Help:    "Retrieval pipeline latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		SafetyVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visior_safety_verdicts_total",
			Help: "Safety filter verdicts",
		}, []string{"direction", "status"}),
		RateLimitDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visior_rate_limit_denials_total",
			Help: "Requests denied by rate limiting",
		}, []string{"scope"}),
	}
}
