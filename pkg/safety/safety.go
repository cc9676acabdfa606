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

// Package safety is the layered content filter that fronts both user
// input and model output. Layers run in order; the first non-allowed
// verdict wins. Re-filtering an already transformed text yields the
// same text.
package safety

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kadirpekel/visior/pkg/config"
)

// Verdict statuses.
const (
	StatusAllowed     = "allowed"
	StatusBlocked     = "blocked"
	StatusTransformed = "transformed"
)

// Verdict is the filter decision for one piece of content.
type Verdict struct {
	Status   string   `json:"status"`
	Reason   string   `json:"reason"`
	Message  string   `json:"message"`
	RiskTags []string `json:"risk_tags,omitempty"`
	// Content is the (possibly redacted) text. Empty when blocked.
	Content  string `json:"content,omitempty"`
	PolicyID string `json:"policy_id"`
	TraceID  string `json:"trace_id"`
}

// Blocked reports whether the verdict rejects the content.
func (v Verdict) Blocked() bool {
	return v.Status == StatusBlocked
}

var (
	injectionMarkers = []string{"ignore previous", "disregard", "override", "system prompt"}

	dataLeakVocabulary = []string{"confidential", "internal use", "top secret", "password", "api key", "token"}

	piiPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{16}\b`),
		regexp.MustCompile(`\b\d{3}[- ]?\d{2}[- ]?\d{4}\b`),
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		regexp.MustCompile(`\b\+?\d{11,14}\b`),
	}
)

const redactionToken = "[REDACTED]"

// Filter evaluates content against the configured policy layers.
type Filter struct {
	guard Guard
}

// NewFilter creates a filter. guard may be nil.
func NewFilter(guard Guard) *Filter {
	return &Filter{guard: guard}
}

// CheckInput evaluates user-supplied content. Layer order: blocklist,
// injection markers, PII, optional LLM guard. PII on inputs blocks only
// in strict mode; balanced redacts when sanitization is on and otherwise
// lets the tagged query continue to the guard.
func (f *Filter) CheckInput(ctx context.Context, cfg *config.SafetyConfig, content, traceID string) Verdict {
	traceID = ensureTraceID(traceID)

	if term := matchBlocklist(cfg.Blocklist, content); term != "" {
		return Verdict{
			Status:   StatusBlocked,
			Reason:   "disallowed_content",
			Message:  fmt.Sprintf("keyword '%s' is not permitted", term),
			RiskTags: []string{"security_exploit"},
			PolicyID: cfg.PolicyID,
			TraceID:  traceID,
		}
	}

	lower := strings.ToLower(content)
	for _, marker := range injectionMarkers {
		if strings.Contains(lower, marker) {
			return Verdict{
				Status:   StatusBlocked,
				Reason:   "prompt_injection",
				Message:  "prompt injection attempt detected",
				RiskTags: []string{"prompt_injection"},
				PolicyID: cfg.PolicyID,
				TraceID:  traceID,
			}
		}
	}

	var riskTags []string
	if detectPII(content) {
		riskTags = append(riskTags, "pii")
		switch cfg.PolicyMode {
		case "strict":
			return Verdict{
				Status:   StatusBlocked,
				Reason:   "pii_detected",
				Message:  "query contains sensitive information",
				RiskTags: riskTags,
				PolicyID: cfg.PolicyID,
				TraceID:  traceID,
			}
		case "relaxed":
			// Tagged but allowed through.
		default: // balanced
			if cfg.EnablePIISanitize != nil && *cfg.EnablePIISanitize {
				return Verdict{
					Status:   StatusTransformed,
					Reason:   "pii_sanitized",
					Message:  "Sensitive data removed from query.",
					RiskTags: riskTags,
					Content:  redactPII(content),
					PolicyID: cfg.PolicyID,
					TraceID:  traceID,
				}
			}
		}
	}

	verdict := Verdict{
		Status:   StatusAllowed,
		Reason:   "clean",
		Message:  "Request complies with safety policy",
		RiskTags: riskTags,
		Content:  content,
		PolicyID: cfg.PolicyID,
		TraceID:  traceID,
	}
	return f.applyGuard(ctx, cfg, verdict)
}

// CheckOutput evaluates model-produced content. Layer order: blocklist,
// data-leak vocabulary, PII, optional LLM guard. Outputs block whenever
// sanitization is disabled; policy_mode applies to inputs only.
func (f *Filter) CheckOutput(ctx context.Context, cfg *config.SafetyConfig, content, traceID string) Verdict {
	traceID = ensureTraceID(traceID)
	sanitize := cfg.EnablePIISanitize != nil && *cfg.EnablePIISanitize

	if term := matchBlocklist(cfg.Blocklist, content); term != "" {
		return Verdict{
			Status:   StatusBlocked,
			Reason:   "disallowed_content",
			Message:  fmt.Sprintf("Answer contains forbidden topic '%s'", term),
			RiskTags: []string{"disallowed_content"},
			PolicyID: cfg.PolicyID,
			TraceID:  traceID,
		}
	}

	lower := strings.ToLower(content)
	for _, term := range dataLeakVocabulary {
		if strings.Contains(lower, term) {
			verdict := Verdict{
				Reason:   "data_leak_suspected",
				Message:  "Answer references internal or confidential data",
				RiskTags: []string{"data_leak"},
				PolicyID: cfg.PolicyID,
				TraceID:  traceID,
			}
			if sanitize {
				verdict.Status = StatusTransformed
				verdict.Content = redactPII(content)
			} else {
				verdict.Status = StatusBlocked
			}
			return verdict
		}
	}

	if detectPII(content) {
		verdict := Verdict{
			RiskTags: []string{"pii"},
			PolicyID: cfg.PolicyID,
			TraceID:  traceID,
		}
		if sanitize {
			verdict.Status = StatusTransformed
			verdict.Reason = "pii_sanitized"
			verdict.Message = "Sensitive data removed from answer"
			verdict.Content = redactPII(content)
		} else {
			verdict.Status = StatusBlocked
			verdict.Reason = "pii_detected"
			verdict.Message = "Answer contains PII"
		}
		return verdict
	}

	verdict := Verdict{
		Status:   StatusAllowed,
		Reason:   "clean",
		Message:  "Answer complies with safety policy",
		Content:  content,
		PolicyID: cfg.PolicyID,
		TraceID:  traceID,
	}
	return f.applyGuard(ctx, cfg, verdict)
}

func matchBlocklist(blocklist []string, content string) string {
	lower := strings.ToLower(content)
	for _, term := range blocklist {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return strings.ToLower(term)
		}
	}
	return ""
}

func detectPII(content string) bool {
	for _, pattern := range piiPatterns {
		if pattern.MatchString(content) {
			return true
		}
	}
	return false
}

func redactPII(content string) string {
	redacted := content
	for _, pattern := range piiPatterns {
		redacted = pattern.ReplaceAllString(redacted, redactionToken)
	}
	return redacted
}

func (f *Filter) applyGuard(ctx context.Context, cfg *config.SafetyConfig, verdict Verdict) Verdict {
	if f.guard == nil || cfg.Guard.Enabled == nil || !*cfg.Guard.Enabled {
		return verdict
	}

	decision, err := f.guard.Review(ctx, verdict.Content)
	if err != nil {
		if cfg.Guard.FailOpen != nil && *cfg.Guard.FailOpen {
			return verdict
		}
		return Verdict{
			Status:   StatusBlocked,
			Reason:   "safety_guard_unavailable",
			Message:  "LLM guard unavailable",
			RiskTags: append(verdict.RiskTags, "llm_guard_unavailable"),
			PolicyID: cfg.PolicyID,
			TraceID:  verdict.TraceID,
		}
	}

	if decision == DecisionBlock {
		return Verdict{
			Status:   StatusBlocked,
			Reason:   "llm_policy_violation",
			Message:  "Blocked by safeguard model",
			RiskTags: append(verdict.RiskTags, "llm_policy_violation"),
			PolicyID: cfg.PolicyID,
			TraceID:  verdict.TraceID,
		}
	}

	return verdict
}

func ensureTraceID(traceID string) string {
	if traceID == "" {
		return uuid.NewString()
	}
	return traceID
}
