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

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kadirpekel/visior/pkg/orchestrator"
	"github.com/kadirpekel/visior/pkg/protocol"
	"github.com/kadirpekel/visior/pkg/ratelimit"
	"github.com/kadirpekel/visior/pkg/retrieval"
	"github.com/kadirpekel/visior/pkg/safety"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response_encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	se := protocol.AsStatusError(err)
	writeJSON(w, se.Status, se)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return protocol.ErrBadRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAssistantQuery is the public entry point: safety on the way in,
// per-(tenant,user) rate limit, the orchestrator loop, safety on the way
// out.
func (s *Server) handleAssistantQuery(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TraceID == "" {
		req.TraceID = requestTraceID(r)
	}

	cfg := s.deps.Store.Snapshot()
	user := orchestrator.ResolveUser(&req, &cfg.Orchestrator)

	inputVerdict := s.deps.Safety.CheckInput(r.Context(), &cfg.Safety, req.Query, req.TraceID)
	s.recordVerdict("input", inputVerdict.Status)
	if inputVerdict.Blocked() {
		writeSafetyBlocked(w, inputVerdict)
		return
	}
	if inputVerdict.Status == safety.StatusTransformed {
		req.Query = inputVerdict.Content
	}

	limitKey := ratelimit.Key(user.TenantID, user.UserID)
	if err := s.gatewayLimiter.Allow("gateway", limitKey, len(req.Query)/4); err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RateLimitDenials.WithLabelValues("gateway").Inc()
		}
		writeError(w, err)
		return
	}

	resp, err := s.deps.Orchestrator.Respond(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	outputVerdict := s.deps.Safety.CheckOutput(r.Context(), &cfg.Safety, resp.Answer, req.TraceID)
	s.recordVerdict("output", outputVerdict.Status)
	if outputVerdict.Blocked() {
		writeSafetyBlocked(w, outputVerdict)
		return
	}
	if outputVerdict.Status == safety.StatusTransformed {
		resp.Answer = outputVerdict.Content
	}
	resp.Safety = protocol.SafetyBlock{Input: inputVerdict.Status, Output: outputVerdict.Status}

	writeJSON(w, http.StatusOK, resp)
}

// writeSafetyBlocked renders a blocking verdict, whichever direction it
// came from, as the same 400 shape.
func writeSafetyBlocked(w http.ResponseWriter, verdict safety.Verdict) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"code":      "safety_blocked",
		"reason":    verdict.Reason,
		"message":   verdict.Message,
		"risk_tags": verdict.RiskTags,
		"policy_id": verdict.PolicyID,
		"trace_id":  verdict.TraceID,
	})
}

func (s *Server) recordVerdict(direction, status string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.SafetyVerdicts.WithLabelValues(direction, status).Inc()
	}
}

func (s *Server) handleOrchestratorRespond(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TraceID == "" {
		req.TraceID = requestTraceID(r)
	}
	if req.TenantID == "" {
		req.TenantID = requestTenantID(r)
	}
	resp, err := s.deps.Orchestrator.Respond(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// adminView is the admin-mutable slice of the config.
func adminView(w http.ResponseWriter, s *Server) {
	cfg := s.deps.Store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"safety":       cfg.Safety,
		"retrieval":    cfg.Retrieval,
		"orchestrator": cfg.Orchestrator,
		"proxy":        cfg.Proxy,
	})
}

func (s *Server) handleConfigGet(w http.ResponseWriter, _ *http.Request) {
	adminView(w, s)
}

func (s *Server) handleConfigPatch(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.deps.Store.Patch(patch); err != nil {
		writeError(w, protocol.ErrBadRequest(err.Error()))
		return
	}
	slog.Info("config_patched", "sections", len(patch))
	adminView(w, s)
}

func (s *Server) handleRetrievalSearch(w http.ResponseWriter, r *http.Request) {
	var query retrieval.Query
	if err := decodeBody(r, &query); err != nil {
		writeError(w, err)
		return
	}
	if query.TenantID == "" {
		query.TenantID = requestTenantID(r)
	}
	resp, err := s.deps.Retriever.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChunkWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID      string `json:"tenant_id"`
		DocID         string `json:"doc_id"`
		AnchorChunkID string `json:"anchor_chunk_id"`
		WindowBefore  int    `json:"window_before"`
		WindowAfter   int    `json:"window_after"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TenantID == "" {
		req.TenantID = requestTenantID(r)
	}
	chunks, err := s.deps.Retriever.ChunkWindow(r.Context(), req.TenantID, req.DocID, req.AnchorChunkID, req.WindowBefore, req.WindowAfter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":          req.DocID,
		"anchor_chunk_id": req.AnchorChunkID,
		"chunks":          chunks,
		"count":           len(chunks),
	})
}

// handleMCPExecute runs one tool call. The envelope always travels as
// HTTP 200; failures live inside it.
func (s *Server) handleMCPExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToolName  string                `json:"tool_name"`
		User      *protocol.UserContext `json:"user,omitempty"`
		UserID    string                `json:"user_id,omitempty"`
		TenantID  string                `json:"tenant_id,omitempty"`
		Arguments map[string]any        `json:"arguments"`
		TraceID   string                `json:"trace_id,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TraceID == "" {
		req.TraceID = requestTraceID(r)
	}

	user := protocol.UserContext{UserID: req.UserID, TenantID: req.TenantID}
	if req.User != nil {
		user = *req.User
	}
	if user.TenantID == "" {
		user.TenantID = requestTenantID(r)
	}

	cfg := s.deps.Store.Snapshot()
	envelope := s.deps.Executor.Execute(r.Context(), req.ToolName, user, req.Arguments, &cfg.Proxy, req.TraceID)
	writeJSON(w, http.StatusOK, envelope)
}

func (s *Server) handleSafetyCheck(input bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
			TraceID string `json:"trace_id,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.TraceID == "" {
			req.TraceID = requestTraceID(r)
		}

		cfg := s.deps.Store.Snapshot()
		var verdict safety.Verdict
		if input {
			verdict = s.deps.Safety.CheckInput(r.Context(), &cfg.Safety, req.Content, req.TraceID)
			s.recordVerdict("input", verdict.Status)
		} else {
			verdict = s.deps.Safety.CheckOutput(r.Context(), &cfg.Safety, req.Content, req.TraceID)
			s.recordVerdict("output", verdict.Status)
		}
		writeJSON(w, http.StatusOK, verdict)
	}
}
