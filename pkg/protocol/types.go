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

// Package protocol holds the wire types shared by the retrieval, tool-proxy
// and orchestrator surfaces. Raw chunk text never travels inside a Hit;
// tools are the only channel that returns text, and always tenant-checked.
package protocol

// UserContext identifies the caller on every tool invocation and
// orchestrator request. TenantID is the isolation boundary.
type UserContext struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles,omitempty"`
}

// Hit is one retrieval result at doc, section or chunk granularity.
// It carries summaries and metadata only.
type Hit struct {
	DocID         string   `json:"doc_id"`
	SectionID     string   `json:"section_id,omitempty"`
	ChunkID       string   `json:"chunk_id,omitempty"`
	Score         float64  `json:"score"`
	RerankScore   *float64 `json:"rerank_score,omitempty"`
	Title         string   `json:"title,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	PageStart     int      `json:"page_start,omitempty"`
	PageEnd       int      `json:"page_end,omitempty"`
	ChunkIDs      []string `json:"chunk_ids,omitempty"`
	AnchorChunkID string   `json:"anchor_chunk_id,omitempty"`

	// DocScore is the vector score of the parent document, used for the
	// stable (doc, section) ordering between stages. Not serialized.
	DocScore float64 `json:"-"`
}

// Anchor returns the anchor chunk for a section hit: the explicit anchor
// if set, else the first chunk id, else the chunk id itself.
func (h Hit) Anchor() string {
	if h.AnchorChunkID != "" {
		return h.AnchorChunkID
	}
	if len(h.ChunkIDs) > 0 {
		return h.ChunkIDs[0]
	}
	return h.ChunkID
}

// StepTrace snapshots each retrieval stage for observability.
type StepTrace struct {
	Docs     []Hit `json:"docs"`
	Sections []Hit `json:"sections"`
	Chunks   []Hit `json:"chunks"`
}

// Chunk is one ordered unit of document text, returned only by the
// chunk-window tool and endpoint.
type Chunk struct {
	ChunkID    string `json:"chunk_id"`
	Page       int    `json:"page"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// ToolCallTrace records one executed tool call for the response envelope.
type ToolCallTrace struct {
	Name          string         `json:"name"`
	Arguments     map[string]any `json:"arguments"`
	ResultSummary string         `json:"result_summary,omitempty"`
}

// SafetyBlock summarizes the safety verdicts attached to a response.
type SafetyBlock struct {
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// Telemetry is the per-request measurement block.
type Telemetry struct {
	TraceID            string `json:"trace_id"`
	RetrievalLatencyMS int64  `json:"retrieval_latency_ms"`
	LLMLatencyMS       int64  `json:"llm_latency_ms,omitempty"`
	ToolSteps          int    `json:"tool_steps"`
}
