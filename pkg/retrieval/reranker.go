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

package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kadirpekel/visior/pkg/llms"
	"github.com/kadirpekel/visior/pkg/protocol"
)

// rerankSummaryLimit caps how much of each section summary reaches the
// scoring prompt.
const rerankSummaryLimit = 500

const rerankSystemPrompt = `You are a relevance scorer. Given a query and a list of document sections, score each section's relevance to the query from 0.0 to 1.0. Respond with a JSON object of the form {"results": [{"doc_id": "...", "section_id": "...", "rerank_score": 0.0}]} covering every section.`

// Reranker asks an LLM to re-score section hits. It never fails a
// retrieval: any error leaves the input ordering untouched.
type Reranker struct {
	llm llms.Provider
}

// NewReranker wraps an LLM provider.
func NewReranker(llm llms.Provider) *Reranker {
	return &Reranker{llm: llm}
}

// Rerank scores sections, drops those below threshold and keeps the top n.
func (r *Reranker) Rerank(ctx context.Context, query, model string, sections []protocol.Hit, topN int, threshold float64) []protocol.Hit {
	scores, err := r.score(ctx, query, model, sections)
	if err != nil {
		slog.Warn("rerank_failed", "error", err)
		return sections
	}

	out := make([]protocol.Hit, 0, len(sections))
	for _, section := range sections {
		score, ok := scores[rerankKey(section.DocID, section.SectionID)]
		if !ok {
			score = 0
		}
		s := score
		section.RerankScore = &s
		if s < threshold {
			continue
		}
		out = append(out, section)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := *out[i].RerankScore, *out[j].RerankScore
		if a != b {
			return a > b
		}
		if out[i].DocID != out[j].DocID {
			return out[i].DocID < out[j].DocID
		}
		return out[i].SectionID < out[j].SectionID
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

func (r *Reranker) score(ctx context.Context, query, model string, sections []protocol.Hit) (map[string]float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nSections:\n", query)
	for i, section := range sections {
		summary := section.Summary
		if len(summary) > rerankSummaryLimit {
			summary = summary[:rerankSummaryLimit]
		}
		fmt.Fprintf(&b, "%d. doc_id=%s section_id=%s title=%q summary=%q\n",
			i+1, section.DocID, section.SectionID, section.Title, summary)
	}

	result, err := r.llm.Chat(ctx, llms.ChatRequest{
		Model: model,
		Messages: []llms.Message{
			{Role: "system", Content: rerankSystemPrompt},
			{Role: "user", Content: b.String()},
		},
		JSONOnly: true,
	})
	if err != nil {
		return nil, err
	}
	if result.Kind != llms.ResultMessage {
		return nil, fmt.Errorf("reranker returned a tool call")
	}
	return parseRerankScores(result.Message)
}

type rerankEntry struct {
	DocID       string   `json:"doc_id"`
	SectionID   string   `json:"section_id"`
	RerankScore *float64 `json:"rerank_score"`
	Score       *float64 `json:"score"`
}

// parseRerankScores accepts either a bare JSON array or an object whose
// "results" key holds one.
func parseRerankScores(content string) (map[string]float64, error) {
	content = strings.TrimSpace(content)

	var entries []rerankEntry
	if err := json.Unmarshal([]byte(content), &entries); err != nil {
		var wrapper struct {
			Results []rerankEntry `json:"results"`
		}
		if err := json.Unmarshal([]byte(content), &wrapper); err != nil {
			return nil, fmt.Errorf("unparseable rerank response: %w", err)
		}
		entries = wrapper.Results
	}

	scores := make(map[string]float64, len(entries))
	for _, entry := range entries {
		value := 0.0
		switch {
		case entry.RerankScore != nil:
			value = *entry.RerankScore
		case entry.Score != nil:
			value = *entry.Score
		}
		if value < 0 {
			value = 0
		}
		if value > 1 {
			value = 1
		}
		scores[rerankKey(entry.DocID, entry.SectionID)] = value
	}
	return scores, nil
}

func rerankKey(docID, sectionID string) string {
	return docID + "::" + sectionID
}
