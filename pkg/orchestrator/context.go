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
	"encoding/json"

	"github.com/kadirpekel/visior/pkg/protocol"
)

// summaryCharLimit caps each section summary in the model context.
const summaryCharLimit = 800

type contextItem struct {
	DocID     string `json:"doc_id"`
	SectionID string `json:"section_id"`
	Title     string `json:"title,omitempty"`
	Summary   string `json:"summary,omitempty"`
	PageStart int    `json:"page_start,omitempty"`
	PageEnd   int    `json:"page_end,omitempty"`
}

// buildContext serializes section hits into the summaries-only context
// block. Items are kept in ranking order and dropped from the tail until
// the block fits the prompt token budget.
func buildContext(sections []protocol.Hit, promptTokenBudget int) string {
	items := make([]contextItem, 0, len(sections))
	charBudget := promptTokenBudget * 4
	used := 0
	for _, hit := range sections {
		summary := hit.Summary
		if len(summary) > summaryCharLimit {
			summary = summary[:summaryCharLimit]
		}
		if used+len(summary) > charBudget {
			break
		}
		used += len(summary)
		items = append(items, contextItem{
			DocID:     hit.DocID,
			SectionID: hit.SectionID,
			Title:     hit.Title,
			Summary:   summary,
			PageStart: hit.PageStart,
			PageEnd:   hit.PageEnd,
		})
	}

	for len(items) > 0 {
		encoded, err := json.Marshal(items)
		if err != nil {
			return "[]"
		}
		if CountTokens(string(encoded)) <= promptTokenBudget {
			return string(encoded)
		}
		items = items[:len(items)-1]
	}
	return "[]"
}

// sectionAnchors maps each retrieved section to its anchor chunk, used to
// resolve window calls that name a section but no anchor.
func sectionAnchors(resp []protocol.Hit) map[string]string {
	anchors := make(map[string]string, len(resp))
	for _, hit := range resp {
		if anchor := hit.Anchor(); anchor != "" {
			if _, exists := anchors[hit.SectionID]; !exists {
				anchors[hit.SectionID] = anchor
			}
		}
	}
	return anchors
}
