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
	"fmt"
	"strings"

	"github.com/kadirpekel/visior/pkg/catalog"
	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/embedders"
	"github.com/kadirpekel/visior/pkg/vector"
)

const (
	docSummaryLimit     = 200
	sectionSummaryLimit = 150
)

// IndexDocument writes one catalog document into the docs, sections and
// chunks collections. Chunking is one chunk per page within each section;
// chunk_index runs across the whole document so window order is total.
func IndexDocument(ctx context.Context, provider vector.Provider, cols *config.VectorConfig, embedder embedders.Embedder, doc *catalog.Document) error {
	docVec, err := embedder.Embed(ctx, doc.Title+" "+truncate(doc.Content, docSummaryLimit))
	if err != nil {
		return fmt.Errorf("failed to embed document '%s': %w", doc.DocID, err)
	}
	// Tags are stored lowercased so keyword-match backends compare them
	// case-insensitively; the query side lowers its values to match.
	err = provider.Upsert(ctx, cols.DocsCollection, doc.DocID, docVec, map[string]any{
		"tenant_id": doc.TenantID,
		"doc_id":    doc.DocID,
		"title":     doc.Title,
		"summary":   truncate(doc.Content, docSummaryLimit),
		"pages":     doc.Pages,
		"tags":      lowerAll(doc.Tags),
	})
	if err != nil {
		return fmt.Errorf("failed to index document '%s': %w", doc.DocID, err)
	}

	chunkIndex := 0
	for _, section := range doc.Sections {
		text, _ := doc.SectionText(section.SectionID)

		chunkIDs := make([]string, 0, section.PageEnd-section.PageStart+1)
		for page := section.PageStart; page <= section.PageEnd; page++ {
			chunkID := fmt.Sprintf("%s:%s:%d", doc.DocID, section.SectionID, chunkIndex)
			chunkIDs = append(chunkIDs, chunkID)

			pageText := doc.PageText(page)
			chunkVec, err := embedder.Embed(ctx, pageText)
			if err != nil {
				return fmt.Errorf("failed to embed chunk '%s': %w", chunkID, err)
			}
			err = provider.Upsert(ctx, cols.ChunksCollection, chunkID, chunkVec, map[string]any{
				"tenant_id":   doc.TenantID,
				"doc_id":      doc.DocID,
				"section_id":  section.SectionID,
				"chunk_id":    chunkID,
				"page":        page,
				"chunk_index": chunkIndex,
				"content":     pageText,
			})
			if err != nil {
				return fmt.Errorf("failed to index chunk '%s': %w", chunkID, err)
			}
			chunkIndex++
		}

		anchorChunkID := ""
		if len(chunkIDs) > 0 {
			anchorChunkID = chunkIDs[0]
		}

		sectionVec, err := embedder.Embed(ctx, section.Title+" "+truncate(text, sectionSummaryLimit))
		if err != nil {
			return fmt.Errorf("failed to embed section '%s': %w", section.SectionID, err)
		}
		err = provider.Upsert(ctx, cols.SectionsCollection, doc.DocID+"::"+section.SectionID, sectionVec, map[string]any{
			"tenant_id":       doc.TenantID,
			"doc_id":          doc.DocID,
			"section_id":      section.SectionID,
			"title":           section.Title,
			"summary":         truncate(text, sectionSummaryLimit),
			"page_start":      section.PageStart,
			"page_end":        section.PageEnd,
			"chunk_ids":       chunkIDs,
			"anchor_chunk_id": anchorChunkID,
		})
		if err != nil {
			return fmt.Errorf("failed to index section '%s': %w", section.SectionID, err)
		}
	}
	return nil
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

func truncate(text string, limit int) string {
	if len(text) > limit {
		return text[:limit]
	}
	return text
}
