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
	"sort"

	"github.com/kadirpekel/visior/pkg/protocol"
	"github.com/kadirpekel/visior/pkg/vector"
)

// ChunkWindow returns the ordered chunk run [anchor-before, anchor+after]
// for one document. Ordering is (page, chunk_index); the slice is clamped
// at the document boundaries.
func (r *Retriever) ChunkWindow(ctx context.Context, tenantID, docID, anchorChunkID string, before, after int) ([]protocol.Chunk, error) {
	if tenantID == "" || docID == "" || anchorChunkID == "" {
		return nil, protocol.ErrBadRequest("tenant_id, doc_id and anchor_chunk_id are required")
	}
	if before < 0 || after < 0 {
		return nil, protocol.ErrBadRequest("window bounds must be non-negative")
	}

	collection := r.store.Snapshot().Vector.ChunksCollection
	filter := &vector.Filter{}
	filter.Eq("doc_id", docID)
	results, err := r.gateway.Scan(ctx, collection, tenantID, filter, 0)
	if err != nil {
		return nil, protocol.ErrUpstream(fmt.Sprintf("chunk scan failed: %v", err))
	}

	chunks := make([]protocol.Chunk, 0, len(results))
	for _, res := range results {
		chunks = append(chunks, protocol.Chunk{
			ChunkID:    metaString(res.Metadata, "chunk_id", res.ID),
			Page:       metaInt(res.Metadata, "page"),
			ChunkIndex: metaInt(res.Metadata, "chunk_index"),
			Text:       res.Content,
		})
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Page != chunks[j].Page {
			return chunks[i].Page < chunks[j].Page
		}
		if chunks[i].ChunkIndex != chunks[j].ChunkIndex {
			return chunks[i].ChunkIndex < chunks[j].ChunkIndex
		}
		return chunks[i].ChunkID < chunks[j].ChunkID
	})

	anchor := -1
	for i, chunk := range chunks {
		if chunk.ChunkID == anchorChunkID {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return nil, protocol.ErrNotFound("anchor_chunk_not_found")
	}

	lo := max(0, anchor-before)
	hi := min(len(chunks), anchor+after+1)
	return chunks[lo:hi], nil
}
