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
	"strings"

	"github.com/kadirpekel/visior/pkg/catalog"
	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/protocol"
)

// ReadChunkWindow returns the contiguous ordered chunk window
// [anchor-before, anchor+after] around an anchor chunk.
type ReadChunkWindow struct {
	repo     catalog.Repository
	windower ChunkWindower
}

func (t *ReadChunkWindow) GetName() string { return "read_chunk_window" }

func (t *ReadChunkWindow) GetDescription() string {
	return "Read an ordered window of chunks around an anchor chunk. Start small and expand gradually."
}

func (t *ReadChunkWindow) GetSchema(proxy *config.ProxyConfig) map[string]any {
	maxRadius := *proxy.MaxWindowRadius
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id":          map[string]any{"type": "string"},
			"section_id":      map[string]any{"type": "string"},
			"anchor_chunk_id": map[string]any{"type": "string"},
			"window_before":   map[string]any{"type": "integer", "minimum": 0, "maximum": maxRadius},
			"window_after":    map[string]any{"type": "integer", "minimum": 0, "maximum": maxRadius},
			"radius":          map[string]any{"type": "integer", "minimum": 0, "maximum": maxRadius},
		},
		"required": []string{"doc_id", "anchor_chunk_id"},
	}
}

func (t *ReadChunkWindow) Execute(ctx context.Context, req Request) (map[string]any, error) {
	docID := stringArg(req.Args, "doc_id")
	anchor := stringArg(req.Args, "anchor_chunk_id")
	if docID == "" || anchor == "" {
		return nil, protocol.ErrBadRequest("doc_id and anchor_chunk_id are required")
	}

	radius := intArg(req.Args, "radius", -1)
	before := intArg(req.Args, "window_before", radius)
	after := intArg(req.Args, "window_after", radius)
	if before < 0 || after < 0 {
		return nil, protocol.ErrBadRequest("window_before and window_after must be non-negative")
	}

	maxRadius := *req.Proxy.MaxWindowRadius
	if requested := max(before, after); requested > maxRadius {
		return nil, protocol.NewStatusErrorf(400, protocol.CodeWindowTooLarge,
			"requested radius %d exceeds maximum %d", requested, maxRadius)
	}

	if _, err := checkDocAccess(ctx, t.repo, req.User, docID); err != nil {
		return nil, err
	}

	chunks, err := t.windower.ChunkWindow(ctx, req.User.TenantID, docID, anchor, before, after)
	if err != nil {
		return nil, err
	}

	// Split the byte budget evenly over the returned chunks.
	perChunkBudget := req.Proxy.MaxTextBytes
	if len(chunks) > 0 {
		perChunkBudget = req.Proxy.MaxTextBytes / len(chunks)
	}

	totalBytes := 0
	out := make([]map[string]any, 0, len(chunks))
	for _, chunk := range chunks {
		text := chunk.Text
		if len(text) > perChunkBudget {
			text = text[:perChunkBudget]
		}
		totalBytes += len(text)
		out = append(out, map[string]any{
			"chunk_id":    chunk.ChunkID,
			"page":        chunk.Page,
			"chunk_index": chunk.ChunkIndex,
			"text":        text,
		})
	}

	return map[string]any{
		"doc_id":          docID,
		"anchor_chunk_id": anchor,
		"window_before":   before,
		"window_after":    after,
		"chunks":          out,
		"count":           len(out),
		"tokens":          min(totalBytes/4, req.Proxy.RateLimitTokens),
	}, nil
}

// ListAvailableTools reports the registered tool names.
type ListAvailableTools struct {
	registry *Registry
}

func (t *ListAvailableTools) GetName() string { return "list_available_tools" }

func (t *ListAvailableTools) GetDescription() string {
	return "List the names of the available tools."
}

func (t *ListAvailableTools) GetSchema(_ *config.ProxyConfig) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *ListAvailableTools) Execute(_ context.Context, _ Request) (map[string]any, error) {
	return map[string]any{"tools": t.registry.Names()}, nil
}

// ExtractText pulls the human-readable text out of a tool result: joined
// chunk texts when present, the text field otherwise.
func ExtractText(result map[string]any) string {
	if chunks, ok := result["chunks"].([]map[string]any); ok {
		parts := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			if text, ok := chunk["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, " ")
	}
	if chunks, ok := result["chunks"].([]any); ok {
		parts := make([]string, 0, len(chunks))
		for _, raw := range chunks {
			if chunk, ok := raw.(map[string]any); ok {
				if text, ok := chunk["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, " ")
	}
	if text, ok := result["text"].(string); ok {
		return text
	}
	return ""
}
