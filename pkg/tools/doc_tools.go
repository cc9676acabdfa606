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
	"fmt"
	"strings"

	"github.com/kadirpekel/visior/pkg/catalog"
	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/protocol"
)

// ReadDocSection returns one section's text, capped at max_text_bytes.
type ReadDocSection struct {
	repo catalog.Repository
}

func (t *ReadDocSection) GetName() string { return "read_doc_section" }

func (t *ReadDocSection) GetDescription() string {
	return "Read the full text of one document section."
}

func (t *ReadDocSection) GetSchema(_ *config.ProxyConfig) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id":     map[string]any{"type": "string"},
			"section_id": map[string]any{"type": "string"},
		},
		"required": []string{"doc_id", "section_id"},
	}
}

func (t *ReadDocSection) Execute(ctx context.Context, req Request) (map[string]any, error) {
	docID := stringArg(req.Args, "doc_id")
	sectionID := stringArg(req.Args, "section_id")
	if docID == "" || sectionID == "" {
		return nil, protocol.ErrBadRequest("doc_id and section_id are required")
	}

	doc, err := checkDocAccess(ctx, t.repo, req.User, docID)
	if err != nil {
		return nil, err
	}

	text, ok := doc.SectionText(sectionID)
	if !ok {
		return nil, protocol.ErrNotFound("section_not_found")
	}
	if len(text) > req.Proxy.MaxTextBytes {
		text = text[:req.Proxy.MaxTextBytes]
	}

	return map[string]any{
		"doc_id":     docID,
		"section_id": sectionID,
		"text":       text,
		"tokens":     min(estimateTokens(text), req.Proxy.RateLimitTokens),
	}, nil
}

// ReadDocPages returns a bounded page span.
type ReadDocPages struct {
	repo catalog.Repository
}

func (t *ReadDocPages) GetName() string { return "read_doc_pages" }

func (t *ReadDocPages) GetDescription() string {
	return "Read a contiguous span of document pages."
}

func (t *ReadDocPages) GetSchema(proxy *config.ProxyConfig) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id":     map[string]any{"type": "string"},
			"page_start": map[string]any{"type": "integer", "minimum": 1},
			"page_end":   map[string]any{"type": "integer", "minimum": 1},
		},
		"required":    []string{"doc_id", "page_start", "page_end"},
		"description": fmt.Sprintf("At most %d pages per call.", proxy.MaxPagesPerCall),
	}
}

func (t *ReadDocPages) Execute(ctx context.Context, req Request) (map[string]any, error) {
	docID := stringArg(req.Args, "doc_id")
	if docID == "" {
		return nil, protocol.ErrBadRequest("doc_id is required")
	}
	pageStart := intArg(req.Args, "page_start", 0)
	pageEnd := intArg(req.Args, "page_end", 0)
	if pageStart < 1 || pageEnd < pageStart {
		return nil, protocol.ErrBadRequest("page_start and page_end must form a valid 1-based span")
	}
	if span := pageEnd - pageStart + 1; span > req.Proxy.MaxPagesPerCall {
		return nil, protocol.ErrBadRequest(
			fmt.Sprintf("page span %d exceeds maximum %d", span, req.Proxy.MaxPagesPerCall))
	}

	doc, err := checkDocAccess(ctx, t.repo, req.User, docID)
	if err != nil {
		return nil, err
	}

	text := doc.SpanText(pageStart, pageEnd)
	if len(text) > req.Proxy.MaxTextBytes {
		text = text[:req.Proxy.MaxTextBytes]
	}

	return map[string]any{
		"doc_id":     docID,
		"page_start": pageStart,
		"page_end":   pageEnd,
		"text":       text,
		"tokens":     min(estimateTokens(text), req.Proxy.RateLimitTokens),
	}, nil
}

// ReadDocMetadata returns the catalog record without any content.
type ReadDocMetadata struct {
	repo catalog.Repository
}

func (t *ReadDocMetadata) GetName() string { return "read_doc_metadata" }

func (t *ReadDocMetadata) GetDescription() string {
	return "Read a document's title, tags, page count and section map."
}

func (t *ReadDocMetadata) GetSchema(_ *config.ProxyConfig) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id": map[string]any{"type": "string"},
		},
		"required": []string{"doc_id"},
	}
}

func (t *ReadDocMetadata) Execute(ctx context.Context, req Request) (map[string]any, error) {
	docID := stringArg(req.Args, "doc_id")
	if docID == "" {
		return nil, protocol.ErrBadRequest("doc_id is required")
	}

	doc, err := checkDocAccess(ctx, t.repo, req.User, docID)
	if err != nil {
		return nil, err
	}

	return doc.Metadata(), nil
}

// DocLocalSearch substring-searches one document and returns snippets.
type DocLocalSearch struct {
	repo catalog.Repository
}

const (
	snippetRadius    = 80
	maxSearchResults = 5
)

func (t *DocLocalSearch) GetName() string { return "doc_local_search" }

func (t *DocLocalSearch) GetDescription() string {
	return "Search within one document and return short snippets."
}

func (t *DocLocalSearch) GetSchema(_ *config.ProxyConfig) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id":      map[string]any{"type": "string"},
			"query":       map[string]any{"type": "string"},
			"max_results": map[string]any{"type": "integer", "minimum": 1, "maximum": maxSearchResults},
		},
		"required": []string{"doc_id", "query"},
	}
}

func (t *DocLocalSearch) Execute(ctx context.Context, req Request) (map[string]any, error) {
	docID := stringArg(req.Args, "doc_id")
	query := stringArg(req.Args, "query")
	if docID == "" || query == "" {
		return nil, protocol.ErrBadRequest("doc_id and query are required")
	}

	maxResults := intArg(req.Args, "max_results", maxSearchResults)
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	doc, err := checkDocAccess(ctx, t.repo, req.User, docID)
	if err != nil {
		return nil, err
	}

	perSnippetBudget := req.Proxy.MaxTextBytes / maxResults
	lowerContent := strings.ToLower(doc.Content)
	lowerQuery := strings.ToLower(query)

	snippets := make([]map[string]any, 0, maxResults)
	offset := 0
	for len(snippets) < maxResults {
		idx := strings.Index(lowerContent[offset:], lowerQuery)
		if idx < 0 {
			break
		}
		idx += offset

		start := max(0, idx-snippetRadius)
		end := min(len(doc.Content), idx+len(query)+snippetRadius)
		snippet := doc.Content[start:end]
		if len(snippet) > perSnippetBudget {
			snippet = snippet[:perSnippetBudget]
		}

		snippets = append(snippets, map[string]any{
			"text": snippet,
			"page": idx/catalog.PageSize + 1,
		})
		offset = idx + len(query)
	}

	if len(snippets) == 0 {
		return nil, protocol.ErrNotFound("no_snippets_found")
	}

	return map[string]any{
		"doc_id":   docID,
		"query":    query,
		"snippets": snippets,
		"count":    len(snippets),
	}, nil
}
