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
	"strings"
	"testing"

	"github.com/kadirpekel/visior/pkg/catalog"
	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/embedders"
	"github.com/kadirpekel/visior/pkg/llms"
	"github.com/kadirpekel/visior/pkg/protocol"
	"github.com/kadirpekel/visior/pkg/vector"
)

func otherTenantDoc() *catalog.Document {
	return &catalog.Document{
		DocID:    "doc_9",
		TenantID: "tenant_2",
		Title:    "Nebula VPN Guide",
		Pages:    2,
		Sections: []catalog.Section{
			{SectionID: "sec_vpn", Title: "VPN Basics", PageStart: 1, PageEnd: 2},
		},
		Content: strings.Repeat("VPN handshake details. ", 50),
	}
}

func seededRetriever(t *testing.T, llm llms.Provider) *Retriever {
	t.Helper()
	cfg := config.Default()
	store := config.NewStore(cfg)
	provider := vector.NewChromemProvider()
	embedder := embedders.Pseudo{}

	repo := catalog.NewSeededRepository()
	doc, err := repo.GetDocument(context.Background(), "doc_1")
	if err != nil || doc == nil {
		t.Fatalf("Seeded document missing: %v", err)
	}
	for _, d := range []*catalog.Document{doc, otherTenantDoc()} {
		if err := IndexDocument(context.Background(), provider, &cfg.Vector, embedder, d); err != nil {
			t.Fatalf("Indexing failed: %v", err)
		}
	}
	return NewRetriever(vector.NewGateway(provider), embedder, llm, store, nil)
}

func TestSearchValidation(t *testing.T) {
	r := seededRetriever(t, nil)
	if _, err := r.Search(context.Background(), Query{Query: "x"}); err == nil {
		t.Error("Expected error without tenant_id")
	}
	if _, err := r.Search(context.Background(), Query{TenantID: "tenant_1", Query: "  "}); err == nil {
		t.Error("Expected error for blank query")
	}
}

func TestSearchPipeline(t *testing.T) {
	r := seededRetriever(t, nil)
	resp, err := r.Search(context.Background(), Query{TenantID: "tenant_1", Query: "ldap setup"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(resp.Trace.Docs) == 0 {
		t.Fatal("Expected doc hits in the trace")
	}
	if len(resp.Sections) == 0 {
		t.Fatal("Expected section hits")
	}
	for _, hit := range resp.Trace.Docs {
		if hit.DocID != "doc_1" {
			t.Errorf("Foreign tenant document leaked: %s", hit.DocID)
		}
	}
	for _, hit := range resp.Sections {
		if hit.DocID != "doc_1" {
			t.Errorf("Foreign tenant section leaked: %s/%s", hit.DocID, hit.SectionID)
		}
		if hit.Summary == "" {
			t.Errorf("Section %s has no summary", hit.SectionID)
		}
		if hit.Anchor() == "" {
			t.Errorf("Section %s has no anchor chunk", hit.SectionID)
		}
	}
	if len(resp.Sections) > 8 {
		t.Errorf("Section cap not applied: %d", len(resp.Sections))
	}
	if len(resp.Chunks) > 8 {
		t.Errorf("Chunk max_results not applied: %d", len(resp.Chunks))
	}
}

func TestSearchTenantScoping(t *testing.T) {
	r := seededRetriever(t, nil)
	resp, err := r.Search(context.Background(), Query{TenantID: "tenant_2", Query: "vpn handshake"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, hit := range resp.Trace.Docs {
		if hit.DocID != "doc_9" {
			t.Errorf("Expected only tenant_2 documents, got %s", hit.DocID)
		}
	}
}

func TestSearchDocIDNarrowing(t *testing.T) {
	r := seededRetriever(t, nil)
	resp, err := r.Search(context.Background(), Query{
		TenantID: "tenant_1",
		Query:    "anything",
		DocIDs:   []string{"doc_nonexistent"},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Trace.Docs) != 0 {
		t.Errorf("doc_ids narrowing ignored, got %d docs", len(resp.Trace.Docs))
	}
}

func TestSearchTagFilter(t *testing.T) {
	r := seededRetriever(t, nil)
	on := true

	resp, err := r.Search(context.Background(), Query{
		TenantID:  "tenant_1",
		Query:     "ldap setup",
		Filters:   map[string]any{"tags": []any{"LDAP"}},
		Overrides: Overrides{EnableFilters: &on},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Trace.Docs) == 0 {
		t.Fatal("Expected the tagged document despite the mixed-case filter value")
	}
	for _, hit := range resp.Trace.Docs {
		if hit.DocID != "doc_1" {
			t.Errorf("Unexpected document %s", hit.DocID)
		}
	}

	resp, err = r.Search(context.Background(), Query{
		TenantID:  "tenant_1",
		Query:     "ldap setup",
		Filters:   map[string]any{"tags": "billing"},
		Overrides: Overrides{EnableFilters: &on},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Trace.Docs) != 0 {
		t.Errorf("Expected no documents for an absent tag, got %d", len(resp.Trace.Docs))
	}
}

func TestTraceKeepsPreCapSections(t *testing.T) {
	r := seededRetriever(t, nil)
	one := 1

	resp, err := r.Search(context.Background(), Query{
		TenantID:  "tenant_1",
		Query:     "ldap setup",
		Overrides: Overrides{MaxTotalSections: &one},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Sections) != 1 {
		t.Fatalf("Expected the section cap applied to the response, got %d", len(resp.Sections))
	}
	if len(resp.Trace.Sections) <= len(resp.Sections) {
		t.Errorf("Trace must keep the stage output before the cap, got %d", len(resp.Trace.Sections))
	}
}

func TestSectionCosineDisabled(t *testing.T) {
	r := seededRetriever(t, nil)
	off := false
	resp, err := r.Search(context.Background(), Query{
		TenantID:  "tenant_1",
		Query:     "setup",
		Overrides: Overrides{EnableSectionCosine: &off},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Sections) == 0 {
		t.Fatal("Expected sections from the scan path")
	}
	for _, hit := range resp.Sections {
		if hit.Score != 0 {
			t.Errorf("Scan-path section should carry score 0, got %v", hit.Score)
		}
	}
}

func TestChunkWindow(t *testing.T) {
	r := seededRetriever(t, nil)

	chunks, err := r.ChunkWindow(context.Background(), "tenant_1", "doc_1", "doc_1:sec_setup:3", 1, 1)
	if err != nil {
		t.Fatalf("ChunkWindow failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	want := []string{"doc_1:sec_setup:2", "doc_1:sec_setup:3", "doc_1:sec_setup:4"}
	for i, id := range want {
		if chunks[i].ChunkID != id {
			t.Errorf("Chunk %d: expected %s, got %s", i, id, chunks[i].ChunkID)
		}
		if chunks[i].Text == "" {
			t.Errorf("Chunk %s has no text", id)
		}
	}
}

func TestChunkWindowClampsAtDocumentStart(t *testing.T) {
	r := seededRetriever(t, nil)
	chunks, err := r.ChunkWindow(context.Background(), "tenant_1", "doc_1", "doc_1:sec_intro:0", 2, 1)
	if err != nil {
		t.Fatalf("ChunkWindow failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks at the document start, got %d", len(chunks))
	}
	if chunks[0].ChunkID != "doc_1:sec_intro:0" {
		t.Errorf("Expected the anchor first, got %s", chunks[0].ChunkID)
	}
}

func TestChunkWindowAnchorNotFound(t *testing.T) {
	r := seededRetriever(t, nil)
	_, err := r.ChunkWindow(context.Background(), "tenant_1", "doc_1", "doc_1:sec_intro:99", 1, 1)
	se := protocol.AsStatusError(err)
	if se.Status != 404 || se.Message != "anchor_chunk_not_found" {
		t.Fatalf("Expected 404 anchor_chunk_not_found, got %+v", se)
	}
}

func TestChunkWindowCrossTenant(t *testing.T) {
	r := seededRetriever(t, nil)
	_, err := r.ChunkWindow(context.Background(), "tenant_2", "doc_1", "doc_1:sec_intro:0", 1, 1)
	se := protocol.AsStatusError(err)
	if se.Status != 404 {
		t.Fatalf("Foreign tenant must see not_found, got %+v", se)
	}
}

func TestRerankThreshold(t *testing.T) {
	llm := llms.NewScriptedProvider(llms.Result{
		Kind: llms.ResultMessage,
		Message: `{"results": [
			{"doc_id": "doc_1", "section_id": "sec_intro", "rerank_score": 0.9},
			{"doc_id": "doc_1", "section_id": "sec_setup", "rerank_score": 0.7},
			{"doc_id": "doc_1", "section_id": "sec_troubleshooting", "rerank_score": 0.5}
		]}`,
	})
	r := seededRetriever(t, llm)

	on := true
	threshold := 0.4
	resp, err := r.Search(context.Background(), Query{
		TenantID:  "tenant_1",
		Query:     "ldap",
		Overrides: Overrides{EnableRerank: &on, RerankScoreThreshold: &threshold},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Sections) != 3 {
		t.Fatalf("Expected all 3 sections above threshold 0.4, got %d", len(resp.Sections))
	}
	wantOrder := []string{"sec_intro", "sec_setup", "sec_troubleshooting"}
	for i, id := range wantOrder {
		if resp.Sections[i].SectionID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, resp.Sections[i].SectionID)
		}
		if resp.Sections[i].RerankScore == nil {
			t.Errorf("Section %s missing rerank score", id)
		}
	}
}

func TestRerankThresholdFilters(t *testing.T) {
	llm := llms.NewScriptedProvider(llms.Result{
		Kind: llms.ResultMessage,
		Message: `[
			{"doc_id": "doc_1", "section_id": "sec_intro", "score": 0.9},
			{"doc_id": "doc_1", "section_id": "sec_setup", "score": 0.3}
		]`,
	})
	r := seededRetriever(t, llm)

	on := true
	threshold := 0.6
	resp, err := r.Search(context.Background(), Query{
		TenantID:  "tenant_1",
		Query:     "ldap",
		Overrides: Overrides{EnableRerank: &on, RerankScoreThreshold: &threshold},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, hit := range resp.Sections {
		if hit.RerankScore == nil || *hit.RerankScore < threshold {
			t.Errorf("Section %s below threshold survived", hit.SectionID)
		}
	}
}

func TestRerankFailureKeepsOrder(t *testing.T) {
	llm := llms.NewScriptedProvider(llms.Result{
		Kind:    llms.ResultMessage,
		Message: "not json at all",
	})

	base := seededRetriever(t, nil)
	baseline, err := base.Search(context.Background(), Query{TenantID: "tenant_1", Query: "ldap"})
	if err != nil {
		t.Fatalf("Baseline search failed: %v", err)
	}

	r := seededRetriever(t, llm)
	on := true
	resp, err := r.Search(context.Background(), Query{TenantID: "tenant_1", Query: "ldap", Overrides: Overrides{EnableRerank: &on}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Sections) != len(baseline.Sections) {
		t.Fatalf("Failed rerank changed the section count: %d vs %d", len(resp.Sections), len(baseline.Sections))
	}
	for i := range resp.Sections {
		if resp.Sections[i].SectionID != baseline.Sections[i].SectionID {
			t.Errorf("Failed rerank changed ordering at %d", i)
		}
	}
}

func TestParseRerankScores(t *testing.T) {
	scores, err := parseRerankScores(`[{"doc_id":"d","section_id":"s","rerank_score":1.7}]`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if scores["d::s"] != 1.0 {
		t.Errorf("Expected clamp to 1.0, got %v", scores["d::s"])
	}

	scores, err = parseRerankScores(`{"results":[{"doc_id":"d","section_id":"s","score":-0.2}]}`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if scores["d::s"] != 0 {
		t.Errorf("Expected clamp to 0, got %v", scores["d::s"])
	}

	if _, err := parseRerankScores("garbage"); err == nil {
		t.Error("Expected parse error for garbage")
	}
}

// stubProvider forces stage behaviors chromem cannot exhibit, like an ANN
// stage returning nothing while a scan still has records.
type stubProvider struct {
	searchResults map[string][]vector.Result
	scanResults   map[string][]vector.Result
}

func (p *stubProvider) Name() string { return "stub" }
func (p *stubProvider) Upsert(context.Context, string, string, []float32, map[string]any) error {
	return nil
}
func (p *stubProvider) Search(_ context.Context, collection string, _ []float32, topK int, filter *vector.Filter) ([]vector.Result, error) {
	return filtered(p.searchResults[collection], filter, topK), nil
}
func (p *stubProvider) Scan(_ context.Context, collection string, filter *vector.Filter, limit int) ([]vector.Result, error) {
	return filtered(p.scanResults[collection], filter, limit), nil
}
func (p *stubProvider) Close() error { return nil }

func filtered(results []vector.Result, filter *vector.Filter, limit int) []vector.Result {
	out := make([]vector.Result, 0, len(results))
	for _, res := range results {
		if !filter.Matches(res.Metadata) {
			continue
		}
		out = append(out, res)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func stubRetriever(provider vector.Provider) *Retriever {
	cfg := config.Default()
	return NewRetriever(vector.NewGateway(provider), embedders.Pseudo{}, nil, config.NewStore(cfg), nil)
}

func TestMinDocsPadding(t *testing.T) {
	provider := &stubProvider{
		searchResults: map[string][]vector.Result{},
		scanResults: map[string][]vector.Result{
			"docs": {
				{ID: "doc_a", Metadata: map[string]any{"tenant_id": "tenant_1", "doc_id": "doc_a", "title": "A"}},
			},
		},
	}
	r := stubRetriever(provider)

	resp, err := r.Search(context.Background(), Query{TenantID: "tenant_1", Query: "anything"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Trace.Docs) != 1 {
		t.Fatalf("Expected 1 padded doc, got %d", len(resp.Trace.Docs))
	}
	if resp.Trace.Docs[0].Score != 0 {
		t.Errorf("Padded doc must carry score 0, got %v", resp.Trace.Docs[0].Score)
	}
}

func TestChunkSubstringFallback(t *testing.T) {
	provider := &stubProvider{
		searchResults: map[string][]vector.Result{
			"docs": {
				{ID: "doc_a", Score: 0.8, Metadata: map[string]any{"tenant_id": "tenant_1", "doc_id": "doc_a"}},
			},
			"sections": {
				{ID: "doc_a::s1", Score: 0.7, Metadata: map[string]any{
					"tenant_id": "tenant_1", "doc_id": "doc_a", "section_id": "s1", "summary": "kerberos notes",
				}},
			},
		},
		scanResults: map[string][]vector.Result{
			"chunks": {
				{ID: "doc_a:s1:0", Content: "nothing relevant here", Metadata: map[string]any{
					"tenant_id": "tenant_1", "doc_id": "doc_a", "section_id": "s1", "chunk_id": "doc_a:s1:0", "content": "nothing relevant here",
				}},
				{ID: "doc_a:s1:1", Content: "Kerberos ticket renewal steps", Metadata: map[string]any{
					"tenant_id": "tenant_1", "doc_id": "doc_a", "section_id": "s1", "chunk_id": "doc_a:s1:1", "content": "Kerberos ticket renewal steps",
				}},
			},
		},
	}
	r := stubRetriever(provider)

	resp, err := r.Search(context.Background(), Query{TenantID: "tenant_1", Query: "kerberos"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Chunks) != 1 {
		t.Fatalf("Expected 1 fallback chunk, got %d", len(resp.Chunks))
	}
	if resp.Chunks[0].ChunkID != "doc_a:s1:1" {
		t.Errorf("Expected the matching chunk, got %s", resp.Chunks[0].ChunkID)
	}
	if resp.Chunks[0].Score != fallbackScore {
		t.Errorf("Expected fallback score %v, got %v", fallbackScore, resp.Chunks[0].Score)
	}
}

func TestChunksDisabled(t *testing.T) {
	r := seededRetriever(t, nil)
	off := false
	resp, err := r.Search(context.Background(), Query{TenantID: "tenant_1", Query: "setup", Overrides: Overrides{ChunksEnabled: &off}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Chunks) != 0 {
		t.Errorf("Expected no chunk stage, got %d chunks", len(resp.Chunks))
	}
}

func TestResolveOverrides(t *testing.T) {
	cfg := config.Default().Retrieval
	topK := 2
	minDocs := 9
	s := resolve(Query{Overrides: Overrides{DocsTopK: &topK, MinDocs: &minDocs}}, cfg)
	if s.docsTopK != 2 {
		t.Errorf("Expected docs_top_k override 2, got %d", s.docsTopK)
	}
	if s.minDocs != 2 {
		t.Errorf("min_docs must clamp to docs_top_k, got %d", s.minDocs)
	}
}
