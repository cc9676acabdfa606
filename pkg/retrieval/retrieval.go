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

// Package retrieval is the hierarchical retriever: document ANN, per-doc
// section ANN, optional LLM rerank, then a chunk stage restricted to the
// surviving documents and sections. Hits carry summaries and metadata
// only; raw text is reachable exclusively through the tool proxy.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/embedders"
	"github.com/kadirpekel/visior/pkg/llms"
	"github.com/kadirpekel/visior/pkg/observability"
	"github.com/kadirpekel/visior/pkg/protocol"
	"github.com/kadirpekel/visior/pkg/vector"
)

// fallbackScanLimit bounds the metadata scan of the substring fallback.
const fallbackScanLimit = 500

// fallbackScore marks hits produced by the substring fallback.
const fallbackScore = 0.1

// Query is one retrieval request. Every knob is an optional override of
// the configured default.
type Query struct {
	TenantID   string         `json:"tenant_id"`
	Query      string         `json:"query"`
	DocIDs     []string       `json:"doc_ids,omitempty"`
	SectionIDs []string       `json:"section_ids,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`

	Overrides
}

// Overrides are the per-request retrieval knobs. Nil means "use the
// configured default". The orchestrator accepts the same block.
type Overrides struct {
	DocsTopK             *int     `json:"docs_top_k,omitempty"`
	SectionsTopKPerDoc   *int     `json:"sections_top_k_per_doc,omitempty"`
	MaxTotalSections     *int     `json:"max_total_sections,omitempty"`
	ChunkTopK            *int     `json:"chunk_top_k,omitempty"`
	TopKPerDoc           *int     `json:"topk_per_doc,omitempty"`
	MinDocs              *int     `json:"min_docs,omitempty"`
	MaxResults           *int     `json:"max_results,omitempty"`
	EnableSectionCosine  *bool    `json:"enable_section_cosine,omitempty"`
	EnableRerank         *bool    `json:"enable_rerank,omitempty"`
	RerankScoreThreshold *float64 `json:"rerank_score_threshold,omitempty"`
	RerankModel          *string  `json:"rerank_model,omitempty"`
	RerankTopN           *int     `json:"rerank_top_n,omitempty"`
	ChunksEnabled        *bool    `json:"chunks_enabled,omitempty"`
	EnableFilters        *bool    `json:"enable_filters,omitempty"`
}

// Response is the retrieval result with the per-stage trace.
type Response struct {
	Sections []protocol.Hit     `json:"sections"`
	Chunks   []protocol.Hit     `json:"chunks"`
	Trace    protocol.StepTrace `json:"trace"`
}

// settings is a Query resolved against the configured defaults.
type settings struct {
	docsTopK           int
	sectionsTopKPerDoc int
	maxTotalSections   int
	chunkTopK          int
	topKPerDoc         int
	minDocs            int
	maxResults         int
	rerankTopN         int
	rerankThreshold    float64
	rerankModel        string

	enableSectionCosine bool
	enableRerank        bool
	chunksEnabled       bool
	enableFilters       bool
}

func resolve(q Query, cfg config.RetrievalConfig) settings {
	pick := func(override *int, base int) int {
		if override != nil && *override > 0 {
			return *override
		}
		return base
	}
	pickBool := func(override *bool, base *bool) bool {
		if override != nil {
			return *override
		}
		return base != nil && *base
	}

	s := settings{
		docsTopK:            pick(q.DocsTopK, cfg.DocsTopK),
		sectionsTopKPerDoc:  pick(q.SectionsTopKPerDoc, cfg.SectionsTopKPerDoc),
		maxTotalSections:    pick(q.MaxTotalSections, cfg.MaxTotalSections),
		chunkTopK:           pick(q.ChunkTopK, cfg.ChunkTopK),
		topKPerDoc:          pick(q.TopKPerDoc, cfg.TopKPerDoc),
		minDocs:             pick(q.MinDocs, cfg.MinDocs),
		maxResults:          pick(q.MaxResults, cfg.MaxResults),
		rerankTopN:          pick(q.RerankTopN, cfg.RerankTopN),
		rerankThreshold:     cfg.RerankScoreThreshold,
		rerankModel:         cfg.RerankModel,
		enableSectionCosine: pickBool(q.EnableSectionCosine, cfg.EnableSectionCosine),
		enableRerank:        pickBool(q.EnableRerank, cfg.EnableRerank),
		chunksEnabled:       pickBool(q.ChunksEnabled, cfg.ChunksEnabled),
		enableFilters:       pickBool(q.EnableFilters, cfg.EnableFilters),
	}
	if q.RerankScoreThreshold != nil {
		s.rerankThreshold = *q.RerankScoreThreshold
	}
	if q.RerankModel != nil && *q.RerankModel != "" {
		s.rerankModel = *q.RerankModel
	}
	if s.minDocs > s.docsTopK {
		s.minDocs = s.docsTopK
	}
	return s
}

// Retriever runs the pipeline against the vector gateway.
type Retriever struct {
	gateway  *vector.Gateway
	embedder embedders.Embedder
	reranker *Reranker
	store    *config.Store
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// NewRetriever creates a retriever. llm and metrics may be nil; a nil llm
// disables reranking regardless of config.
func NewRetriever(gateway *vector.Gateway, embedder embedders.Embedder, llm llms.Provider, store *config.Store, metrics *observability.Metrics) *Retriever {
	var reranker *Reranker
	if llm != nil {
		reranker = NewReranker(llm)
	}
	return &Retriever{
		gateway:  gateway,
		embedder: embedder,
		reranker: reranker,
		store:    store,
		metrics:  metrics,
		tracer:   observability.GetTracer("visior/retrieval"),
	}
}

// Search runs the full document/section/chunk pipeline.
func (r *Retriever) Search(ctx context.Context, q Query) (*Response, error) {
	if q.TenantID == "" {
		return nil, protocol.ErrBadRequest("tenant_id is required")
	}
	if strings.TrimSpace(q.Query) == "" {
		return nil, protocol.ErrBadRequest("query is required")
	}

	ctx, span := r.tracer.Start(ctx, "retrieval.search",
		trace.WithAttributes(attribute.String("tenant_id", q.TenantID)))
	defer span.End()

	started := time.Now()
	cfg := r.store.Snapshot()
	s := resolve(q, cfg.Retrieval)
	collections := cfg.Vector

	queryVec, err := r.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, protocol.ErrUpstream(fmt.Sprintf("embedding failed: %v", err))
	}

	docs, err := r.docStage(ctx, q, s, collections.DocsCollection, queryVec)
	if err != nil {
		return nil, err
	}

	sections, err := r.sectionStage(ctx, q, s, collections.SectionsCollection, queryVec, docs)
	if err != nil {
		return nil, err
	}
	// The trace keeps each stage's output as it completed; rerank and the
	// section cap prune the response list, not the recorded stage.
	stageSections := append([]protocol.Hit(nil), sections...)

	if s.enableRerank && r.reranker != nil && len(sections) > 0 {
		sections = r.reranker.Rerank(ctx, q.Query, s.rerankModel, sections, s.rerankTopN, s.rerankThreshold)
	}
	if len(sections) > s.maxTotalSections {
		sections = sections[:s.maxTotalSections]
	}

	var chunks []protocol.Hit
	if s.chunksEnabled {
		chunks, err = r.chunkStage(ctx, q, s, collections.ChunksCollection, queryVec, docs, sections)
		if err != nil {
			return nil, err
		}
	}

	if r.metrics != nil {
		r.metrics.RetrievalLatency.Observe(time.Since(started).Seconds())
	}
	slog.Debug("retrieval_complete",
		"tenant_id", q.TenantID,
		"docs", len(docs),
		"sections", len(sections),
		"chunks", len(chunks),
		"elapsed", time.Since(started))

	return &Response{
		Sections: sections,
		Chunks:   chunks,
		Trace:    protocol.StepTrace{Docs: docs, Sections: stageSections, Chunks: chunks},
	}, nil
}

// docStage runs document ANN and pads up to min_docs from a metadata scan.
func (r *Retriever) docStage(ctx context.Context, q Query, s settings, collection string, queryVec []float32) ([]protocol.Hit, error) {
	filter := r.docFilter(q, s)
	results, err := r.gateway.Search(ctx, collection, queryVec, s.docsTopK, q.TenantID, filter)
	if err != nil {
		return nil, protocol.ErrUpstream(fmt.Sprintf("doc search failed: %v", err))
	}

	hits := make([]protocol.Hit, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, res := range results {
		hit := docHit(res)
		hits = append(hits, hit)
		seen[hit.DocID] = true
	}

	if len(hits) < s.minDocs {
		scanned, err := r.gateway.Scan(ctx, collection, q.TenantID, r.docFilter(q, s), s.docsTopK)
		if err != nil {
			return nil, protocol.ErrUpstream(fmt.Sprintf("doc scan failed: %v", err))
		}
		for _, res := range scanned {
			if len(hits) >= s.minDocs {
				break
			}
			res.Score = 0
			hit := docHit(res)
			if seen[hit.DocID] {
				continue
			}
			hits = append(hits, hit)
			seen[hit.DocID] = true
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	return hits, nil
}

// docFilter builds the document-stage predicate. Explicit doc_ids always
// narrow; metadata filters apply only when enable_filters is on.
func (r *Retriever) docFilter(q Query, s settings) *vector.Filter {
	filter := &vector.Filter{}
	filter.In("doc_id", q.DocIDs)
	if s.enableFilters {
		applyMetadataFilters(filter, q.Filters)
	}
	return filter
}

// sectionStage runs per-document section ANN (or a plain scan when section
// cosine is disabled) and orders the union by (doc score, section score).
func (r *Retriever) sectionStage(ctx context.Context, q Query, s settings, collection string, queryVec []float32, docs []protocol.Hit) ([]protocol.Hit, error) {
	hits := make([]protocol.Hit, 0, len(docs)*s.sectionsTopKPerDoc)
	for _, doc := range docs {
		filter := &vector.Filter{}
		filter.Eq("doc_id", doc.DocID)
		filter.In("section_id", q.SectionIDs)

		var results []vector.Result
		var err error
		if s.enableSectionCosine {
			results, err = r.gateway.Search(ctx, collection, queryVec, s.sectionsTopKPerDoc, q.TenantID, filter)
		} else {
			results, err = r.gateway.Scan(ctx, collection, q.TenantID, filter, s.sectionsTopKPerDoc)
		}
		if err != nil {
			return nil, protocol.ErrUpstream(fmt.Sprintf("section search failed: %v", err))
		}
		for _, res := range results {
			hit := sectionHit(res)
			hit.DocScore = doc.Score
			hits = append(hits, hit)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.DocScore != b.DocScore {
			return a.DocScore > b.DocScore
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DocID != b.DocID {
			return a.DocID < b.DocID
		}
		return a.SectionID < b.SectionID
	})
	return hits, nil
}

// chunkStage runs chunk ANN restricted to the surviving documents and
// sections, with a per-document cap. An empty ANN result falls back to a
// bounded substring scan so thin indexes still return something.
func (r *Retriever) chunkStage(ctx context.Context, q Query, s settings, collection string, queryVec []float32, docs, sections []protocol.Hit) ([]protocol.Hit, error) {
	// No surviving documents means no chunk scope at all.
	if len(docs) == 0 {
		return nil, nil
	}
	docIDs := make([]string, 0, len(docs))
	for _, doc := range docs {
		docIDs = append(docIDs, doc.DocID)
	}
	sectionIDs := make([]string, 0, len(sections))
	for _, section := range sections {
		sectionIDs = append(sectionIDs, section.SectionID)
	}

	filter := &vector.Filter{}
	filter.In("doc_id", docIDs)
	filter.In("section_id", sectionIDs)

	results, err := r.gateway.Search(ctx, collection, queryVec, s.chunkTopK, q.TenantID, filter)
	if err != nil {
		return nil, protocol.ErrUpstream(fmt.Sprintf("chunk search failed: %v", err))
	}

	hits := make([]protocol.Hit, 0, len(results))
	perDoc := make(map[string]int)
	for _, res := range results {
		hit := chunkHit(res)
		if perDoc[hit.DocID] >= s.topKPerDoc {
			continue
		}
		perDoc[hit.DocID]++
		hits = append(hits, hit)
	}

	if len(hits) == 0 {
		hits, err = r.chunkFallback(ctx, q, collection, docIDs)
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > s.maxResults {
		hits = hits[:s.maxResults]
	}
	return hits, nil
}

// chunkFallback substring-scans chunk content when ANN returns nothing.
func (r *Retriever) chunkFallback(ctx context.Context, q Query, collection string, docIDs []string) ([]protocol.Hit, error) {
	filter := &vector.Filter{}
	filter.In("doc_id", docIDs)
	scanned, err := r.gateway.Scan(ctx, collection, q.TenantID, filter, fallbackScanLimit)
	if err != nil {
		return nil, protocol.ErrUpstream(fmt.Sprintf("chunk scan failed: %v", err))
	}

	needle := strings.ToLower(q.Query)
	hits := make([]protocol.Hit, 0)
	for _, res := range scanned {
		if !strings.Contains(strings.ToLower(res.Content), needle) {
			continue
		}
		res.Score = fallbackScore
		hits = append(hits, chunkHit(res))
	}
	return hits, nil
}

// applyMetadataFilters compiles a loose filters map into conditions. Tag
// values are lowered to match the lowercased index (tag matching is
// case-insensitive).
func applyMetadataFilters(filter *vector.Filter, filters map[string]any) {
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		switch v := filters[key].(type) {
		case []string:
			filter.In(key, normalizeFilterValues(key, v))
		case []any:
			values := make([]string, 0, len(v))
			for _, item := range v {
				values = append(values, fmt.Sprint(item))
			}
			filter.In(key, normalizeFilterValues(key, values))
		default:
			if key == "tags" {
				filter.In(key, []string{strings.ToLower(fmt.Sprint(v))})
				continue
			}
			filter.Eq(key, v)
		}
	}
}

func normalizeFilterValues(key string, values []string) []string {
	if key != "tags" {
		return values
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

func docHit(res vector.Result) protocol.Hit {
	return protocol.Hit{
		DocID:   metaString(res.Metadata, "doc_id", res.ID),
		Score:   res.Score,
		Title:   metaString(res.Metadata, "title", ""),
		Summary: metaString(res.Metadata, "summary", ""),
	}
}

func sectionHit(res vector.Result) protocol.Hit {
	return protocol.Hit{
		DocID:         metaString(res.Metadata, "doc_id", ""),
		SectionID:     metaString(res.Metadata, "section_id", res.ID),
		Score:         res.Score,
		Title:         metaString(res.Metadata, "title", ""),
		Summary:       metaString(res.Metadata, "summary", ""),
		PageStart:     metaInt(res.Metadata, "page_start"),
		PageEnd:       metaInt(res.Metadata, "page_end"),
		ChunkIDs:      metaStrings(res.Metadata, "chunk_ids"),
		AnchorChunkID: metaString(res.Metadata, "anchor_chunk_id", ""),
	}
}

func chunkHit(res vector.Result) protocol.Hit {
	return protocol.Hit{
		DocID:     metaString(res.Metadata, "doc_id", ""),
		SectionID: metaString(res.Metadata, "section_id", ""),
		ChunkID:   metaString(res.Metadata, "chunk_id", res.ID),
		Score:     res.Score,
		PageStart: metaInt(res.Metadata, "page"),
		PageEnd:   metaInt(res.Metadata, "page"),
	}
}

func metaString(metadata map[string]any, key, fallback string) string {
	if v, ok := metadata[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func metaInt(metadata map[string]any, key string) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func metaStrings(metadata map[string]any, key string) []string {
	switch v := metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
