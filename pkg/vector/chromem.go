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

package vector

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemProvider implements Provider using chromem-go for embedded,
// in-process vector storage. It is the default in mock mode and tests.
//
// chromem only filters on string equality, so the predicate tree is
// evaluated here against a side index of the original metadata. That also
// gives Scan a stable iteration order, which chromem has no API for.
type ChromemProvider struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	// metadata keeps the untyped payloads per collection, keyed by id.
	metadata map[string]map[string]map[string]any
}

// NewChromemProvider creates an in-memory chromem provider.
func NewChromemProvider() *ChromemProvider {
	return &ChromemProvider{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		metadata:    make(map[string]map[string]map[string]any),
	}
}

// Name returns the provider name.
func (p *ChromemProvider) Name() string {
	return "chromem"
}

func (p *ChromemProvider) getCollection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	if col, ok := p.collections[name]; ok {
		p.mu.RUnlock()
		return col, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if col, ok := p.collections[name]; ok {
		return col, nil
	}

	// Vectors arrive pre-computed; the embedding func must never run.
	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
	}

	col, err := p.db.GetOrCreateCollection(name, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}

	p.collections[name] = col
	if p.metadata[name] == nil {
		p.metadata[name] = make(map[string]map[string]any)
	}
	return col, nil
}

// Upsert adds or updates a point with its vector.
func (p *ChromemProvider) Upsert(ctx context.Context, collection string, id string, vec []float32, metadata map[string]any) error {
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	strMetadata := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMetadata[k] = fmt.Sprint(v)
	}

	content := ""
	if c, ok := metadata["content"].(string); ok {
		content = c
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  strMetadata,
		Embedding: vec,
	}

	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	p.mu.Lock()
	copied := make(map[string]any, len(metadata))
	for k, v := range metadata {
		copied[k] = v
	}
	p.metadata[collection][id] = copied
	p.mu.Unlock()

	return nil
}

// Search runs ANN against the collection. When a filter is present the
// whole collection is ranked and filtered afterwards; equality on string
// metadata is all chromem can express natively.
func (p *ChromemProvider) Search(ctx context.Context, collection string, vec []float32, topK int, filter *Filter) ([]Result, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 || topK <= 0 {
		return nil, nil
	}

	nResults := topK
	if filter != nil || nResults > count {
		nResults = count
	}

	raw, err := col.QueryEmbedding(ctx, vec, nResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Result, 0, topK)
	for _, r := range raw {
		metadata := p.metadata[collection][r.ID]
		if !filter.Matches(metadata) {
			continue
		}
		out = append(out, Result{
			ID:       r.ID,
			Score:    float64(r.Similarity),
			Content:  r.Content,
			Metadata: metadata,
		})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// Scan lists points matching the filter in lexicographic id order.
func (p *ChromemProvider) Scan(ctx context.Context, collection string, filter *Filter, limit int) ([]Result, error) {
	if _, err := p.getCollection(collection); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.metadata[collection]))
	for id := range p.metadata[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Result, 0, limit)
	for _, id := range ids {
		metadata := p.metadata[collection][id]
		if !filter.Matches(metadata) {
			continue
		}
		content, _ := metadata["content"].(string)
		out = append(out, Result{ID: id, Content: content, Metadata: metadata})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close releases resources. In-memory, so nothing to flush.
func (p *ChromemProvider) Close() error {
	return nil
}

// Ensure ChromemProvider implements Provider.
var _ Provider = (*ChromemProvider)(nil)
