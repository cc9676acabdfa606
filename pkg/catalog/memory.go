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

package catalog

import (
	"context"
	"strings"
	"sync"
)

// MemoryRepository holds documents in memory. Used in mock mode and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]*Document)}
}

// NewSeededRepository creates a repository pre-loaded with the demo
// document the mock runtime targets.
func NewSeededRepository() *MemoryRepository {
	repo := NewMemoryRepository()
	repo.Put(seedDocument())
	return repo
}

// Put inserts or replaces a document.
func (r *MemoryRepository) Put(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.DocID] = doc
}

// Documents returns every stored document.
func (r *MemoryRepository) Documents() []*Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]*Document, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, doc)
	}
	return docs
}

// GetDocument returns the document or (nil, nil) when absent.
func (r *MemoryRepository) GetDocument(_ context.Context, docID string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.docs[docID], nil
}

// seedDocument is a 12-page LDAP guide: intro on pages 1-2, setup on 3-5,
// troubleshooting on 6-8, trailing notes beyond.
func seedDocument() *Document {
	content := strings.Repeat("Intro... ", 100) +
		strings.Repeat("Setup instructions... ", 100) +
		strings.Repeat("Troubleshooting section... ", 100) +
		strings.Repeat("Final notes ", 50)

	return &Document{
		DocID:    "doc_1",
		TenantID: "tenant_1",
		Title:    "Orion LDAP Guide",
		Pages:    12,
		Tags:     []string{"orion", "ldap"},
		Sections: []Section{
			{SectionID: "sec_intro", Title: "Introduction", PageStart: 1, PageEnd: 2},
			{SectionID: "sec_setup", Title: "Setup", PageStart: 3, PageEnd: 5},
			{SectionID: "sec_troubleshooting", Title: "Troubleshooting", PageStart: 6, PageEnd: 8},
		},
		Content: content,
	}
}

var _ Repository = (*MemoryRepository)(nil)
