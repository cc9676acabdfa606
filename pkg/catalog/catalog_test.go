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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSeededRepository(t *testing.T) {
	repo := NewSeededRepository()
	doc, err := repo.GetDocument(context.Background(), "doc_1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc == nil {
		t.Fatal("Expected seeded doc_1")
	}
	if doc.Title != "Orion LDAP Guide" || doc.TenantID != "tenant_1" || doc.Pages != 12 {
		t.Errorf("Unexpected seed doc %+v", doc)
	}
	if len(doc.Sections) != 3 {
		t.Fatalf("Expected 3 sections, got %d", len(doc.Sections))
	}

	missing, err := repo.GetDocument(context.Background(), "doc_999")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for missing doc")
	}
}

func TestPageText(t *testing.T) {
	doc := &Document{Content: strings.Repeat("a", PageSize) + strings.Repeat("b", 100)}
	if got := doc.PageText(1); len(got) != PageSize || got[0] != 'a' {
		t.Errorf("Unexpected page 1: len=%d", len(got))
	}
	if got := doc.PageText(2); len(got) != 100 || got[0] != 'b' {
		t.Errorf("Unexpected page 2: len=%d", len(got))
	}
	if got := doc.PageText(3); got != "" {
		t.Errorf("Expected empty page 3, got %d chars", len(got))
	}
	if got := doc.PageText(0); got != "" {
		t.Error("Expected empty page 0")
	}
}

func TestSectionText(t *testing.T) {
	repo := NewSeededRepository()
	doc, _ := repo.GetDocument(context.Background(), "doc_1")

	text, ok := doc.SectionText("sec_intro")
	if !ok {
		t.Fatal("Expected sec_intro")
	}
	if len(text) != 2*PageSize {
		t.Errorf("Expected %d chars, got %d", 2*PageSize, len(text))
	}
	if !strings.Contains(text, "Intro") {
		t.Error("Expected intro content")
	}

	if _, ok := doc.SectionText("sec_missing"); ok {
		t.Error("Expected miss for unknown section")
	}
}

func TestMetadataOmitsContent(t *testing.T) {
	repo := NewSeededRepository()
	doc, _ := repo.GetDocument(context.Background(), "doc_1")
	meta := doc.Metadata()
	if _, ok := meta["content"]; ok {
		t.Error("Metadata must not carry content")
	}
	if meta["doc_id"] != "doc_1" {
		t.Errorf("Unexpected metadata %v", meta)
	}
}

func TestHTTPRepository(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/documents/doc_1":
			json.NewEncoder(w).Encode(Document{DocID: "doc_1", TenantID: "tenant_1", Title: "Guide"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	repo := &HTTPRepository{baseURL: server.URL, client: newTestHTTPClient()}

	doc, err := repo.GetDocument(context.Background(), "doc_1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc == nil || doc.Title != "Guide" {
		t.Errorf("Unexpected doc %+v", doc)
	}

	missing, err := repo.GetDocument(context.Background(), "doc_2")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for 404")
	}
}
