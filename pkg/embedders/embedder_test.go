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

package embedders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kadirpekel/visior/pkg/config"
)

func TestPseudoEmbeddingDeterministic(t *testing.T) {
	a := PseudoEmbedding("ldap login failure")
	b := PseudoEmbedding("ldap login failure")
	if len(a) != PseudoDimension {
		t.Fatalf("Expected %d dims, got %d", PseudoDimension, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("Dim %d differs: %v vs %v", i, a[i], b[i])
		}
		if a[i] < 0 || a[i] >= 1 {
			t.Errorf("Dim %d out of [0,1): %v", i, a[i])
		}
	}
}

func TestPseudoEmbeddingVariesByText(t *testing.T) {
	a := PseudoEmbedding("alpha")
	b := PseudoEmbedding("beta")
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("Expected different vectors for different texts")
	}
}

func TestNewOpenAIEmbedderMockFallsBackToPseudo(t *testing.T) {
	cfg := &config.EmbedderConfig{Mock: config.BoolPtr(true)}
	cfg.SetDefaults()
	e := NewOpenAIEmbedder(cfg)
	if _, ok := e.(Pseudo); !ok {
		t.Fatalf("Expected Pseudo embedder, got %T", e)
	}
}

func TestEmbedSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2}, "index": 0}},
		})
	}))
	defer server.Close()

	cfg := &config.EmbedderConfig{BaseURL: server.URL, APIKey: "k"}
	cfg.SetDefaults()
	e := NewOpenAIEmbedder(cfg)

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.1 {
		t.Errorf("Unexpected vector %v", vec)
	}
}

func TestEmbedExhaustionFallsBackToPseudo(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	cfg := &config.EmbedderConfig{BaseURL: server.URL, MaxAttempts: 2, RetryDelayMS: 1}
	cfg.SetDefaults()
	e := NewOpenAIEmbedder(cfg)

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Expected pseudo fallback, got error: %v", err)
	}
	if len(vec) != PseudoDimension {
		t.Errorf("Expected pseudo vector, got %d dims", len(vec))
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls.Load())
	}
	want := PseudoEmbedding("hello")
	for i := range vec {
		if vec[i] != want[i] {
			t.Errorf("Dim %d: expected %v, got %v", i, want[i], vec[i])
		}
	}
}
