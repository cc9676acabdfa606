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

// Package tools is the proxy registry of read-only document tools. Every
// execution is tenant-checked against the catalog before any text is
// read; results are wrapped in an envelope that always travels as HTTP
// 200 so the model can react to tool errors within its step budget.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kadirpekel/visior/pkg/catalog"
	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/protocol"
)

// Request is one tool invocation.
type Request struct {
	User protocol.UserContext
	Args map[string]any
	// Proxy is the config snapshot the request runs under.
	Proxy *config.ProxyConfig
}

// Tool is one registered read operation.
type Tool interface {
	GetName() string
	GetDescription() string
	// GetSchema returns the JSON-schema parameter object advertised to
	// the runtime, with numeric bounds taken from the proxy config.
	GetSchema(proxy *config.ProxyConfig) map[string]any
	Execute(ctx context.Context, req Request) (map[string]any, error)
}

// ChunkWindower fetches an ordered chunk window around an anchor. The
// retriever implements this.
type ChunkWindower interface {
	ChunkWindow(ctx context.Context, tenantID, docID, anchorChunkID string, before, after int) ([]protocol.Chunk, error)
}

// Registry holds the tool set.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool; duplicate names are an error.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.GetName()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool '%s' is already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns the registered tools in name order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// NewDefaultRegistry registers the full read-tool set.
func NewDefaultRegistry(repo catalog.Repository, windower ChunkWindower) *Registry {
	registry := NewRegistry()
	_ = registry.Register(&ReadDocSection{repo: repo})
	_ = registry.Register(&ReadDocPages{repo: repo})
	_ = registry.Register(&ReadDocMetadata{repo: repo})
	_ = registry.Register(&DocLocalSearch{repo: repo})
	_ = registry.Register(&ReadChunkWindow{repo: repo, windower: windower})
	_ = registry.Register(&ListAvailableTools{registry: registry})
	return registry
}

// checkDocAccess loads the document and enforces the tenant boundary.
func checkDocAccess(ctx context.Context, repo catalog.Repository, user protocol.UserContext, docID string) (*catalog.Document, error) {
	doc, err := repo.GetDocument(ctx, docID)
	if err != nil {
		return nil, protocol.ErrUpstream(fmt.Sprintf("catalog lookup failed: %v", err))
	}
	if doc == nil {
		return nil, protocol.ErrNotFound("document_not_found")
	}
	if doc.TenantID != user.TenantID {
		return nil, protocol.ErrAccessDenied()
	}
	return doc, nil
}

// estimateTokens is the coarse bytes/4 heuristic used for accounting.
func estimateTokens(text string) int {
	return len(text) / 4
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// intArg accepts int, float64 (JSON numbers) and numeric strings.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
