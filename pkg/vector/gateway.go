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

	"github.com/kadirpekel/visior/pkg/config"
)

// Gateway is the only query path the rest of the system uses. Every
// search and scan carries a mandatory tenant_id conjunct; there is no way
// to issue a cross-tenant query through it.
type Gateway struct {
	provider Provider
}

// NewGateway wraps a provider.
func NewGateway(provider Provider) *Gateway {
	return &Gateway{provider: provider}
}

// NewProviderFromConfig builds the configured provider.
func NewProviderFromConfig(cfg *config.VectorConfig) (Provider, error) {
	switch cfg.Provider {
	case "chromem":
		return NewChromemProvider(), nil
	case "qdrant":
		return NewQdrantProvider(cfg.Qdrant)
	default:
		return nil, fmt.Errorf("unknown vector provider '%s'", cfg.Provider)
	}
}

// Provider exposes the wrapped provider for seeding.
func (g *Gateway) Provider() Provider {
	return g.provider
}

// Search runs a tenant-scoped ANN query.
func (g *Gateway) Search(ctx context.Context, collection string, vec []float32, topK int, tenantID string, extra *Filter) ([]Result, error) {
	filter, err := tenantFilter(tenantID, extra)
	if err != nil {
		return nil, err
	}
	return g.provider.Search(ctx, collection, vec, topK, filter)
}

// Scan runs a tenant-scoped metadata listing.
func (g *Gateway) Scan(ctx context.Context, collection string, tenantID string, extra *Filter, limit int) ([]Result, error) {
	filter, err := tenantFilter(tenantID, extra)
	if err != nil {
		return nil, err
	}
	return g.provider.Scan(ctx, collection, filter, limit)
}

// Close closes the underlying provider.
func (g *Gateway) Close() error {
	return g.provider.Close()
}

func tenantFilter(tenantID string, extra *Filter) (*Filter, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required for vector queries")
	}
	filter := &Filter{}
	filter.Eq("tenant_id", tenantID)
	if extra != nil {
		filter.Must = append(filter.Must, extra.Must...)
	}
	return filter, nil
}
