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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/httpclient"
)

// HTTPRepository reads documents from the external catalog service.
type HTTPRepository struct {
	client  *httpclient.Client
	baseURL string
}

// NewRepositoryFromConfig selects the backend: an empty base URL yields
// the seeded in-memory repository.
func NewRepositoryFromConfig(cfg *config.CatalogConfig) Repository {
	if cfg.BaseURL == "" {
		return NewSeededRepository()
	}
	return &HTTPRepository{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}),
			httpclient.WithMaxRetries(2),
		),
		baseURL: cfg.BaseURL,
	}
}

// GetDocument fetches one document; a 404 maps to (nil, nil).
func (r *HTTPRepository) GetDocument(ctx context.Context, docID string) (*Document, error) {
	endpoint := fmt.Sprintf("%s/documents/%s", r.baseURL, url.PathEscape(docID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("catalog returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return &doc, nil
}

var _ Repository = (*HTTPRepository)(nil)
