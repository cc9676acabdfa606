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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/httpclient"
)

// OpenAIEmbedder implements Embedder against an OpenAI-protocol
// embeddings endpoint. Transport failures retry with a fixed delay; when
// attempts are exhausted the pseudo-embedding is returned instead of an
// error, so callers always get a vector.
type OpenAIEmbedder struct {
	client      *httpclient.Client
	baseURL     string
	apiKey      string
	model       string
	maxAttempts int
	retryDelay  time.Duration
}

// OpenAIEmbedRequest is the request payload for the embeddings API.
type OpenAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// OpenAIEmbedResponse is the embeddings API response.
type OpenAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// NewOpenAIEmbedder creates an embedder from config. Mock mode or an
// empty base URL yields the pure pseudo-embedder.
func NewOpenAIEmbedder(cfg *config.EmbedderConfig) Embedder {
	if (cfg.Mock != nil && *cfg.Mock) || cfg.BaseURL == "" {
		return Pseudo{}
	}
	return &OpenAIEmbedder{
		client:      httpclient.New(httpclient.WithMaxRetries(0)),
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  time.Duration(cfg.RetryDelayMS) * time.Millisecond,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		vec, err := e.embedOnce(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err

		if attempt < e.maxAttempts {
			select {
			case <-ctx.Done():
				return PseudoEmbedding(text), nil
			case <-time.After(e.retryDelay):
			}
		}
	}

	slog.Warn("embedder_fallback_pseudo", "error", lastErr, "attempts", e.maxAttempts)
	return PseudoEmbedding(text), nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(OpenAIEmbedRequest{
		Model: e.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("embed request returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var decoded OpenAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("embed response contained no vectors")
	}

	return decoded.Data[0].Embedding, nil
}
