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

// Package embedders turns query text into vectors. The HTTP client speaks
// the OpenAI embeddings protocol and degrades to a deterministic
// pseudo-embedding so retrieval never fails on an embedding outage.
package embedders

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// Embedder produces a query vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PseudoDimension is the dimensionality of the hash-derived fallback
// vector.
const PseudoDimension = 8

// PseudoEmbedding derives a deterministic 8-dim vector from the sha256 of
// the text. Each dimension is a big-endian uint32 of the digest, mod 1000,
// scaled into [0,1).
func PseudoEmbedding(text string) []float32 {
	digest := sha256.Sum256([]byte(text))
	vec := make([]float32, PseudoDimension)
	for i := 0; i < PseudoDimension; i++ {
		n := binary.BigEndian.Uint32(digest[i*4 : i*4+4])
		vec[i] = float32(n%1000) / 1000.0
	}
	return vec
}

// Pseudo is an Embedder that always returns the hash-derived vector.
// Used in mock mode and as the terminal fallback.
type Pseudo struct{}

func (Pseudo) Embed(_ context.Context, text string) ([]float32, error) {
	return PseudoEmbedding(text), nil
}
