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

// Package vector abstracts the ANN store behind a Provider interface with
// a typed predicate tree. The Gateway wrapper injects the tenant conjunct
// into every query so no caller can search across tenants.
package vector

import (
	"context"
	"fmt"
	"strings"
)

// Result is one stored point: id, similarity score and metadata payload.
type Result struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]any
}

// Condition is a single predicate on a metadata field. Exactly one of
// Equals and In is set.
type Condition struct {
	Field  string
	Equals any
	In     []string
}

// Filter is a conjunction of conditions.
type Filter struct {
	Must []Condition
}

// Eq appends an equality condition and returns the filter for chaining.
func (f *Filter) Eq(field string, value any) *Filter {
	f.Must = append(f.Must, Condition{Field: field, Equals: value})
	return f
}

// In appends a membership condition. An empty value set is ignored.
func (f *Filter) In(field string, values []string) *Filter {
	if len(values) == 0 {
		return f
	}
	f.Must = append(f.Must, Condition{Field: field, In: values})
	return f
}

// Matches evaluates the filter against a metadata payload. List-valued
// metadata satisfies an equality condition when it contains the value.
func (f *Filter) Matches(metadata map[string]any) bool {
	if f == nil {
		return true
	}
	for _, cond := range f.Must {
		value, ok := metadata[cond.Field]
		if !ok {
			return false
		}
		if !cond.matches(value) {
			return false
		}
	}
	return true
}

func (c Condition) matches(value any) bool {
	// Membership is case-insensitive and treats list-valued metadata as a
	// set: any element matching any candidate satisfies the condition.
	if len(c.In) > 0 {
		for _, got := range elementStrings(value) {
			for _, candidate := range c.In {
				if strings.EqualFold(got, candidate) {
					return true
				}
			}
		}
		return false
	}

	want := fmt.Sprint(c.Equals)
	for _, got := range elementStrings(value) {
		if got == want {
			return true
		}
	}
	return false
}

// elementStrings flattens a metadata value into its string elements; a
// scalar yields a single-element slice.
func elementStrings(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// Provider is a vector store backend.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Upsert adds or updates a point with its vector and metadata.
	Upsert(ctx context.Context, collection string, id string, vec []float32, metadata map[string]any) error

	// Search runs ANN against a collection under the filter.
	Search(ctx context.Context, collection string, vec []float32, topK int, filter *Filter) ([]Result, error)

	// Scan lists up to limit points matching the filter without ranking.
	// Backs the metadata fallback and the chunk-window reads.
	Scan(ctx context.Context, collection string, filter *Filter, limit int) ([]Result, error)

	// Close releases resources.
	Close() error
}
