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

package config

import (
	"fmt"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
)

// Store publishes immutable config snapshots. New requests read the
// current snapshot; a request in flight keeps the one it started with.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a Store seeded with cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Snapshot returns the current config. The returned value must be treated
// as read-only.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// Replace swaps in a whole new config, e.g. after a file reload.
func (s *Store) Replace(cfg *Config) {
	s.current.Store(cfg)
}

// adminPatch is the subset of sections an admin may mutate at runtime.
type adminPatch struct {
	Safety       *map[string]any `yaml:"safety"`
	Retrieval    *map[string]any `yaml:"retrieval"`
	Orchestrator *map[string]any `yaml:"orchestrator"`
	Proxy        *map[string]any `yaml:"proxy"`
}

// Patch applies a partial update to the admin-mutable sections and
// publishes a new snapshot. Unknown top-level keys are rejected; the
// patched config is re-defaulted and re-validated before the swap.
func (s *Store) Patch(patch map[string]any) (*Config, error) {
	allowed := map[string]bool{
		"safety": true, "retrieval": true, "orchestrator": true, "proxy": true,
	}
	for key := range patch {
		if !allowed[key] {
			return nil, fmt.Errorf("config section '%s' is not admin-mutable", key)
		}
	}

	next := *s.Snapshot()

	sections := map[string]any{
		"safety":       &next.Safety,
		"retrieval":    &next.Retrieval,
		"orchestrator": &next.Orchestrator,
		"proxy":        &next.Proxy,
	}
	for key, target := range sections {
		raw, ok := patch[key]
		if !ok {
			continue
		}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           target,
			TagName:          "yaml",
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create decoder: %w", err)
		}
		if err := decoder.Decode(raw); err != nil {
			return nil, fmt.Errorf("invalid %s patch: %w", key, err)
		}
	}

	next.SetDefaults()
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("patched config invalid: %w", err)
	}

	s.current.Store(&next)
	return &next, nil
}
