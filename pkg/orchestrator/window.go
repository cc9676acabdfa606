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

package orchestrator

import "github.com/kadirpekel/visior/pkg/config"

// windowPolicy holds the progressive chunk-window parameters.
type windowPolicy struct {
	initial int
	step    int
	max     int
}

func windowPolicyFromConfig(cfg *config.OrchestratorConfig) windowPolicy {
	policy := windowPolicy{initial: 1, step: 1, max: cfg.MaxWindowRadius()}
	if cfg.WindowInitial != nil {
		policy.initial = *cfg.WindowInitial
	}
	if cfg.WindowStep != nil {
		policy.step = *cfg.WindowStep
	}
	if policy.initial > policy.max {
		policy.initial = policy.max
	}
	return policy
}

// nextRadius widens a radius by step, clamped to max. Monotonic.
func nextRadius(current, step, max int) int {
	next := current + step
	if next > max {
		next = max
	}
	if next < current {
		next = current
	}
	return next
}

// progressiveWindow tracks the per-section window radius across tool
// steps: the first request for a section gets the initial radius, each
// subsequent one widens by step up to max.
type progressiveWindow struct {
	policy  windowPolicy
	current map[string]int
}

func newProgressiveWindow(policy windowPolicy) *progressiveWindow {
	return &progressiveWindow{policy: policy, current: make(map[string]int)}
}

func (w *progressiveWindow) next(sectionID string) int {
	radius, seen := w.current[sectionID]
	if !seen {
		radius = w.policy.initial
		if radius > w.policy.max {
			radius = w.policy.max
		}
	} else {
		radius = nextRadius(radius, w.policy.step, w.policy.max)
	}
	w.current[sectionID] = radius
	return radius
}
