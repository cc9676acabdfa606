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

// Package ratelimit is a dual call/token limiter keyed by caller scope.
// The tool proxy keys on (tenant, doc); the gateway keys on (tenant, user).
package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kadirpekel/visior/pkg/protocol"
)

// usageKey identifies one usage record.
type usageKey struct {
	Scope      string
	Identifier string
}

// usageRecord accumulates calls and tokens inside one window.
type usageRecord struct {
	Calls     int64
	Tokens    int64
	WindowEnd time.Time
}

// Limiter enforces per-key call and token ceilings over a fixed window.
// Check-and-record happens under one mutex and never spans I/O.
type Limiter struct {
	maxCalls  int64
	maxTokens int64
	window    time.Duration

	mu   sync.Mutex
	data map[usageKey]*usageRecord

	now func() time.Time
}

// NewLimiter creates a limiter with the given ceilings per window.
func NewLimiter(maxCalls, maxTokens int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		maxCalls:  int64(maxCalls),
		maxTokens: int64(maxTokens),
		window:    window,
		data:      make(map[usageKey]*usageRecord),
		now:       time.Now,
	}
}

// Key builds the canonical identifier for a tenant-scoped resource. An
// empty resource collapses to the tenant-global bucket.
func Key(tenantID, resource string) string {
	if resource == "" {
		resource = "global"
	}
	return fmt.Sprintf("%s:%s", tenantID, resource)
}

// Allow records one call consuming estTokens under the identifier, or
// returns 429 RATE_LIMIT_EXCEEDED without recording anything.
func (l *Limiter) Allow(scope, identifier string, estTokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := usageKey{Scope: scope, Identifier: identifier}
	now := l.now()

	record, exists := l.data[key]
	if !exists || record.WindowEnd.Before(now) {
		record = &usageRecord{WindowEnd: now.Add(l.window)}
		l.data[key] = record
	}

	if record.Calls+1 > l.maxCalls {
		return protocol.NewStatusErrorf(http.StatusTooManyRequests, protocol.CodeRateLimitExceeded,
			"call limit %d exceeded for %s", l.maxCalls, identifier)
	}
	if record.Tokens+int64(estTokens) > l.maxTokens {
		return protocol.NewStatusErrorf(http.StatusTooManyRequests, protocol.CodeRateLimitExceeded,
			"token limit %d exceeded for %s", l.maxTokens, identifier)
	}

	record.Calls++
	record.Tokens += int64(estTokens)
	return nil
}

// Usage reports the current window's consumption, for tests and admin
// introspection.
func (l *Limiter) Usage(scope, identifier string) (calls, tokens int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, exists := l.data[usageKey{Scope: scope, Identifier: identifier}]
	if !exists || record.WindowEnd.Before(l.now()) {
		return 0, 0
	}
	return record.Calls, record.Tokens
}

// DeleteExpired drops records whose window already closed.
func (l *Limiter) DeleteExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, record := range l.data {
		if record.WindowEnd.Before(now) {
			delete(l.data, key)
		}
	}
}
