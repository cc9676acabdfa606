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

package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/kadirpekel/visior/pkg/protocol"
)

func TestAllowWithinLimits(t *testing.T) {
	l := NewLimiter(3, 100, time.Minute)

	for i := 0; i < 3; i++ {
		if err := l.Allow("proxy", Key("tenant_1", "doc_1"), 10); err != nil {
			t.Fatalf("Allow %d failed: %v", i, err)
		}
	}

	calls, tokens := l.Usage("proxy", Key("tenant_1", "doc_1"))
	if calls != 3 || tokens != 30 {
		t.Errorf("Expected usage 3/30, got %d/%d", calls, tokens)
	}
}

func TestCallLimitExceeded(t *testing.T) {
	l := NewLimiter(2, 1000, time.Minute)
	key := Key("tenant_1", "doc_1")

	_ = l.Allow("proxy", key, 1)
	_ = l.Allow("proxy", key, 1)
	err := l.Allow("proxy", key, 1)
	if err == nil {
		t.Fatal("Expected call limit error")
	}
	se := protocol.AsStatusError(err)
	if se.Status != http.StatusTooManyRequests || se.Code != protocol.CodeRateLimitExceeded {
		t.Errorf("Expected 429 RATE_LIMIT_EXCEEDED, got %d %s", se.Status, se.Code)
	}
}

func TestTokenLimitExceeded(t *testing.T) {
	l := NewLimiter(10, 50, time.Minute)
	key := Key("tenant_1", "doc_1")

	if err := l.Allow("proxy", key, 40); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	err := l.Allow("proxy", key, 20)
	if err == nil {
		t.Fatal("Expected token limit error")
	}
	se := protocol.AsStatusError(err)
	if se.Code != protocol.CodeRateLimitExceeded {
		t.Errorf("Expected RATE_LIMIT_EXCEEDED, got %s", se.Code)
	}

	// A denied call must not consume anything.
	calls, tokens := l.Usage("proxy", key)
	if calls != 1 || tokens != 40 {
		t.Errorf("Expected usage 1/40 after denial, got %d/%d", calls, tokens)
	}
}

func TestKeysAreIsolated(t *testing.T) {
	l := NewLimiter(1, 100, time.Minute)

	if err := l.Allow("proxy", Key("tenant_1", "doc_1"), 1); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if err := l.Allow("proxy", Key("tenant_2", "doc_1"), 1); err != nil {
		t.Errorf("Expected tenant_2 to have its own bucket: %v", err)
	}
	if err := l.Allow("proxy", Key("tenant_1", "doc_2"), 1); err != nil {
		t.Errorf("Expected doc_2 to have its own bucket: %v", err)
	}
}

func TestGlobalKey(t *testing.T) {
	if got := Key("tenant_1", ""); got != "tenant_1:global" {
		t.Errorf("Expected tenant_1:global, got %s", got)
	}
}

func TestWindowReset(t *testing.T) {
	l := NewLimiter(1, 100, time.Minute)
	current := time.Now()
	l.now = func() time.Time { return current }

	key := Key("tenant_1", "doc_1")
	if err := l.Allow("proxy", key, 1); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if err := l.Allow("proxy", key, 1); err == nil {
		t.Fatal("Expected limit inside window")
	}

	current = current.Add(2 * time.Minute)
	if err := l.Allow("proxy", key, 1); err != nil {
		t.Errorf("Expected fresh window after expiry: %v", err)
	}
}

func TestDeleteExpired(t *testing.T) {
	l := NewLimiter(5, 100, time.Minute)
	current := time.Now()
	l.now = func() time.Time { return current }

	_ = l.Allow("proxy", Key("tenant_1", "doc_1"), 1)
	current = current.Add(2 * time.Minute)
	l.DeleteExpired()

	l.mu.Lock()
	size := len(l.data)
	l.mu.Unlock()
	if size != 0 {
		t.Errorf("Expected empty table, got %d records", size)
	}
}
