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

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens counts tokens with cl100k when the encoding is available
// and falls back to the bytes/4 heuristic otherwise. The encoding load
// can require a network fetch, so the fallback keeps air-gapped and mock
// deployments working.
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}
