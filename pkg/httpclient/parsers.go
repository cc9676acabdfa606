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

package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ParseOpenAIHeaders extracts rate limit info from OpenAI-protocol API headers.
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	resetHeaders := []string{
		"x-ratelimit-reset-tokens",
		"x-ratelimit-reset-requests",
	}
	for _, header := range resetHeaders {
		if resetStr := headers.Get(header); resetStr != "" {
			if resetTime, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
				info.ResetTime = resetTime
				break
			}
		}
	}

	if remaining := headers.Get("x-ratelimit-remaining-requests"); remaining != "" {
		_, _ = fmt.Sscanf(remaining, "%d", &info.RequestsRemaining)
	}
	if remaining := headers.Get("x-ratelimit-remaining-tokens"); remaining != "" {
		_, _ = fmt.Sscanf(remaining, "%d", &info.TokensRemaining)
	}

	return info
}
