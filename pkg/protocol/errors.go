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

package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes surfaced to callers.
const (
	CodeContextBudgetExceeded = "CONTEXT_BUDGET_EXCEEDED"
	CodeLLMLimitExceeded      = "LLM_LIMIT_EXCEEDED"
	CodeLLMLoop               = "LLM_LOOP"
	CodeWindowTooLarge        = "WINDOW_TOO_LARGE"
	CodeAccessDenied          = "ACCESS_DENIED"
	CodeNotFound              = "not_found"
	CodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	CodeBadRequest            = "bad_request"
	CodeUpstreamError         = "upstream_error"
	CodeNotConfigured         = "not_configured"
)

// StatusError is an error that maps onto an HTTP status and a stable code.
// Everything that crosses a service boundary is one of these.
type StatusError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewStatusError creates a StatusError with the given HTTP status.
func NewStatusError(status int, code, message string) *StatusError {
	return &StatusError{Status: status, Code: code, Message: message}
}

// NewStatusErrorf formats the message.
func NewStatusErrorf(status int, code, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsStatusError unwraps err into a StatusError, or wraps it as a 500.
func AsStatusError(err error) *StatusError {
	var se *StatusError
	if errors.As(err, &se) {
		return se
	}
	return &StatusError{Status: http.StatusInternalServerError, Code: "internal_error", Message: err.Error()}
}

// Convenience constructors for the common kinds.

func ErrNotFound(message string) *StatusError {
	return NewStatusError(http.StatusNotFound, CodeNotFound, message)
}

func ErrAccessDenied() *StatusError {
	return NewStatusError(http.StatusForbidden, CodeAccessDenied, "document belongs to another tenant")
}

func ErrBadRequest(message string) *StatusError {
	return NewStatusError(http.StatusBadRequest, CodeBadRequest, message)
}

func ErrUpstream(message string) *StatusError {
	return NewStatusError(http.StatusBadGateway, CodeUpstreamError, message)
}
