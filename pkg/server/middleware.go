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

package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

const traceIDHeader = "X-Trace-Id"

// traceIDMiddleware assigns every request a trace id: the caller's header
// when present, a fresh UUID otherwise. The id is echoed in the response.
func traceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(traceIDHeader, traceID)
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

const tenantIDHeader = "X-Tenant-ID"

// requestTenantID returns the tenant routing header, the fallback for
// internal requests whose body omits tenant_id.
func requestTenantID(r *http.Request) string {
	return r.Header.Get(tenantIDHeader)
}

// requestTraceID returns the trace id assigned by the middleware.
func requestTraceID(r *http.Request) string {
	if traceID, ok := r.Context().Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// metricsMiddleware records request counts and durations per route.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		status := strconv.Itoa(ww.Status())
		s.deps.Metrics.RequestsTotal.WithLabelValues(route, status).Inc()
		s.deps.Metrics.RequestDuration.WithLabelValues(route, status).Observe(time.Since(started).Seconds())
	})
}
