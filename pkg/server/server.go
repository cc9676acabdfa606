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

// Package server is the HTTP surface: the public assistant endpoint with
// safety and rate limiting in front, and the internal endpoints for each
// subsystem. Errors cross the wire as StatusError JSON; the tool-proxy
// endpoint alone always answers 200 with an envelope.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/observability"
	"github.com/kadirpekel/visior/pkg/orchestrator"
	"github.com/kadirpekel/visior/pkg/ratelimit"
	"github.com/kadirpekel/visior/pkg/retrieval"
	"github.com/kadirpekel/visior/pkg/safety"
	"github.com/kadirpekel/visior/pkg/tools"
)

// Deps are the wired subsystems the server fronts.
type Deps struct {
	Store        *config.Store
	Orchestrator *orchestrator.Orchestrator
	Retriever    *retrieval.Retriever
	Executor     *tools.Executor
	Safety       *safety.Filter
	Metrics      *observability.Metrics
	// Registry backs /metrics. Nil serves the default gatherer.
	Registry *prometheus.Registry
}

// Server hosts the HTTP API.
type Server struct {
	deps           Deps
	gatewayLimiter *ratelimit.Limiter
	router         chi.Router
}

// New builds the server and its router.
func New(deps Deps) *Server {
	cfg := deps.Store.Snapshot()
	s := &Server{
		deps:           deps,
		gatewayLimiter: ratelimit.NewLimiter(cfg.Gateway.RateLimitCalls, cfg.Gateway.RateLimitTokens, time.Minute),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the HTTP handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(traceIDMiddleware)
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler())

	r.Post("/api/v1/assistant/query", s.handleAssistantQuery)

	r.Route("/internal", func(r chi.Router) {
		r.Post("/orchestrator/respond", s.handleOrchestratorRespond)
		r.Get("/orchestrator/config", s.handleConfigGet)
		r.Post("/orchestrator/config", s.handleConfigPatch)
		r.Post("/retrieval/search", s.handleRetrievalSearch)
		r.Post("/retrieval/chunks/window", s.handleChunkWindow)
		r.Post("/mcp/execute", s.handleMCPExecute)
		r.Post("/safety/input-check", s.handleSafetyCheck(true))
		r.Post("/safety/output-check", s.handleSafetyCheck(false))
	})

	return r
}

func (s *Server) metricsHandler() http.Handler {
	if s.deps.Registry != nil {
		return promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.deps.Store.Snapshot()
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server_listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("server_shutting_down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
