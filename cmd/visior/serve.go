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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kadirpekel/visior/pkg/catalog"
	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/embedders"
	"github.com/kadirpekel/visior/pkg/llms"
	"github.com/kadirpekel/visior/pkg/observability"
	"github.com/kadirpekel/visior/pkg/orchestrator"
	"github.com/kadirpekel/visior/pkg/ratelimit"
	"github.com/kadirpekel/visior/pkg/retrieval"
	"github.com/kadirpekel/visior/pkg/safety"
	"github.com/kadirpekel/visior/pkg/server"
	"github.com/kadirpekel/visior/pkg/tools"
	"github.com/kadirpekel/visior/pkg/vector"
)

// ServeCmd starts the assistant server.
type ServeCmd struct {
	Config string `short:"c" help:"Path to config file." type:"path"`
	Mock   bool   `help:"Run fully in-process: mock LLM, pseudo embedder, embedded vector store, seeded catalog."`
	Port   int    `help:"Port to listen on (overrides config)."`
	Watch  bool   `help:"Watch config file for changes."`

	Observe      bool   `help:"Enable OTLP span export."`
	OTLPEndpoint string `name:"otlp-endpoint" help:"OTLP gRPC collector endpoint." default:"localhost:4317"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting_down")
		cancel()
	}()

	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	store := config.NewStore(cfg)

	if c.Watch && c.Config != "" {
		watcher, err := config.NewLoader(c.Config, config.WithOnChange(store.Replace))
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("config_watch_failed", "error", err)
			}
		}()
	}

	if _, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:     c.Observe,
		EndpointURL: c.OTLPEndpoint,
		ServiceName: "visior",
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	provider, err := vector.NewProviderFromConfig(&cfg.Vector)
	if err != nil {
		return fmt.Errorf("failed to create vector provider: %w", err)
	}
	defer provider.Close()
	gateway := vector.NewGateway(provider)

	embedder := embedders.NewOpenAIEmbedder(&cfg.Embedder)
	repo := catalog.NewRepositoryFromConfig(&cfg.Catalog)
	llm := llms.NewProviderFromConfig(&cfg.Runtime)

	if cfg.MockMode {
		if err := seedCatalog(ctx, provider, &cfg.Vector, embedder, repo); err != nil {
			return fmt.Errorf("failed to seed mock catalog: %w", err)
		}
	}

	retriever := retrieval.NewRetriever(gateway, embedder, llm, store, metrics)

	toolLimiter := ratelimit.NewLimiter(cfg.Proxy.RateLimitCalls, cfg.Proxy.RateLimitTokens, time.Minute)
	executor := tools.NewExecutor(tools.NewDefaultRegistry(repo, retriever), toolLimiter, metrics)

	var guard safety.Guard
	if cfg.Safety.Guard.Enabled != nil && *cfg.Safety.Guard.Enabled {
		guard = safety.NewLLMGuard(llm, cfg.Safety.Guard.Model)
	}

	srv := server.New(server.Deps{
		Store:        store,
		Orchestrator: orchestrator.New(retriever, llm, executor, store, metrics),
		Retriever:    retriever,
		Executor:     executor,
		Safety:       safety.NewFilter(guard),
		Metrics:      metrics,
		Registry:     registry,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("\nvisior server ready\n")
	fmt.Printf("   Query:    http://%s/api/v1/assistant/query\n", addr)
	fmt.Printf("   Health:   http://%s/healthz\n", addr)
	fmt.Printf("   Metrics:  http://%s/metrics\n", addr)
	if cfg.MockMode {
		fmt.Printf("   Mode:     mock (seeded catalog, no external services)\n")
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Run(ctx)
}

// loadConfig loads the config file, or falls back to mock-mode defaults
// when no file is given.
func (c *ServeCmd) loadConfig(ctx context.Context) (*config.Config, error) {
	if c.Config == "" {
		cfg := config.Default()
		cfg.MockMode = true
		cfg.SetDefaults()
		slog.Info("no config file, using mock mode defaults")
		return cfg, nil
	}

	loader, err := config.NewLoader(c.Config)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.Mock {
		cfg.MockMode = true
		cfg.SetDefaults()
	}
	slog.Info("config_loaded", "path", c.Config)
	return cfg, nil
}

// seedCatalog indexes every seeded document into the vector store so mock
// mode answers retrieval queries out of the box.
func seedCatalog(ctx context.Context, provider vector.Provider, cols *config.VectorConfig, embedder embedders.Embedder, repo catalog.Repository) error {
	seeded, ok := repo.(*catalog.MemoryRepository)
	if !ok {
		return nil
	}
	for _, doc := range seeded.Documents() {
		if err := retrieval.IndexDocument(ctx, provider, cols, embedder, doc); err != nil {
			return err
		}
		slog.Info("document_indexed", "doc_id", doc.DocID, "title", doc.Title)
	}
	return nil
}
