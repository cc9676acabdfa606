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

// Package config defines the configuration model: YAML with env expansion,
// per-section defaults and validation, and an atomically swappable snapshot
// store for the admin surface.
package config

import "fmt"

// BoolPtr returns a pointer to b. Optional booleans are pointers so that
// an absent key and an explicit false stay distinguishable.
func BoolPtr(b bool) *bool {
	return &b
}

// Config is the root configuration.
type Config struct {
	// MockMode wires the mock runtime, the pseudo embedder, the embedded
	// vector store and the seeded catalog so the whole pipeline runs
	// without external services.
	MockMode bool `yaml:"mock_mode" json:"mock_mode"`

	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
	Server       ServerConfig       `yaml:"server" json:"server"`
	Safety       SafetyConfig       `yaml:"safety" json:"safety"`
	Retrieval    RetrievalConfig    `yaml:"retrieval" json:"retrieval"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
	Proxy        ProxyConfig        `yaml:"proxy" json:"proxy"`
	Gateway      GatewayConfig      `yaml:"gateway" json:"gateway"`
	Runtime      RuntimeConfig      `yaml:"runtime" json:"runtime"`
	Embedder     EmbedderConfig     `yaml:"embedder" json:"embedder"`
	Vector       VectorConfig       `yaml:"vector" json:"vector"`
	Catalog      CatalogConfig      `yaml:"catalog" json:"catalog"`
}

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Format {
	case "simple", "verbose":
		return nil
	default:
		return fmt.Errorf("invalid logging.format '%s', must be 'simple' or 'verbose'", c.Format)
	}
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Port)
	}
	return nil
}

// SafetyConfig drives the layered content filter.
type SafetyConfig struct {
	// PolicyMode: "strict" blocks on PII, "balanced" redacts, "relaxed" allows.
	PolicyMode        string   `yaml:"policy_mode" json:"policy_mode"`
	PolicyID          string   `yaml:"policy_id" json:"policy_id"`
	Blocklist         []string `yaml:"blocklist" json:"blocklist"`
	EnablePIISanitize *bool    `yaml:"enable_pii_sanitize" json:"enable_pii_sanitize"`

	Guard SafetyGuardConfig `yaml:"guard" json:"guard"`
}

// SafetyGuardConfig is the optional LLM safeguard layer.
type SafetyGuardConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Model   string `yaml:"model" json:"model"`
	// FailOpen allows content through when the guard itself errors.
	FailOpen *bool `yaml:"fail_open" json:"fail_open"`
}

func (c *SafetyConfig) SetDefaults() {
	if c.PolicyMode == "" {
		c.PolicyMode = "balanced"
	}
	if c.PolicyID == "" {
		c.PolicyID = "policy_default_v1"
	}
	if c.EnablePIISanitize == nil {
		c.EnablePIISanitize = BoolPtr(true)
	}
	if c.Guard.Enabled == nil {
		c.Guard.Enabled = BoolPtr(false)
	}
	if c.Guard.FailOpen == nil {
		c.Guard.FailOpen = BoolPtr(true)
	}
}

func (c *SafetyConfig) Validate() error {
	switch c.PolicyMode {
	case "strict", "balanced", "relaxed":
		return nil
	default:
		return fmt.Errorf("invalid safety.policy_mode '%s', must be 'strict', 'balanced' or 'relaxed'", c.PolicyMode)
	}
}

// RetrievalConfig holds the hierarchical retriever defaults. Every field is
// a per-request override target.
type RetrievalConfig struct {
	DocsTopK             int     `yaml:"docs_top_k" json:"docs_top_k"`
	SectionsTopKPerDoc   int     `yaml:"sections_top_k_per_doc" json:"sections_top_k_per_doc"`
	MaxTotalSections     int     `yaml:"max_total_sections" json:"max_total_sections"`
	ChunkTopK            int     `yaml:"chunk_top_k" json:"chunk_top_k"`
	TopKPerDoc           int     `yaml:"topk_per_doc" json:"topk_per_doc"`
	MinDocs              int     `yaml:"min_docs" json:"min_docs"`
	MaxResults           int     `yaml:"max_results" json:"max_results"`
	EnableSectionCosine  *bool   `yaml:"enable_section_cosine" json:"enable_section_cosine"`
	EnableRerank         *bool   `yaml:"enable_rerank" json:"enable_rerank"`
	RerankScoreThreshold float64 `yaml:"rerank_score_threshold" json:"rerank_score_threshold"`
	RerankModel          string  `yaml:"rerank_model" json:"rerank_model"`
	RerankTopN           int     `yaml:"rerank_top_n" json:"rerank_top_n"`
	ChunksEnabled        *bool   `yaml:"chunks_enabled" json:"chunks_enabled"`
	EnableFilters        *bool   `yaml:"enable_filters" json:"enable_filters"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.DocsTopK == 0 {
		c.DocsTopK = 5
	}
	if c.SectionsTopKPerDoc == 0 {
		c.SectionsTopKPerDoc = 3
	}
	if c.MaxTotalSections == 0 {
		c.MaxTotalSections = 8
	}
	if c.ChunkTopK == 0 {
		c.ChunkTopK = 20
	}
	if c.TopKPerDoc == 0 {
		c.TopKPerDoc = 3
	}
	if c.MinDocs == 0 {
		c.MinDocs = 1
	}
	if c.MaxResults == 0 {
		c.MaxResults = 8
	}
	if c.EnableSectionCosine == nil {
		c.EnableSectionCosine = BoolPtr(true)
	}
	if c.EnableRerank == nil {
		c.EnableRerank = BoolPtr(false)
	}
	if c.RerankTopN == 0 {
		c.RerankTopN = 5
	}
	if c.ChunksEnabled == nil {
		c.ChunksEnabled = BoolPtr(true)
	}
	if c.EnableFilters == nil {
		c.EnableFilters = BoolPtr(true)
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.RerankScoreThreshold < 0 || c.RerankScoreThreshold > 1 {
		return fmt.Errorf("retrieval.rerank_score_threshold %v out of [0,1]", c.RerankScoreThreshold)
	}
	if c.MinDocs > c.DocsTopK {
		return fmt.Errorf("retrieval.min_docs %d exceeds docs_top_k %d", c.MinDocs, c.DocsTopK)
	}
	return nil
}

// OrchestratorConfig bounds the tool-calling loop.
type OrchestratorConfig struct {
	DefaultModel       string `yaml:"default_model" json:"default_model"`
	PromptTokenBudget  int    `yaml:"prompt_token_budget" json:"prompt_token_budget"`
	ContextTokenBudget int    `yaml:"context_token_budget" json:"context_token_budget"`
	MaxToolSteps       int    `yaml:"max_tool_steps" json:"max_tool_steps"`

	// WindowRadius is the per-side chunk-window cap. The legacy aliases
	// below are coerced into it at load time; the smallest candidate wins.
	WindowRadius   *int `yaml:"window_radius" json:"window_radius"`
	WindowInitial  *int `yaml:"window_initial" json:"window_initial"`
	WindowStep     *int `yaml:"window_step" json:"window_step"`
	WindowMax      *int `yaml:"window_max" json:"window_max"`
	MaxChunkWindow *int `yaml:"max_chunk_window" json:"max_chunk_window"`

	DefaultTenantID string `yaml:"default_tenant_id" json:"default_tenant_id"`
	DefaultUserID   string `yaml:"default_user_id" json:"default_user_id"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o-mini"
	}
	if c.PromptTokenBudget == 0 {
		c.PromptTokenBudget = 2000
	}
	if c.ContextTokenBudget == 0 {
		c.ContextTokenBudget = 8000
	}
	if c.MaxToolSteps == 0 {
		c.MaxToolSteps = 2
	}
	if c.DefaultTenantID == "" {
		c.DefaultTenantID = "tenant_1"
	}
	if c.DefaultUserID == "" {
		c.DefaultUserID = "anonymous"
	}
	c.coerceWindow()
}

// coerceWindow folds the legacy window aliases into WindowRadius.
// max_chunk_window counts total chunks, so a total T maps to R = (T-1)/2.
// The smallest non-nil candidate wins; the default radius is 2.
func (c *OrchestratorConfig) coerceWindow() {
	radius := 2
	set := false
	consider := func(r int) {
		if r < 0 {
			r = 0
		}
		if !set || r < radius {
			radius = r
		}
		set = true
	}
	if c.WindowRadius != nil {
		consider(*c.WindowRadius)
	}
	if c.WindowMax != nil {
		consider(*c.WindowMax)
	}
	if c.MaxChunkWindow != nil {
		consider((*c.MaxChunkWindow - 1) / 2)
	}
	c.WindowRadius = &radius

	if c.WindowStep == nil {
		step := 1
		c.WindowStep = &step
	}
	if c.WindowInitial == nil {
		initial := 1
		if radius < 1 {
			initial = 0
		}
		c.WindowInitial = &initial
	} else if *c.WindowInitial > radius {
		c.WindowInitial = &radius
	}
}

func (c *OrchestratorConfig) Validate() error {
	if c.MaxToolSteps < 0 {
		return fmt.Errorf("orchestrator.max_tool_steps must be >= 0")
	}
	if c.ContextTokenBudget < c.PromptTokenBudget {
		return fmt.Errorf("orchestrator.context_token_budget %d below prompt_token_budget %d",
			c.ContextTokenBudget, c.PromptTokenBudget)
	}
	return nil
}

// MaxWindowRadius returns the coerced per-side cap.
func (c *OrchestratorConfig) MaxWindowRadius() int {
	if c.WindowRadius == nil {
		return 2
	}
	return *c.WindowRadius
}

// ProxyConfig bounds every tool-proxy call.
type ProxyConfig struct {
	MaxWindowRadius *int `yaml:"max_window_radius" json:"max_window_radius"`
	MaxTextBytes    int  `yaml:"max_text_bytes" json:"max_text_bytes"`
	MaxPagesPerCall int  `yaml:"max_pages_per_call" json:"max_pages_per_call"`
	RateLimitCalls  int  `yaml:"rate_limit_calls" json:"rate_limit_calls"`
	RateLimitTokens int  `yaml:"rate_limit_tokens" json:"rate_limit_tokens"`
}

func (c *ProxyConfig) SetDefaults() {
	if c.MaxWindowRadius == nil {
		r := 2
		c.MaxWindowRadius = &r
	}
	if c.MaxTextBytes == 0 {
		c.MaxTextBytes = 20480
	}
	if c.MaxPagesPerCall == 0 {
		c.MaxPagesPerCall = 5
	}
	if c.RateLimitCalls == 0 {
		c.RateLimitCalls = 10
	}
	if c.RateLimitTokens == 0 {
		c.RateLimitTokens = 2000
	}
}

func (c *ProxyConfig) Validate() error {
	if *c.MaxWindowRadius < 0 {
		return fmt.Errorf("proxy.max_window_radius must be >= 0")
	}
	return nil
}

// GatewayConfig covers the public assistant surface.
type GatewayConfig struct {
	// Per (tenant, user) limits on the public endpoint.
	RateLimitCalls  int `yaml:"rate_limit_calls" json:"rate_limit_calls"`
	RateLimitTokens int `yaml:"rate_limit_tokens" json:"rate_limit_tokens"`
}

func (c *GatewayConfig) SetDefaults() {
	if c.RateLimitCalls == 0 {
		c.RateLimitCalls = 30
	}
	if c.RateLimitTokens == 0 {
		c.RateLimitTokens = 20000
	}
}

// RuntimeConfig points at the LLM runtime (OpenAI protocol).
type RuntimeConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	APIKey         string `yaml:"api_key" json:"api_key"`
	Model          string `yaml:"model" json:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries" json:"max_retries"`
	Mock           *bool  `yaml:"mock" json:"mock"`
}

func (c *RuntimeConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.Mock == nil {
		c.Mock = BoolPtr(false)
	}
}

// EmbedderConfig points at the embedding service.
type EmbedderConfig struct {
	BaseURL      string `yaml:"base_url" json:"base_url"`
	APIKey       string `yaml:"api_key" json:"api_key"`
	Model        string `yaml:"model" json:"model"`
	MaxAttempts  int    `yaml:"max_attempts" json:"max_attempts"`
	RetryDelayMS int    `yaml:"retry_delay_ms" json:"retry_delay_ms"`
	Mock         *bool  `yaml:"mock" json:"mock"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelayMS == 0 {
		c.RetryDelayMS = 200
	}
	if c.Mock == nil {
		c.Mock = BoolPtr(false)
	}
}

// VectorConfig selects and configures the vector store.
type VectorConfig struct {
	// Provider: "qdrant" or "chromem".
	Provider string       `yaml:"provider" json:"provider"`
	Qdrant   QdrantConfig `yaml:"qdrant" json:"qdrant"`

	DocsCollection     string `yaml:"docs_collection" json:"docs_collection"`
	SectionsCollection string `yaml:"sections_collection" json:"sections_collection"`
	ChunksCollection   string `yaml:"chunks_collection" json:"chunks_collection"`
}

// QdrantConfig holds qdrant connection settings.
type QdrantConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	APIKey string `yaml:"api_key" json:"api_key"`
	UseTLS *bool  `yaml:"use_tls" json:"use_tls"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "chromem"
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.UseTLS == nil {
		c.Qdrant.UseTLS = BoolPtr(false)
	}
	if c.DocsCollection == "" {
		c.DocsCollection = "docs"
	}
	if c.SectionsCollection == "" {
		c.SectionsCollection = "sections"
	}
	if c.ChunksCollection == "" {
		c.ChunksCollection = "chunks"
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Provider {
	case "qdrant", "chromem":
		return nil
	default:
		return fmt.Errorf("invalid vector.provider '%s', must be 'qdrant' or 'chromem'", c.Provider)
	}
}

// CatalogConfig points at the document catalog service. An empty base URL
// selects the seeded in-memory catalog.
type CatalogConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

func (c *CatalogConfig) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Server.SetDefaults()
	c.Safety.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Proxy.SetDefaults()
	c.Gateway.SetDefaults()
	c.Runtime.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Catalog.SetDefaults()

	if c.MockMode {
		c.Runtime.Mock = BoolPtr(true)
		c.Embedder.Mock = BoolPtr(true)
		c.Vector.Provider = "chromem"
	}
}

// Validate validates every section.
func (c *Config) Validate() error {
	validators := []func() error{
		c.Logging.Validate,
		c.Server.Validate,
		c.Safety.Validate,
		c.Retrieval.Validate,
		c.Orchestrator.Validate,
		c.Proxy.Validate,
		c.Vector.Validate,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}
