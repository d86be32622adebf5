// Package config provides configuration loading for nbfix.
//
// Configuration is an explicit struct handed to every component at
// construction time. Values come from a YAML file, then NBFIX_* environment
// variables, then defaults for anything left unset.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete nbfix configuration.
type Config struct {
	Repair      RepairConfig      `koanf:"repair"`
	Executor    ExecutorConfig    `koanf:"executor"`
	Applier     ApplierConfig     `koanf:"applier"`
	Planner     PlannerConfig     `koanf:"planner"`
	LLM         LLMConfig         `koanf:"llm"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Secrets     SecretsConfig     `koanf:"secrets"`
	Batch       BatchConfig       `koanf:"batch"`
	Server      ServerConfig      `koanf:"server"`
	Events      EventsConfig      `koanf:"events"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// RepairConfig bounds the repair loop.
type RepairConfig struct {
	MaxIterations       int      `koanf:"max_iterations"`
	MaxSearchAttempts   int      `koanf:"max_search_attempts"`
	MaxPlanningAttempts int      `koanf:"max_planning_attempts"`
	CommonErrors        []string `koanf:"common_errors"`
	DomainSignatures    []string `koanf:"domain_signatures"`
	RollbackOnFailure   bool     `koanf:"rollback_on_failure"`
	SkipResultFile      bool     `koanf:"skip_result_file"`
}

// ExecutorConfig controls how notebooks are run.
type ExecutorConfig struct {
	Command     string   `koanf:"command"`
	Args        []string `koanf:"args"`
	Timeout     Duration `koanf:"timeout"`
	CellTimeout Duration `koanf:"cell_timeout"`
	KernelName  string   `koanf:"kernel_name"`
	// KeepOutputs executes in place so the notebook keeps this run's outputs.
	KeepOutputs bool `koanf:"keep_outputs"`
}

// ApplierConfig controls patch target selection.
type ApplierConfig struct {
	MatchThreshold float64 `koanf:"match_threshold"`
}

// PlannerConfig controls prompt construction.
type PlannerConfig struct {
	Domain          string `koanf:"domain"`
	MaxSnippets     int    `koanf:"max_snippets"`
	MaxContextChars int    `koanf:"max_context_chars"`
}

// LLMConfig configures the reasoning service.
type LLMConfig struct {
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	Temperature float64  `koanf:"temperature"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	Burst       int      `koanf:"burst"`
	MaxRetries  int      `koanf:"max_retries"`
	Timeout     Duration `koanf:"timeout"`
}

// EmbeddingsConfig configures the embedding model.
type EmbeddingsConfig struct {
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"` // chromem or qdrant
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
	VectorSize uint64 `koanf:"vector_size"`
}

// RetrievalConfig configures knowledge retrieval and indexing.
type RetrievalConfig struct {
	DocsCollection   string  `koanf:"docs_collection"`
	FixesCollection  string  `koanf:"fixes_collection"`
	TopK             int     `koanf:"top_k"`
	MinScore         float64 `koanf:"min_score"`
	ChunkSize        int     `koanf:"chunk_size"`
	DisableFixMemory bool    `koanf:"disable_fix_memory"`
}

// SecretsConfig controls prompt scrubbing.
type SecretsConfig struct {
	Disabled      bool     `koanf:"disabled"`
	ExtraPatterns []string `koanf:"extra_patterns"`
	// Gitleaks adds the gitleaks rule set to the built-in rules.
	Gitleaks bool `koanf:"gitleaks"`
	// AllowlistFile is a gitleaks-style TOML file of patterns never redacted.
	AllowlistFile string `koanf:"allowlist_file"`
}

// BatchConfig controls bulk execution.
type BatchConfig struct {
	Workers int `koanf:"workers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	APIToken        Secret   `koanf:"api_token"`
	// NotebookRoot restricts request paths to this directory when set.
	NotebookRoot    string   `koanf:"notebook_root"`
}

// EventsConfig configures the optional NATS event publisher.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig is the user-facing subset of logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"` // grpc or http/protobuf
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// DefaultCommonErrors are error types simple enough to fix without retrieval.
var DefaultCommonErrors = []string{
	"NameError",
	"SyntaxError",
	"IndentationError",
	"ImportError",
	"ModuleNotFoundError",
	"TypeError",
	"AttributeError",
	"KeyError",
	"IndexError",
	"ValueError",
	"ZeroDivisionError",
}

// DefaultDomainSignatures mark failures that involve the cube engine API.
var DefaultDomainSignatures = []string{
	"atoti",
	"tt.",
	"session.",
	"cube",
	"create_cube",
	"hierarchies",
	"measures",
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Repair.MaxIterations == 0 {
		cfg.Repair.MaxIterations = 3
	}
	if cfg.Repair.MaxSearchAttempts == 0 {
		cfg.Repair.MaxSearchAttempts = 3
	}
	if cfg.Repair.MaxPlanningAttempts == 0 {
		cfg.Repair.MaxPlanningAttempts = 3
	}
	if len(cfg.Repair.CommonErrors) == 0 {
		cfg.Repair.CommonErrors = append([]string(nil), DefaultCommonErrors...)
	}
	if len(cfg.Repair.DomainSignatures) == 0 {
		cfg.Repair.DomainSignatures = append([]string(nil), DefaultDomainSignatures...)
	}

	if cfg.Executor.Command == "" {
		cfg.Executor.Command = "jupyter"
	}
	if len(cfg.Executor.Args) == 0 {
		cfg.Executor.Args = []string{"nbconvert", "--to", "notebook", "--execute"}
	}
	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = Duration(10 * time.Minute)
	}

	if cfg.Applier.MatchThreshold == 0 {
		cfg.Applier.MatchThreshold = 0.5
	}

	if cfg.Planner.Domain == "" {
		cfg.Planner.Domain = "atoti"
	}
	if cfg.Planner.MaxSnippets == 0 {
		cfg.Planner.MaxSnippets = 5
	}
	if cfg.Planner.MaxContextChars == 0 {
		cfg.Planner.MaxContextChars = 6000
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "qwen2.5-coder:7b"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.RateLimit == 0 {
		cfg.LLM.RateLimit = 2
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 1
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(2 * time.Minute)
	}

	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "nomic-embed-text"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = cfg.LLM.BaseURL
	}

	// chromem is the default: embedded, no external service
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/nbfix/vectorstore"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.VectorSize == 0 {
		cfg.VectorStore.Qdrant.VectorSize = 768 // nomic-embed-text dimensions
	}

	if cfg.Retrieval.DocsCollection == "" {
		cfg.Retrieval.DocsCollection = "nbfix_docs"
	}
	if cfg.Retrieval.FixesCollection == "" {
		cfg.Retrieval.FixesCollection = "nbfix_fixes"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = 1500
	}

	if cfg.Batch.Workers == 0 {
		cfg.Batch.Workers = 4
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "nbfix.repair"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
		cfg.Telemetry.Insecure = true
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "nbfix"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = Duration(15 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Repair.MaxIterations < 1 {
		return fmt.Errorf("repair.max_iterations must be >= 1, got %d", c.Repair.MaxIterations)
	}
	if c.Repair.MaxSearchAttempts < 1 {
		return fmt.Errorf("repair.max_search_attempts must be >= 1, got %d", c.Repair.MaxSearchAttempts)
	}
	if c.Repair.MaxPlanningAttempts < 1 {
		return fmt.Errorf("repair.max_planning_attempts must be >= 1, got %d", c.Repair.MaxPlanningAttempts)
	}
	if c.Executor.Command == "" {
		return errors.New("executor.command is required")
	}
	if c.Executor.Timeout.Duration() <= 0 {
		return errors.New("executor.timeout must be positive")
	}
	if c.Applier.MatchThreshold <= 0 || c.Applier.MatchThreshold > 1 {
		return fmt.Errorf("applier.match_threshold must be in (0, 1], got %v", c.Applier.MatchThreshold)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0, 2], got %v", c.LLM.Temperature)
	}
	if c.LLM.RateLimit < 0 {
		return fmt.Errorf("llm.rate_limit must be >= 0, got %v", c.LLM.RateLimit)
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore.provider must be 'chromem' or 'qdrant', got %q", c.VectorStore.Provider)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be >= 1, got %d", c.Retrieval.TopK)
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be >= 1, got %d", c.Batch.Workers)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}
	return nil
}
