package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbfix/internal/applier"
	"github.com/fyrsmithlabs/nbfix/internal/backup"
	"github.com/fyrsmithlabs/nbfix/internal/config"
	"github.com/fyrsmithlabs/nbfix/internal/embeddings"
	"github.com/fyrsmithlabs/nbfix/internal/events"
	"github.com/fyrsmithlabs/nbfix/internal/executor"
	"github.com/fyrsmithlabs/nbfix/internal/llm"
	"github.com/fyrsmithlabs/nbfix/internal/logging"
	"github.com/fyrsmithlabs/nbfix/internal/orchestrator"
	"github.com/fyrsmithlabs/nbfix/internal/planner"
	"github.com/fyrsmithlabs/nbfix/internal/retrieval"
	"github.com/fyrsmithlabs/nbfix/internal/secrets"
	"github.com/fyrsmithlabs/nbfix/internal/telemetry"
	"github.com/fyrsmithlabs/nbfix/internal/vectorstore"
)

// dependencies holds the infrastructure shared by all commands. The vector
// store and NATS connection are opened on first use.
type dependencies struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	fs        afero.Fs
	executor  *executor.Executor

	store vectorstore.Store
	nats  *events.NATSSink
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

// initLogger builds the structured logger from the logging section.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(logCfg, nil)
}

// telemetryConfig maps the user-facing telemetry section onto the
// exporter configuration, keeping defaults for unset values.
func telemetryConfig(c config.TelemetryConfig) *telemetry.Config {
	cfg := telemetry.NewDefaultConfig()
	cfg.Enabled = c.Enabled
	cfg.Insecure = c.Insecure
	cfg.ServiceVersion = version
	if c.Endpoint != "" {
		cfg.Endpoint = c.Endpoint
	}
	if c.Protocol != "" {
		cfg.Protocol = c.Protocol
	}
	if c.ServiceName != "" {
		cfg.ServiceName = c.ServiceName
	}
	if c.SampleRate > 0 {
		cfg.SampleRate = c.SampleRate
	}
	if c.MetricsInterval.Duration() > 0 {
		cfg.MetricsInterval = c.MetricsInterval.Duration()
	}
	return cfg
}

// initDependencies loads configuration and builds the logger, telemetry and
// notebook executor.
func initDependencies(ctx context.Context) (*dependencies, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg.Telemetry), logger.Underlying())
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	fs := afero.NewOsFs()
	exec, err := executor.New(cfg.Executor, executor.ExecRunner{}, fs, logger.Underlying())
	if err != nil {
		_ = tel.Shutdown(ctx)
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	return &dependencies{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		fs:        fs,
		executor:  exec,
	}, nil
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.nats != nil {
		_ = d.nats.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Underlying().Warn("failed to close vector store", zap.Error(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.telemetry.Shutdown(ctx); err != nil {
		d.logger.Underlying().Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = d.logger.Sync() // best-effort
}

// vectorStore opens the configured store with the Ollama embedder.
func (d *dependencies) vectorStore() (vectorstore.Store, error) {
	if d.store != nil {
		return d.store, nil
	}
	z := d.logger.Underlying()
	embedder, err := embeddings.NewOllama(d.cfg.Embeddings, z)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	store, err := vectorstore.NewStore(d.cfg.VectorStore, embedder, z)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	d.store = store
	return store, nil
}

// scrubber builds the prompt scrubber from the secrets section.
func (d *dependencies) scrubber() (secrets.Scrubber, error) {
	sc := d.cfg.Secrets
	cfg := secrets.DefaultConfig().WithExtraPatterns(sc.ExtraPatterns)
	cfg.Enabled = !sc.Disabled
	cfg.Gitleaks = sc.Gitleaks
	if cfg.Enabled && sc.AllowlistFile != "" {
		path, err := config.ExpandHome(sc.AllowlistFile)
		if err != nil {
			return nil, err
		}
		allow, err := secrets.LoadAllowlist(path)
		if err != nil {
			return nil, err
		}
		cfg.AllowList = append(cfg.AllowList, allow...)
	}
	return secrets.New(cfg)
}

// eventSink fans session events out to the log, Prometheus and, when a URL
// is configured, NATS.
func (d *dependencies) eventSink(ctx context.Context) events.Sink {
	sinks := events.Multi{
		events.NewLogSink(d.logger),
		events.NewMetricsSink(),
	}
	if url := d.cfg.Events.NATSURL; url != "" {
		if d.nats == nil {
			nc, err := events.ConnectNATS(url, d.cfg.Events.SubjectPrefix, d.logger.Underlying())
			if err != nil {
				d.logger.Warn(ctx, "event publishing disabled", zap.String("url", url), zap.Error(err))
				return sinks
			}
			d.logger.Info(ctx, "connected to NATS", zap.String("url", url))
			d.nats = nc
		}
		sinks = append(sinks, d.nats)
	}
	return sinks
}

// orchestrator wires a repair orchestrator. Retrieval is optional: when the
// vector store cannot be opened, sessions run without documentation
// context.
func (d *dependencies) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	z := d.logger.Underlying()

	client, err := llm.NewOllama(d.cfg.LLM, z)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	scrubber, err := d.scrubber()
	if err != nil {
		return nil, fmt.Errorf("failed to create scrubber: %w", err)
	}
	pl, err := planner.New(client, scrubber, d.cfg.Planner, z)
	if err != nil {
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}
	ap, err := applier.New(d.fs, d.cfg.Applier.MatchThreshold, z)
	if err != nil {
		return nil, fmt.Errorf("failed to create applier: %w", err)
	}
	backups, err := backup.NewStore(d.fs, z)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup store: %w", err)
	}

	deps := orchestrator.Deps{
		Executor: d.executor,
		Planner:  pl,
		Applier:  ap,
		Backups:  backups,
		Events:   d.eventSink(ctx),
		Fs:       d.fs,
	}

	if err := d.wireRetrieval(&deps); err != nil {
		d.logger.Warn(ctx, "retrieval disabled", zap.Error(err))
	}

	return orchestrator.New(orchestrator.Config{
		Repair: d.cfg.Repair,
		Domain: d.cfg.Planner.Domain,
		TopK:   d.cfg.Retrieval.TopK,
	}, deps, d.logger)
}

func (d *dependencies) wireRetrieval(deps *orchestrator.Deps) error {
	store, err := d.vectorStore()
	if err != nil {
		return err
	}
	z := d.logger.Underlying()
	rc := d.cfg.Retrieval

	collections := []string{rc.DocsCollection}
	if !rc.DisableFixMemory {
		collections = append(collections, rc.FixesCollection)
		mem, err := retrieval.NewFixMemory(store, rc.FixesCollection, z)
		if err != nil {
			return fmt.Errorf("failed to create fix memory: %w", err)
		}
		deps.FixMemory = mem
	}

	retriever, err := retrieval.NewRetriever(store, retrieval.Options{
		Collections: collections,
		MinScore:    rc.MinScore,
	}, z)
	if err != nil {
		deps.FixMemory = nil
		return fmt.Errorf("failed to create retriever: %w", err)
	}
	deps.Retriever = retriever
	return nil
}
