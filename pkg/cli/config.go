package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/adapter"
	"github.com/m-mizutani/sensei/pkg/policy"
	"github.com/m-mizutani/sensei/pkg/rag"
	"github.com/m-mizutani/sensei/pkg/repository"
	"github.com/m-mizutani/sensei/pkg/tool"
	"github.com/m-mizutani/sensei/pkg/tool/calculator"
	"github.com/m-mizutani/sensei/pkg/usecase/pipeline"
	"github.com/m-mizutani/sensei/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Storage
	dbPath    string
	indexPath string

	// Pipeline
	policyDir  string
	configPath string

	// Adapters
	geminiProject   string
	geminiLocation  string
	generativeModel string
	embeddingModel  string

	// Logging
	logLevel string
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".sensei")
	}
	return ".sensei"
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db-path",
			Usage:       "Path to the memory database file",
			Value:       filepath.Join(defaultDataDir(), "memory.db"),
			Sources:     cli.EnvVars("SENSEI_DB_PATH"),
			Destination: &cfg.dbPath,
		},
		&cli.StringFlag{
			Name:        "index-path",
			Usage:       "Directory of the knowledge index",
			Value:       filepath.Join(defaultDataDir(), "index"),
			Sources:     cli.EnvVars("SENSEI_INDEX_PATH"),
			Destination: &cfg.indexPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("SENSEI_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Gemini model for generation",
			Sources:     cli.EnvVars("SENSEI_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Gemini model for embeddings",
			Sources:     cli.EnvVars("SENSEI_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
	}
}

// pipelineFlags returns flags for pipeline tuning with destination config
func pipelineFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policy files",
			Sources:     cli.EnvVars("SENSEI_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the pipeline tuning YAML",
			Sources:     cli.EnvVars("SENSEI_CONFIG"),
			Destination: &cfg.configPath,
		},
	}
}

// setupLogger installs a logger at the configured level into the context
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	var opts []adapter.GeminiOption
	if cfg.generativeModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.generativeModel))
	}
	if cfg.embeddingModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
	}

	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newRepository opens the memory store
func (cfg *config) newRepository() (repository.Repository, error) {
	if cfg.dbPath == "" {
		return nil, goerr.New("db-path is required")
	}
	return repository.NewSQLite(cfg.dbPath)
}

// newIndex opens the knowledge index with the shared embedding function
func (cfg *config) newIndex(gemini adapter.Gemini) (*rag.Index, error) {
	if cfg.indexPath == "" {
		return nil, goerr.New("index-path is required")
	}
	return rag.NewIndex(cfg.indexPath, rag.NewGeminiEmbedding(gemini))
}

// newPipeline wires all collaborators into a ready-to-run pipeline
func (cfg *config) newPipeline(ctx context.Context) (*pipeline.Pipeline, repository.Repository, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, nil, err
	}

	repo, err := cfg.newRepository()
	if err != nil {
		return nil, nil, err
	}

	index, err := cfg.newIndex(gemini)
	if err != nil {
		repo.Close()
		return nil, nil, err
	}

	engine, err := policy.New(ctx, cfg.policyDir)
	if err != nil {
		repo.Close()
		return nil, nil, err
	}

	tuning := pipeline.DefaultConfig()
	if cfg.configPath != "" {
		tuning, err = pipeline.LoadConfig(cfg.configPath)
		if err != nil {
			repo.Close()
			return nil, nil, err
		}
	}

	p, err := pipeline.New(pipeline.Input{
		Gemini:     gemini,
		Retriever:  rag.NewRetriever(index),
		Repository: repo,
		Registry:   tool.New(calculator.New()),
		Policy:     engine,
		Config:     tuning,
	})
	if err != nil {
		repo.Close()
		return nil, nil, err
	}

	return p, repo, nil
}
