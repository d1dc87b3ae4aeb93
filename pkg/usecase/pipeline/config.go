package pipeline

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/model"
	"gopkg.in/yaml.v3"
)

// Config tunes the pipeline without code changes. Zero values fall back to
// the defaults below, so a partial YAML file only overrides what it names.
type Config struct {
	Thresholds struct {
		Parse  float64 `yaml:"parse"`
		Solve  float64 `yaml:"solve"`
		Verify float64 `yaml:"verify"`
	} `yaml:"thresholds"`

	Retrieval struct {
		TopK int `yaml:"top_k"`
	} `yaml:"retrieval"`

	Memory struct {
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
		SimilarLimit        int     `yaml:"similar_limit"`
	} `yaml:"memory"`

	Route struct {
		// SolverOverrides maps a topic to a solver name, taking precedence
		// over the built-in topic map (but not over Rego policy)
		SolverOverrides map[model.Topic]string `yaml:"solver_overrides"`
	} `yaml:"route"`
}

// DefaultConfig returns the tuned defaults used when no config file is given
func DefaultConfig() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Thresholds.Parse == 0 {
		c.Thresholds.Parse = 0.70
	}
	if c.Thresholds.Solve == 0 {
		c.Thresholds.Solve = 0.65
	}
	if c.Thresholds.Verify == 0 {
		c.Thresholds.Verify = 0.70
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 5
	}
	if c.Memory.SimilarityThreshold == 0 {
		c.Memory.SimilarityThreshold = 0.85
	}
	if c.Memory.SimilarLimit == 0 {
		c.Memory.SimilarLimit = 5
	}
}

// LoadConfig reads a YAML tuning file and merges it over the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}

	cfg.applyDefaults()
	return &cfg, nil
}
