package pipeline_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/usecase/pipeline"
)

func TestDefaultConfig(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	gt.V(t, cfg.Thresholds.Parse).Equal(0.70)
	gt.V(t, cfg.Thresholds.Solve).Equal(0.65)
	gt.V(t, cfg.Thresholds.Verify).Equal(0.70)
	gt.V(t, cfg.Retrieval.TopK).Equal(5)
	gt.V(t, cfg.Memory.SimilarityThreshold).Equal(0.85)
	gt.V(t, cfg.Memory.SimilarLimit).Equal(5)
}

func TestLoadConfigMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yml")
	content := `thresholds:
  parse: 0.5
route:
  solver_overrides:
    calculus: numeric_solver
`
	gt.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := gt.R1(pipeline.LoadConfig(path)).NoError(t)
	gt.V(t, cfg.Thresholds.Parse).Equal(0.5)
	gt.V(t, cfg.Thresholds.Solve).Equal(0.65)
	gt.V(t, cfg.Route.SolverOverrides[model.TopicCalculus]).Equal("numeric_solver")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := pipeline.LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	gt.Error(t, err)
}
