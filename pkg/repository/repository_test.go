package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/repository"
)

func newStores(t *testing.T) map[string]repository.Repository {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "records.db")
	sqlite, err := repository.NewSQLite(dbPath)
	gt.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]repository.Repository{
		"sqlite": sqlite,
		"memory": repository.NewMemory(),
	}
}

func testRecord() *model.MemoryRecord {
	return &model.MemoryRecord{
		CreatedAt: time.Now(),
		Modality:  model.ModalityText,
		Input:     "Solve x^2 - 5x + 6 = 0",
		Parsed: &model.ParsedProblem{
			CleanText:    "Solve x^2 - 5x + 6 = 0",
			PrimaryTopic: model.TopicAlgebra,
			Variables:    []string{"x"},
			ProblemType:  "find_roots",
		},
		Topic: model.TopicAlgebra,
		Citations: []model.Citation{
			{Source: "algebra.md", Section: "Quadratic Equations"},
		},
		Answer:             "x = 2 or x = 3",
		Steps:              []string{"factor", "apply zero product rule"},
		VerifierConfidence: 0.875,
		Embedding:          []float32{1, 0, 0},
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, repo := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			record := testRecord()
			id, err := repo.PutRecord(ctx, record)
			gt.NoError(t, err)
			if id == 0 {
				t.Fatal("expected non-zero record id")
			}

			recent, err := repo.ListRecent(ctx, 1, "")
			gt.NoError(t, err)
			gt.V(t, len(recent)).Equal(1)
			gt.V(t, recent[0].Input).Equal(record.Input)
			gt.V(t, recent[0].Answer).Equal(record.Answer)
			gt.V(t, recent[0].Topic).Equal(record.Topic)
			gt.V(t, recent[0].Parsed.PrimaryTopic).Equal(model.TopicAlgebra)
			gt.V(t, len(recent[0].Citations)).Equal(1)
			gt.V(t, recent[0].VerifierConfidence).Equal(0.875)

			got, err := repo.GetRecord(ctx, id)
			gt.NoError(t, err)
			gt.V(t, got.ID).Equal(id)
			gt.V(t, len(got.Embedding)).Equal(3)
		})
	}
}

func TestGetRecordNotFound(t *testing.T) {
	ctx := context.Background()

	for name, repo := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.GetRecord(ctx, 9999)
			gt.Error(t, err)
			if !errors.Is(err, repository.ErrRecordNotFound) {
				t.Errorf("expected ErrRecordNotFound, got %v", err)
			}
		})
	}
}

func TestFindSimilar(t *testing.T) {
	ctx := context.Background()

	embeddings := map[string][]float32{
		"identical":  {1, 0, 0},
		"close":      {0.95, 0.3122, 0}, // cos ≈ 0.95
		"orthogonal": {0, 1, 0},
	}

	for name, repo := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			for label, emb := range embeddings {
				record := testRecord()
				record.Input = label
				record.Embedding = emb
				_, err := repo.PutRecord(ctx, record)
				gt.NoError(t, err)
			}

			query := []float32{1, 0, 0}
			similar, err := repo.FindSimilar(ctx, query, "", 0.85, 5)
			gt.NoError(t, err)
			gt.V(t, len(similar)).Equal(2)

			// Most similar first, never below threshold
			gt.V(t, similar[0].Input).Equal("identical")
			for _, s := range similar {
				if s.Similarity < 0.85 {
					t.Errorf("similarity %f below threshold", s.Similarity)
				}
			}

			t.Run("topic filter", func(t *testing.T) {
				got, err := repo.FindSimilar(ctx, query, model.TopicCalculus, 0.85, 5)
				gt.NoError(t, err)
				gt.V(t, len(got)).Equal(0)
			})

			t.Run("limit applies", func(t *testing.T) {
				got, err := repo.FindSimilar(ctx, query, "", 0.85, 1)
				gt.NoError(t, err)
				gt.V(t, len(got)).Equal(1)
				gt.V(t, got[0].Input).Equal("identical")
			})

			t.Run("empty query embedding degrades to empty", func(t *testing.T) {
				got, err := repo.FindSimilar(ctx, nil, "", 0.85, 5)
				gt.NoError(t, err)
				gt.V(t, len(got)).Equal(0)
			})
		})
	}
}

func TestUpdateFeedback(t *testing.T) {
	ctx := context.Background()

	for name, repo := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := repo.PutRecord(ctx, testRecord())
			gt.NoError(t, err)

			gt.NoError(t, repo.UpdateFeedback(ctx, id, model.FeedbackIncorrect, "the roots are x = 1 or x = 6"))

			got, err := repo.GetRecord(ctx, id)
			gt.NoError(t, err)
			gt.V(t, got.Feedback).Equal(model.FeedbackIncorrect)
			gt.S(t, got.Correction).Contains("x = 1")

			// Feedback must not touch the embedding
			gt.V(t, len(got.Embedding)).Equal(3)

			t.Run("invalid feedback rejected", func(t *testing.T) {
				gt.Error(t, repo.UpdateFeedback(ctx, id, model.Feedback("maybe"), ""))
			})

			t.Run("unknown record rejected", func(t *testing.T) {
				gt.Error(t, repo.UpdateFeedback(ctx, 9999, model.FeedbackCorrect, ""))
			})
		})
	}
}

func TestListCorrections(t *testing.T) {
	ctx := context.Background()

	for name, repo := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			first, err := repo.PutRecord(ctx, testRecord())
			gt.NoError(t, err)
			second, err := repo.PutRecord(ctx, testRecord())
			gt.NoError(t, err)

			gt.NoError(t, repo.UpdateFeedback(ctx, first, model.FeedbackIncorrect, "wrong sign"))
			gt.NoError(t, repo.UpdateFeedback(ctx, second, model.FeedbackCorrect, ""))

			corrections, err := repo.ListCorrections(ctx, "", 10)
			gt.NoError(t, err)
			gt.V(t, len(corrections)).Equal(1)
			gt.V(t, corrections[0].ID).Equal(first)
			gt.V(t, corrections[0].Correction).Equal("wrong sign")
		})
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()

	for name, repo := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			algebra := testRecord()
			algebra.VerifierConfidence = 0.75

			calculus := testRecord()
			calculus.Topic = model.TopicCalculus
			calculus.VerifierConfidence = 0.25

			idA, err := repo.PutRecord(ctx, algebra)
			gt.NoError(t, err)
			_, err = repo.PutRecord(ctx, calculus)
			gt.NoError(t, err)
			gt.NoError(t, repo.UpdateFeedback(ctx, idA, model.FeedbackCorrect, ""))

			stats, err := repo.Stats(ctx)
			gt.NoError(t, err)
			gt.V(t, stats.Total).Equal(2)
			gt.V(t, stats.ByTopic[model.TopicAlgebra]).Equal(1)
			gt.V(t, stats.ByTopic[model.TopicCalculus]).Equal(1)
			gt.V(t, stats.ByFeedback[model.FeedbackCorrect]).Equal(1)
			gt.V(t, stats.MeanVerifierConfidence).Equal(0.5)
		})
	}
}
