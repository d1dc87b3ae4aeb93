package input_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sensei/pkg/input"
	"github.com/m-mizutani/sensei/pkg/model"
)

func TestTextProcessor(t *testing.T) {
	ctx := context.Background()
	proc := input.NewTextProcessor()

	t.Run("collapses whitespace", func(t *testing.T) {
		got := gt.R1(proc.Process(ctx, "  Solve \n\t x^2 - 5x + 6  = 0  ")).NoError(t)
		gt.V(t, got.CleanText).Equal("Solve x^2 - 5x + 6 = 0")
		gt.V(t, got.Modality).Equal(model.ModalityText)
		gt.V(t, got.Confidence).Equal(1.0)
		gt.False(t, got.NeedsReview)
	})

	t.Run("empty input rejected", func(t *testing.T) {
		_, err := proc.Process(ctx, "   \n\t ")
		gt.Error(t, err)
		gt.True(t, errors.Is(err, input.ErrEmptyInput))
	})
}

func TestForModality(t *testing.T) {
	proc := gt.R1(input.ForModality(model.ModalityText)).NoError(t)
	gt.V(t, proc.Modality()).Equal(model.ModalityText)

	_, err := input.ForModality(model.Modality("video-derived"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInvalidModality))
}
