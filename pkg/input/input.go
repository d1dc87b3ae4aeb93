// Package input normalizes raw problem statements from different capture
// channels into clean text before parsing.
package input

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/model"
)

var ErrEmptyInput = goerr.New("input is empty")

// Processed is a channel-normalized problem statement with a capture
// confidence. Confidence below 1.0 signals a lossy channel (OCR, speech
// transcription) whose text may need human review.
type Processed struct {
	CleanText   string
	Modality    model.Modality
	Confidence  float64
	NeedsReview bool
}

// Processor converts a raw input from one capture channel into Processed text
type Processor interface {
	Process(ctx context.Context, raw string) (*Processed, error)
	Modality() model.Modality
}

// TextProcessor handles directly typed problem statements
type TextProcessor struct{}

func NewTextProcessor() *TextProcessor {
	return &TextProcessor{}
}

func (x *TextProcessor) Modality() model.Modality {
	return model.ModalityText
}

// Process collapses runs of whitespace and trims the statement. Typed text
// is a lossless channel, so capture confidence is always 1.0.
func (x *TextProcessor) Process(ctx context.Context, raw string) (*Processed, error) {
	clean := strings.Join(strings.Fields(raw), " ")
	if clean == "" {
		return nil, goerr.Wrap(ErrEmptyInput, "text input has no content")
	}

	return &Processed{
		CleanText:  clean,
		Modality:   model.ModalityText,
		Confidence: 1.0,
	}, nil
}

// ForModality returns the processor responsible for a capture channel
func ForModality(m model.Modality) (Processor, error) {
	switch m {
	case model.ModalityText:
		return NewTextProcessor(), nil
	default:
		return nil, goerr.Wrap(model.ErrInvalidModality, "no processor for modality", goerr.V("modality", m))
	}
}
