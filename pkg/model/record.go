package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// RecordID identifies a persisted memory record. IDs are assigned by the
// store (auto-increment) and stable for the record's lifetime.
type RecordID int64

// Feedback is the user's judgement on a solved problem
type Feedback string

const (
	FeedbackNone      Feedback = ""
	FeedbackCorrect   Feedback = "correct"
	FeedbackIncorrect Feedback = "incorrect"
)

// Validate checks if the feedback value is valid
func (f Feedback) Validate() error {
	switch f {
	case FeedbackCorrect, FeedbackIncorrect:
		return nil
	default:
		return goerr.Wrap(ErrInvalidFeedback, "unknown feedback", goerr.V("feedback", f))
	}
}

// MemoryRecord is one persisted problem-solution episode. Records are created
// on successful pipeline completion, updated only by feedback, and never
// deleted by normal operation.
type MemoryRecord struct {
	ID        RecordID  `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Modality Modality       `json:"modality"`
	Input    string         `json:"input"`
	Parsed   *ParsedProblem `json:"parsed,omitempty"`
	Topic    Topic          `json:"topic"`

	Citations          []Citation `json:"citations,omitempty"`
	Answer             string     `json:"answer"`
	Steps              []string   `json:"steps,omitempty"`
	VerifierConfidence float64    `json:"verifier_confidence"`

	Feedback   Feedback `json:"feedback,omitempty"`
	Correction string   `json:"correction,omitempty"`

	Embedding []float32 `json:"-"`
}

// SimilarRecord pairs a memory record with its similarity to a query
type SimilarRecord struct {
	*MemoryRecord
	Similarity float64 `json:"similarity"`
}

// MemoryStats aggregates the memory store contents
type MemoryStats struct {
	Total                  int              `json:"total"`
	ByTopic                map[Topic]int    `json:"by_topic"`
	ByFeedback             map[Feedback]int `json:"by_feedback"`
	MeanVerifierConfidence float64          `json:"mean_verifier_confidence"`
}
