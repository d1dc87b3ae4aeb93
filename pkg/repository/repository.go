package repository

import (
	"context"

	"github.com/m-mizutani/sensei/pkg/model"
)

// Repository defines the interface for episodic memory persistence
type Repository interface {
	// PutRecord appends a new record and returns its stable identifier.
	// Each call is atomic; a partially written record is never observable.
	PutRecord(ctx context.Context, record *model.MemoryRecord) (model.RecordID, error)

	// GetRecord retrieves a record by ID
	GetRecord(ctx context.Context, id model.RecordID) (*model.MemoryRecord, error)

	// ListRecent retrieves the most recent records, optionally filtered by topic
	ListRecent(ctx context.Context, limit int, topic model.Topic) ([]*model.MemoryRecord, error)

	// FindSimilar scans recent embedded records for cosine similarity to the
	// query embedding. Only records at or above threshold are returned, most
	// similar first, at most limit. An empty query embedding yields an empty
	// result rather than an error.
	FindSimilar(ctx context.Context, embedding []float32, topic model.Topic, threshold float64, limit int) ([]*model.SimilarRecord, error)

	// UpdateFeedback attaches user feedback and an optional correction to an
	// existing record. The record's embedding is not altered.
	UpdateFeedback(ctx context.Context, id model.RecordID, feedback model.Feedback, correction string) error

	// ListCorrections returns incorrect-feedback records with corrections,
	// most recent first
	ListCorrections(ctx context.Context, topic model.Topic, limit int) ([]*model.MemoryRecord, error)

	// Stats aggregates record counts by topic and feedback plus the mean
	// verifier confidence
	Stats(ctx context.Context) (*model.MemoryStats, error)

	// Close releases the backing store
	Close() error
}
