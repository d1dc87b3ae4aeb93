package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/model"
)

// Memory is an in-memory Repository implementation for tests and dry runs
type Memory struct {
	mu        sync.RWMutex
	records   []*model.MemoryRecord
	nextID    model.RecordID
	scanLimit int
}

// NewMemory creates a new in-memory repository
func NewMemory() *Memory {
	return &Memory{
		nextID:    1,
		scanLimit: defaultScanLimit,
	}
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) PutRecord(ctx context.Context, record *model.MemoryRecord) (model.RecordID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *record
	stored.ID = m.nextID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	m.nextID++
	m.records = append(m.records, &stored)

	return stored.ID, nil
}

func (m *Memory) GetRecord(ctx context.Context, id model.RecordID) (*model.MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, record := range m.records {
		if record.ID == id {
			copied := *record
			return &copied, nil
		}
	}
	return nil, goerr.Wrap(ErrRecordNotFound, "no such record", goerr.V("id", id))
}

func (m *Memory) ListRecent(ctx context.Context, limit int, topic model.Topic) ([]*model.MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.MemoryRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		record := m.records[i]
		if topic != "" && record.Topic != topic {
			continue
		}
		copied := *record
		out = append(out, &copied)
	}
	return out, nil
}

func (m *Memory) FindSimilar(ctx context.Context, embedding []float32, topic model.Topic, threshold float64, limit int) ([]*model.SimilarRecord, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var similar []*model.SimilarRecord
	scanned := 0
	for i := len(m.records) - 1; i >= 0 && scanned < m.scanLimit; i-- {
		record := m.records[i]
		if len(record.Embedding) == 0 {
			continue
		}
		if topic != "" && record.Topic != topic {
			continue
		}
		scanned++

		score := cosineSimilarity(embedding, record.Embedding)
		if score < threshold {
			continue
		}
		copied := *record
		similar = append(similar, &model.SimilarRecord{
			MemoryRecord: &copied,
			Similarity:   score,
		})
	}

	sort.Slice(similar, func(i, j int) bool {
		return similar[i].Similarity > similar[j].Similarity
	})

	if len(similar) > limit {
		similar = similar[:limit]
	}
	return similar, nil
}

func (m *Memory) UpdateFeedback(ctx context.Context, id model.RecordID, feedback model.Feedback, correction string) error {
	if err := feedback.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, record := range m.records {
		if record.ID == id {
			record.Feedback = feedback
			record.Correction = correction
			return nil
		}
	}
	return goerr.Wrap(ErrRecordNotFound, "no such record", goerr.V("id", id))
}

func (m *Memory) ListCorrections(ctx context.Context, topic model.Topic, limit int) ([]*model.MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.MemoryRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		record := m.records[i]
		if record.Feedback != model.FeedbackIncorrect || record.Correction == "" {
			continue
		}
		if topic != "" && record.Topic != topic {
			continue
		}
		copied := *record
		out = append(out, &copied)
	}
	return out, nil
}

func (m *Memory) Stats(ctx context.Context) (*model.MemoryStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &model.MemoryStats{
		Total:      len(m.records),
		ByTopic:    make(map[model.Topic]int),
		ByFeedback: make(map[model.Feedback]int),
	}

	var confidenceSum float64
	for _, record := range m.records {
		stats.ByTopic[record.Topic]++
		if record.Feedback != model.FeedbackNone {
			stats.ByFeedback[record.Feedback]++
		}
		confidenceSum += record.VerifierConfidence
	}
	if stats.Total > 0 {
		stats.MeanVerifierConfidence = confidenceSum / float64(stats.Total)
	}

	return stats, nil
}
