package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/model"

	_ "modernc.org/sqlite"
)

var ErrRecordNotFound = goerr.New("record not found")

// defaultScanLimit bounds the number of recent records scanned per
// similarity query
const defaultScanLimit = 100

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	modality TEXT NOT NULL,
	input TEXT NOT NULL,
	parsed TEXT,
	topic TEXT NOT NULL,
	citations TEXT,
	answer TEXT NOT NULL,
	steps TEXT,
	verifier_confidence REAL NOT NULL DEFAULT 0,
	feedback TEXT NOT NULL DEFAULT '',
	correction TEXT NOT NULL DEFAULT '',
	embedding TEXT
);
CREATE INDEX IF NOT EXISTS idx_records_topic ON records(topic);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at);
CREATE INDEX IF NOT EXISTS idx_records_feedback ON records(feedback);
`

// SQLite implements Repository on an embedded SQLite database
type SQLite struct {
	db        *sql.DB
	scanLimit int
}

type SQLiteOption func(*SQLite)

// WithScanLimit overrides how many recent records a similarity query scans
func WithScanLimit(n int) SQLiteOption {
	return func(s *SQLite) {
		if n > 0 {
			s.scanLimit = n
		}
	}
}

// NewSQLite opens (or creates) the database at the given path
func NewSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("dir", dir))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to initialize schema")
	}

	s := &SQLite{
		db:        db,
		scanLimit: defaultScanLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) PutRecord(ctx context.Context, record *model.MemoryRecord) (model.RecordID, error) {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	parsed, err := marshalOrEmpty(record.Parsed)
	if err != nil {
		return 0, err
	}
	citations, err := marshalOrEmpty(record.Citations)
	if err != nil {
		return 0, err
	}
	steps, err := marshalOrEmpty(record.Steps)
	if err != nil {
		return 0, err
	}
	embedding, err := marshalOrEmpty(record.Embedding)
	if err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO records (
			created_at, modality, input, parsed, topic, citations,
			answer, steps, verifier_confidence, feedback, correction, embedding
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		createdAt.UTC().Format(time.RFC3339Nano),
		string(record.Modality),
		record.Input,
		parsed,
		string(record.Topic),
		citations,
		record.Answer,
		steps,
		record.VerifierConfidence,
		string(record.Feedback),
		record.Correction,
		embedding,
	)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to insert record")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, goerr.Wrap(err, "failed to get inserted record id")
	}

	return model.RecordID(id), nil
}

const recordColumns = `id, created_at, modality, input, parsed, topic,
	citations, answer, steps, verifier_confidence, feedback, correction, embedding`

func (s *SQLite) GetRecord(ctx context.Context, id model.RecordID) (*model.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, int64(id))

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, goerr.Wrap(ErrRecordNotFound, "no such record", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get record", goerr.V("id", id))
	}

	return record, nil
}

func (s *SQLite) ListRecent(ctx context.Context, limit int, topic model.Topic) ([]*model.MemoryRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM records`
	args := []any{}
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, string(topic))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	return s.queryRecords(ctx, query, args...)
}

func (s *SQLite) FindSimilar(ctx context.Context, embedding []float32, topic model.Topic, threshold float64, limit int) ([]*model.SimilarRecord, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	query := `SELECT ` + recordColumns + ` FROM records WHERE embedding IS NOT NULL AND embedding != ''`
	args := []any{}
	if topic != "" {
		query += ` AND topic = ?`
		args = append(args, string(topic))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, s.scanLimit)

	records, err := s.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var similar []*model.SimilarRecord
	for _, record := range records {
		score := cosineSimilarity(embedding, record.Embedding)
		if score < threshold {
			continue
		}
		similar = append(similar, &model.SimilarRecord{
			MemoryRecord: record,
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

func (s *SQLite) UpdateFeedback(ctx context.Context, id model.RecordID, feedback model.Feedback, correction string) error {
	if err := feedback.Validate(); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE records SET feedback = ?, correction = ? WHERE id = ?`,
		string(feedback), correction, int64(id))
	if err != nil {
		return goerr.Wrap(err, "failed to update feedback", goerr.V("id", id))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return goerr.Wrap(err, "failed to check update result")
	}
	if affected == 0 {
		return goerr.Wrap(ErrRecordNotFound, "no such record", goerr.V("id", id))
	}

	return nil
}

func (s *SQLite) ListCorrections(ctx context.Context, topic model.Topic, limit int) ([]*model.MemoryRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE feedback = ? AND correction != ''`
	args := []any{string(model.FeedbackIncorrect)}
	if topic != "" {
		query += ` AND topic = ?`
		args = append(args, string(topic))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	return s.queryRecords(ctx, query, args...)
}

func (s *SQLite) Stats(ctx context.Context) (*model.MemoryStats, error) {
	stats := &model.MemoryStats{
		ByTopic:    make(map[model.Topic]int),
		ByFeedback: make(map[model.Feedback]int),
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(verifier_confidence), 0) FROM records`)
	if err := row.Scan(&stats.Total, &stats.MeanVerifierConfidence); err != nil {
		return nil, goerr.Wrap(err, "failed to aggregate records")
	}

	topicRows, err := s.db.QueryContext(ctx,
		`SELECT topic, COUNT(*) FROM records GROUP BY topic`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to aggregate topics")
	}
	defer topicRows.Close()
	for topicRows.Next() {
		var topic string
		var count int
		if err := topicRows.Scan(&topic, &count); err != nil {
			return nil, goerr.Wrap(err, "failed to scan topic aggregate")
		}
		stats.ByTopic[model.Topic(topic)] = count
	}
	if err := topicRows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate topic aggregates")
	}

	feedbackRows, err := s.db.QueryContext(ctx,
		`SELECT feedback, COUNT(*) FROM records WHERE feedback != '' GROUP BY feedback`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to aggregate feedback")
	}
	defer feedbackRows.Close()
	for feedbackRows.Next() {
		var feedback string
		var count int
		if err := feedbackRows.Scan(&feedback, &count); err != nil {
			return nil, goerr.Wrap(err, "failed to scan feedback aggregate")
		}
		stats.ByFeedback[model.Feedback(feedback)] = count
	}
	if err := feedbackRows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate feedback aggregates")
	}

	return stats, nil
}

func (s *SQLite) queryRecords(ctx context.Context, query string, args ...any) ([]*model.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query records")
	}
	defer rows.Close()

	var records []*model.MemoryRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan record")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate records")
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.MemoryRecord, error) {
	var record model.MemoryRecord
	var createdAt, modality, topic, feedback string
	var parsed, citations, steps, embedding sql.NullString

	err := row.Scan(
		&record.ID, &createdAt, &modality, &record.Input, &parsed, &topic,
		&citations, &record.Answer, &steps, &record.VerifierConfidence,
		&feedback, &record.Correction, &embedding,
	)
	if err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid created_at", goerr.V("value", createdAt))
	}
	record.CreatedAt = ts
	record.Modality = model.Modality(modality)
	record.Topic = model.Topic(topic)
	record.Feedback = model.Feedback(feedback)

	if err := unmarshalIfSet(parsed, &record.Parsed); err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(citations, &record.Citations); err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(steps, &record.Steps); err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(embedding, &record.Embedding); err != nil {
		return nil, err
	}

	return &record, nil
}

func marshalOrEmpty(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	switch value := v.(type) {
	case *model.ParsedProblem:
		if value == nil {
			return "", nil
		}
	case []model.Citation:
		if len(value) == 0 {
			return "", nil
		}
	case []string:
		if len(value) == 0 {
			return "", nil
		}
	case []float32:
		if len(value) == 0 {
			return "", nil
		}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal record field")
	}
	return string(raw), nil
}

func unmarshalIfSet(src sql.NullString, dst any) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(src.String), dst); err != nil {
		return goerr.Wrap(err, "failed to unmarshal record field")
	}
	return nil
}
