package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// SQLiteStore is the durable local backend. Vectors are stored as
// little-endian float32 blobs and payloads as JSON; similarity scoring
// runs in process after loading the collection's rows, so the observable
// behavior matches the in-process reference backend exactly.
type SQLiteStore struct {
	db            *sql.DB
	scrollCeiling int
	logger        *zap.Logger
}

// NewSQLiteStore opens or creates a database at dbPath and initializes
// the schema. Parent directories are created if missing.
func NewSQLiteStore(dbPath string, scrollCeiling int, logger *zap.Logger) (*SQLiteStore, error) {
	if scrollCeiling <= 0 {
		scrollCeiling = DefaultScrollCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initVectorSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, scrollCeiling: scrollCeiling, logger: logger}, nil
}

func initVectorSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		distance TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		vector BLOB NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (collection, id),
		FOREIGN KEY (collection) REFERENCES collections(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_records_collection_seq ON records(collection, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateCollection registers a collection; duplicates fail with
// ErrAlreadyExists.
func (s *SQLiteStore) CreateCollection(ctx context.Context, name string, dimension int, distance models.Distance) error {
	if name == "" {
		return fmt.Errorf("%w: collection name must not be empty", ErrValidation)
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrValidation, dimension)
	}
	if !distance.Valid() {
		return fmt.Errorf("%w: unknown distance metric %q", ErrValidation, distance)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, distance) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, dimension, string(distance))
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	return nil
}

// Describe returns collection metadata or ErrNotFound.
func (s *SQLiteStore) Describe(ctx context.Context, name string) (*models.Collection, error) {
	var meta models.Collection
	var distance string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, dimension, distance FROM collections WHERE name = ?`, name).
		Scan(&meta.Name, &meta.Dimension, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to describe collection: %w", err)
	}
	meta.Distance = models.Distance(distance)
	return &meta, nil
}

// Upsert stores a record. A replaced record keeps its original seq so
// insertion-order tie-breaks stay stable across overwrites.
func (s *SQLiteStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error {
	meta, err := s.Describe(ctx, collection)
	if err != nil {
		return err
	}
	if len(vector) != meta.Dimension {
		return fmt.Errorf("%w: vector dimension %d, collection %q expects %d", ErrValidation, len(vector), collection, meta.Dimension)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, seq, vector, payload)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM records WHERE collection = ?), ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET vector = excluded.vector, payload = excluded.payload`,
		collection, id, collection, vectorToBytes(vector), string(payloadJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// Get returns the record or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string, withVector bool) (*models.Record, error) {
	if _, err := s.Describe(ctx, collection); err != nil {
		return nil, err
	}
	var vecBlob []byte
	var payloadJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT vector, payload FROM records WHERE collection = ? AND id = ?`, collection, id).
		Scan(&vecBlob, &payloadJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	rec := &models.Record{ID: id}
	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if withVector {
		rec.Vector = bytesToVector(vecBlob)
	}
	return rec, nil
}

// Delete removes a record; an absent id is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.Describe(ctx, collection); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

type sqliteRow struct {
	id      string
	seq     int
	vector  []float32
	payload map[string]any
}

// loadRows reads every row for the collection in seq order and applies
// the filter in process so all backends share one predicate engine.
func (s *SQLiteStore) loadRows(ctx context.Context, collection string, filters Filter, withVectors bool, maxRows int) ([]sqliteRow, bool, error) {
	if err := filters.Validate(); err != nil {
		return nil, false, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, vector, payload FROM records WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return nil, false, fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()
	var out []sqliteRow
	capped := false
	for rows.Next() {
		var r sqliteRow
		var vecBlob []byte
		var payloadJSON string
		if err := rows.Scan(&r.id, &r.seq, &vecBlob, &payloadJSON); err != nil {
			return nil, false, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &r.payload); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		if filters != nil {
			ok, err := filters.Matches(r.payload)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
		}
		// Only a matching record left behind counts as truncation.
		if maxRows > 0 && len(out) >= maxRows {
			capped = true
			break
		}
		if withVectors {
			r.vector = bytesToVector(vecBlob)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, capped, nil
}

// Search scores every matching record in process and returns the top
// results by score descending, ties by insertion order.
func (s *SQLiteStore) Search(ctx context.Context, collection string, query []float32, limit int, filters Filter) ([]models.SearchResult, error) {
	meta, err := s.Describe(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(query) != meta.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, collection %q expects %d", ErrValidation, len(query), collection, meta.Dimension)
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, _, err := s.loadRows(ctx, collection, filters, true, 0)
	if err != nil {
		return nil, err
	}
	type scored struct {
		row   sqliteRow
		score float32
	}
	hits := make([]scored, len(rows))
	for i, r := range rows {
		hits[i] = scored{row: r, score: scoreVector(meta.Distance, query, r.vector)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].row.seq < hits[j].row.seq
	})
	if limit > len(hits) {
		limit = len(hits)
	}
	results := make([]models.SearchResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = models.SearchResult{
			ID:      hits[i].row.id,
			Score:   hits[i].score,
			Payload: hits[i].row.payload,
		}
	}
	return results, nil
}

// Scroll returns up to limit matching records, capped at the configured
// ceiling; leaving a matching record behind logs a warning.
func (s *SQLiteStore) Scroll(ctx context.Context, collection string, limit int, filters Filter, withVectors bool) ([]models.SearchResult, error) {
	if _, err := s.Describe(ctx, collection); err != nil {
		return nil, err
	}
	effective := limit
	if effective <= 0 || effective > s.scrollCeiling {
		effective = s.scrollCeiling
	}
	rows, capped, err := s.loadRows(ctx, collection, filters, withVectors, effective)
	if err != nil {
		return nil, err
	}
	if capped && effective == s.scrollCeiling {
		s.logger.Warn("scroll hit scan ceiling, results truncated",
			zap.String("collection", collection),
			zap.Int("ceiling", s.scrollCeiling))
	}
	results := make([]models.SearchResult, len(rows))
	for i, r := range rows {
		results[i] = models.SearchResult{ID: r.id, Payload: r.payload, Vector: r.vector}
	}
	return results, nil
}

// Count returns the number of records matching filters.
func (s *SQLiteStore) Count(ctx context.Context, collection string, filters Filter) (int, error) {
	if _, err := s.Describe(ctx, collection); err != nil {
		return 0, err
	}
	if filters == nil {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count records: %w", err)
		}
		return n, nil
	}
	rows, _, err := s.loadRows(ctx, collection, filters, false, 0)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
