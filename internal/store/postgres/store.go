// Package postgres provides Postgres-backed recommendation persistence.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fandomtools/ficbot/internal/fic"
)

// ErrNotFound indicates no recommendation exists for the given URL.
var ErrNotFound = errors.New("recommendation not found")

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of pgxpool.Pool the store needs; satisfied by
// pgxmock in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store persists recommendations in a single table. The metadata body
// is stored as JSONB so the schema survives parser field additions.
type Store struct {
	pool querier
}

// New creates a Store backed by a new connection pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertSQL = `
INSERT INTO recommendations (url, title, recorded_by, recorded_at, last_updated, metadata)
VALUES ($1, $2, $3, NOW(), NOW(), $4)
ON CONFLICT (url) DO UPDATE
SET title = EXCLUDED.title, last_updated = NOW(), metadata = EXCLUDED.metadata
RETURNING id, recorded_by, recorded_at, last_updated`

// Upsert inserts or refreshes the recommendation for its work URL.
func (s *Store) Upsert(ctx context.Context, rec fic.Recommendation) (fic.Recommendation, error) {
	if rec.Work.URL == "" {
		return fic.Recommendation{}, fmt.Errorf("work url is required")
	}
	meta, err := json.Marshal(rec.Work)
	if err != nil {
		return fic.Recommendation{}, fmt.Errorf("encode metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx, upsertSQL, rec.Work.URL, rec.Work.Title, rec.RecordedBy, meta)
	if err := row.Scan(&rec.ID, &rec.RecordedBy, &rec.RecordedAt, &rec.LastUpdated); err != nil {
		return fic.Recommendation{}, fmt.Errorf("upsert recommendation: %w", err)
	}
	return rec, nil
}

const selectColumns = `id, recorded_by, recorded_at, last_updated, metadata`

// GetByURL fetches a recommendation by its work URL.
func (s *Store) GetByURL(ctx context.Context, url string) (fic.Recommendation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM recommendations WHERE url = $1`, url)
	rec, err := scanRecommendation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fic.Recommendation{}, ErrNotFound
		}
		return fic.Recommendation{}, fmt.Errorf("get recommendation: %w", err)
	}
	return rec, nil
}

// Search matches the query against title and author text.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]fic.Recommendation, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM recommendations
		 WHERE title ILIKE '%' || $1 || '%'
		    OR metadata->>'authors' ILIKE '%' || $1 || '%'
		 ORDER BY id LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search recommendations: %w", err)
	}
	defer rows.Close()
	return collectRecommendations(rows)
}

// Delete removes the recommendation for a work URL.
func (s *Store) Delete(ctx context.Context, url string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recommendations WHERE url = $1`, url)
	if err != nil {
		return fmt.Errorf("delete recommendation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns recommendations ordered by id.
func (s *Store) List(ctx context.Context, limit, offset int) ([]fic.Recommendation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM recommendations ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()
	return collectRecommendations(rows)
}

func scanRecommendation(row pgx.Row) (fic.Recommendation, error) {
	var (
		rec  fic.Recommendation
		meta []byte
	)
	if err := row.Scan(&rec.ID, &rec.RecordedBy, &rec.RecordedAt, &rec.LastUpdated, &meta); err != nil {
		return fic.Recommendation{}, err
	}
	if err := json.Unmarshal(meta, &rec.Work); err != nil {
		return fic.Recommendation{}, fmt.Errorf("decode metadata: %w", err)
	}
	return rec, nil
}

func collectRecommendations(rows pgx.Rows) ([]fic.Recommendation, error) {
	var out []fic.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recommendations: %w", err)
	}
	return out, nil
}
