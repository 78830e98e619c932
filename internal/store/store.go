// Package store persists a per-call audit trail of match requests to
// PostgreSQL. It is optional: without a configured database the engine runs
// with the no-op recorder.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for
// mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// MatchRecord is one row of the audit trail.
type MatchRecord struct {
	ID         string
	Site       string
	URL        string
	CacheKey   string
	CacheHit   bool
	Matched    bool
	Containers int
	Duration   time.Duration
	CreatedAt  time.Time
}

// Recorder receives match audit records.
type Recorder interface {
	Record(ctx context.Context, rec *MatchRecord) error
}

// NopRecorder discards records. Used when no database is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *MatchRecord) error { return nil }

// Store provides a PostgreSQL implementation of the Recorder interface.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
    CREATE TABLE IF NOT EXISTS match_audit (
        id          TEXT PRIMARY KEY,
        site        TEXT NOT NULL,
        url         TEXT NOT NULL,
        cache_key   TEXT NOT NULL,
        cache_hit   BOOLEAN NOT NULL,
        matched     BOOLEAN NOT NULL,
        containers  INTEGER NOT NULL,
        duration_ms BIGINT NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL
    );
`

// EnsureSchema creates the audit table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return nil
}

const insertSQL = `
    INSERT INTO match_audit
        (id, site, url, cache_key, cache_hit, matched, containers, duration_ms, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`

// Record inserts one audit row.
func (s *Store) Record(ctx context.Context, rec *MatchRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, insertSQL,
		rec.ID, rec.Site, rec.URL, rec.CacheKey,
		rec.CacheHit, rec.Matched, rec.Containers,
		rec.Duration.Milliseconds(), createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert match audit row: %w", err)
	}
	return nil
}

const recentSQL = `
    SELECT id, site, url, cache_key, cache_hit, matched, containers, duration_ms, created_at
    FROM match_audit
    WHERE site = $1
    ORDER BY created_at DESC
    LIMIT $2;
`

// RecentMatches returns the newest audit rows for a site.
func (s *Store) RecentMatches(ctx context.Context, site string, limit int) ([]MatchRecord, error) {
	rows, err := s.pool.Query(ctx, recentSQL, site, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query match audit: %w", err)
	}
	defer rows.Close()

	var records []MatchRecord
	for rows.Next() {
		var (
			rec        MatchRecord
			durationMs int64
		)
		err := rows.Scan(
			&rec.ID, &rec.Site, &rec.URL, &rec.CacheKey,
			&rec.CacheHit, &rec.Matched, &rec.Containers,
			&durationMs, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match audit row: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}
