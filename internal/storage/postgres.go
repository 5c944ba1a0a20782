package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/cartridge/paddle/internal/types"
)

const schema = `
	CREATE TABLE IF NOT EXISTS training_snapshots (
		seq         BIGSERIAL PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		recorded_at TEXT NOT NULL,
		episode     DOUBLE PRECISION NOT NULL,
		stats       JSONB NOT NULL,
		snapshot    JSONB NOT NULL
	)`

// PostgresStore implements SnapshotStore backed by PostgreSQL. The seq
// column defines insertion order.
type PostgresStore struct {
	db         *sql.DB
	maxRecords int
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB, maxRecords int) *PostgresStore {
	return &PostgresStore{db: db, maxRecords: maxRecords}
}

// OpenPostgres connects with the lib/pq driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the snapshot table when it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Append inserts rec and trims old rows in one transaction.
func (p *PostgresStore) Append(ctx context.Context, rec types.SnapshotRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO training_snapshots (id, recorded_at, episode, stats, snapshot)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Timestamp, rec.Episode, []byte(rec.Stats), []byte(rec.Snapshot))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if p.maxRecords > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM training_snapshots
			WHERE seq NOT IN (
				SELECT seq FROM training_snapshots ORDER BY seq DESC LIMIT $1
			)`, p.maxRecords)
		if err != nil {
			return fmt.Errorf("failed to trim history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}
	return nil
}

// Latest returns the row with the highest sequence number.
func (p *PostgresStore) Latest(ctx context.Context) (types.SnapshotRecord, error) {
	var rec types.SnapshotRecord
	var stats, snapshot []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT id, recorded_at, episode, stats, snapshot
		FROM training_snapshots ORDER BY seq DESC LIMIT 1`).
		Scan(&rec.ID, &rec.Timestamp, &rec.Episode, &stats, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return types.SnapshotRecord{}, ErrNotFound
	}
	if err != nil {
		return types.SnapshotRecord{}, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	rec.Stats = json.RawMessage(stats)
	rec.Snapshot = json.RawMessage(snapshot)
	return rec, nil
}

// Page returns summaries of the newest limit rows, oldest first.
func (p *PostgresStore) Page(ctx context.Context, limit int) ([]types.SnapshotSummary, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, recorded_at, episode, stats FROM (
			SELECT seq, id, recorded_at, episode, stats
			FROM training_snapshots ORDER BY seq DESC LIMIT $1
		) recent ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	out := []types.SnapshotSummary{}
	for rows.Next() {
		var s types.SnapshotSummary
		var stats []byte
		if err := rows.Scan(&s.ID, &s.Timestamp, &s.Episode, &stats); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Stats = json.RawMessage(stats)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return out, nil
}

// Count returns the number of stored rows.
func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM training_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

// Close closes the underlying pool.
func (p *PostgresStore) Close() error { return p.db.Close() }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
