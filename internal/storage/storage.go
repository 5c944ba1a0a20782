package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/cartridge/paddle/internal/types"
)

var (
	// ErrNotFound indicates the history holds no records.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a record with the same id already exists.
	ErrConflict = errors.New("conflict")
)

// SnapshotStore captures the persistence operations the snapshot service
// relies on. Implementations keep at most their configured number of
// records, evicting by insertion order, and serialize Append internally.
type SnapshotStore interface {
	Append(ctx context.Context, rec types.SnapshotRecord) error
	Latest(ctx context.Context) (types.SnapshotRecord, error)
	// Page returns up to limit of the most recent records, oldest first.
	Page(ctx context.Context, limit int) ([]types.SnapshotSummary, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore is an in-memory SnapshotStore for development/testing.
type MemoryStore struct {
	mu         sync.RWMutex
	records    []types.SnapshotRecord
	maxRecords int
}

// NewMemoryStore constructs a MemoryStore keeping at most maxRecords records.
func NewMemoryStore(maxRecords int) *MemoryStore {
	return &MemoryStore{maxRecords: maxRecords}
}

// Append adds rec and evicts the oldest records beyond the ceiling.
func (m *MemoryStore) Append(_ context.Context, rec types.SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.ID == rec.ID {
			return ErrConflict
		}
	}
	m.records = truncate(append(m.records, rec), m.maxRecords)
	return nil
}

// Latest returns the most recently appended record.
func (m *MemoryStore) Latest(_ context.Context) (types.SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records) == 0 {
		return types.SnapshotRecord{}, ErrNotFound
	}
	return m.records[len(m.records)-1], nil
}

// Page returns summaries of the newest limit records, oldest first.
func (m *MemoryStore) Page(_ context.Context, limit int) ([]types.SnapshotSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return summarize(m.records, limit), nil
}

// Count returns the number of stored records.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// truncate keeps the newest maxRecords records; non-positive keeps all.
func truncate(records []types.SnapshotRecord, maxRecords int) []types.SnapshotRecord {
	if maxRecords <= 0 || len(records) <= maxRecords {
		return records
	}
	kept := make([]types.SnapshotRecord, maxRecords)
	copy(kept, records[len(records)-maxRecords:])
	return kept
}

func summarize(records []types.SnapshotRecord, limit int) []types.SnapshotSummary {
	if limit < 0 {
		limit = 0
	}
	start := len(records) - limit
	if start < 0 {
		start = 0
	}
	out := make([]types.SnapshotSummary, 0, len(records)-start)
	for _, rec := range records[start:] {
		out = append(out, rec.Summary())
	}
	return out
}
