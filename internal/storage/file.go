package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cartridge/paddle/internal/types"
)

// FileStore keeps the whole history as one JSON array on disk. Every Append
// rewrites the file; reads are served from the copy loaded at startup.
type FileStore struct {
	mu         sync.RWMutex
	path       string
	maxRecords int
	records    []types.SnapshotRecord
	logger     *zerolog.Logger
}

// NewFileStore opens the history at path, creating it as an empty array
// when missing. Unreadable or unparseable content is logged and treated as
// an empty history; the next Append overwrites it.
func NewFileStore(path string, maxRecords int, logger *zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &FileStore{path: path, maxRecords: maxRecords, logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := writeFileAtomic(path, []byte("[]")); err != nil {
			return nil, fmt.Errorf("initialize history: %w", err)
		}
		return s, nil
	case err != nil:
		logger.Warn().Err(err).Str("path", path).Msg("history unreadable, starting empty")
		return s, nil
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	var records []types.SnapshotRecord
	if err := json.Unmarshal(data, &records); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("history corrupt, starting empty")
		return s, nil
	}
	s.records = truncate(records, maxRecords)
	logger.Info().Int("records", len(s.records)).Str("path", path).Msg("history loaded")
	return s, nil
}

// Append adds rec, truncates to the ceiling and rewrites the file. On a
// write failure the in-memory history is left as it was.
func (s *FileStore) Append(_ context.Context, rec types.SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.ID == rec.ID {
			return ErrConflict
		}
	}

	next := make([]types.SnapshotRecord, 0, len(s.records)+1)
	next = append(next, s.records...)
	next = truncate(append(next, rec), s.maxRecords)

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	s.records = next
	return nil
}

// Latest returns the most recently appended record.
func (s *FileStore) Latest(_ context.Context) (types.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return types.SnapshotRecord{}, ErrNotFound
	}
	return s.records[len(s.records)-1], nil
}

// Page returns summaries of the newest limit records, oldest first.
func (s *FileStore) Page(_ context.Context, limit int) ([]types.SnapshotSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(s.records, limit), nil
}

// Count returns the number of stored records.
func (s *FileStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close is a no-op; every Append is already durable.
func (s *FileStore) Close() error { return nil }

// writeFileAtomic writes to a sibling temp file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
