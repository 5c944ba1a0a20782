package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// FileSlot keeps the checkpoint in a single JSON file.
type FileSlot struct {
	path string
}

// NewFileSlot returns a slot backed by path. The directory is created on
// first write.
func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path}
}

// Read returns the file contents or ErrSlotEmpty when it does not exist.
func (s *FileSlot) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSlotEmpty
	}
	return data, err
}

// Write replaces the file atomically.
func (s *FileSlot) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// RedisSlot keeps the checkpoint under one Redis key, for trainers that
// run without a writable disk.
type RedisSlot struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisSlot stores under key; a zero ttl keeps the key forever.
func NewRedisSlot(client redis.UniversalClient, key string, ttl time.Duration) *RedisSlot {
	return &RedisSlot{client: client, key: key, ttl: ttl}
}

// Read returns the stored value or ErrSlotEmpty.
func (s *RedisSlot) Read(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return data, nil
}

// Write overwrites the key.
func (s *RedisSlot) Write(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// NopSlot never stores anything.
type NopSlot struct{}

// Read always reports an empty slot.
func (NopSlot) Read(context.Context) ([]byte, error) { return nil, ErrSlotEmpty }

// Write discards data.
func (NopSlot) Write(context.Context, []byte) error { return nil }
