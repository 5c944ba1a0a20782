package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cartridge/paddle/internal/events"
	"github.com/cartridge/paddle/internal/storage"
	"github.com/cartridge/paddle/internal/types"
)

// Page size bounds for history listings.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 200
)

const idAttempts = 3

// Recorder receives snapshot service metrics.
type Recorder interface {
	SnapshotAppended(episode float64, stored int)
	AppendRejected(reason string)
}

type nopRecorder struct{}

func (nopRecorder) SnapshotAppended(float64, int) {}
func (nopRecorder) AppendRejected(string)         {}

// Snapshots implements the checkpoint history workflows on top of storage.
type Snapshots struct {
	store   storage.SnapshotStore
	events  events.Publisher
	metrics Recorder
	logger  *zerolog.Logger
	now     func() time.Time
	suffix  func() string
}

// NewSnapshots constructs a Snapshots service. A nil recorder disables
// metrics.
func NewSnapshots(store storage.SnapshotStore, publisher events.Publisher, rec Recorder, logger *zerolog.Logger) *Snapshots {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Snapshots{
		store:   store,
		events:  publisher,
		metrics: rec,
		logger:  logger,
		now:     time.Now,
		suffix:  randomSuffix,
	}
}

// WithNow allows tests to override the time source.
func (s *Snapshots) WithNow(now func() time.Time) {
	s.now = now
}

// Append validates in and stores it as the newest record.
func (s *Snapshots) Append(ctx context.Context, in types.AppendInput) (types.AppendReceipt, error) {
	episode, err := in.Validate()
	if err != nil {
		s.metrics.AppendRejected("validation")
		return types.AppendReceipt{}, err
	}

	now := s.now()
	rec := types.SnapshotRecord{
		Timestamp: types.FormatTimestamp(now),
		Episode:   episode,
		Stats:     in.Stats,
		Snapshot:  in.Snapshot,
	}
	for attempt := 1; ; attempt++ {
		rec.ID = fmt.Sprintf("%d-%s", now.UnixMilli(), s.suffix())
		err = s.store.Append(ctx, rec)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrConflict) || attempt == idAttempts {
			s.metrics.AppendRejected("storage")
			return types.AppendReceipt{}, fmt.Errorf("append snapshot: %w", err)
		}
		s.logger.Warn().Str("id", rec.ID).Msg("snapshot id collision, regenerating")
	}

	stored, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to count snapshots")
	}
	s.metrics.SnapshotAppended(episode, stored)

	s.logger.Info().
		Str("id", rec.ID).
		Float64("episode", episode).
		Int("stored", stored).
		Msg("snapshot appended")

	if err := s.events.PublishSnapshotAppended(ctx, events.SnapshotAppendedEvent{
		ID:        rec.ID,
		Timestamp: rec.Timestamp,
		Episode:   episode,
		Stats:     rec.Stats,
		Stored:    stored,
	}); err != nil {
		s.logger.Error().Err(err).Str("id", rec.ID).Msg("failed to publish snapshot event")
	}

	return types.AppendReceipt{ID: rec.ID, Timestamp: rec.Timestamp}, nil
}

// Latest returns the newest full record or storage.ErrNotFound.
func (s *Snapshots) Latest(ctx context.Context) (types.SnapshotRecord, error) {
	return s.store.Latest(ctx)
}

// Page returns the newest limit summaries, oldest first, after clamping
// limit to [1, MaxPageLimit].
func (s *Snapshots) Page(ctx context.Context, limit int) ([]types.SnapshotSummary, error) {
	return s.store.Page(ctx, ClampLimit(limit))
}

// Count returns the number of stored records.
func (s *Snapshots) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// ClampLimit bounds limit to [1, MaxPageLimit].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// ParseLimit reads a limit query value the way legacy clients sent it: the
// leading integer is used ("5abc" is 5). Missing or non-numeric values fall
// back to DefaultPageLimit; numbers are clamped.
func ParseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	end := 0
	if end < len(raw) && (raw[end] == '-' || raw[end] == '+') {
		end++
	}
	digits := end
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	if end == digits {
		return DefaultPageLimit
	}
	n, err := strconv.Atoi(raw[:end])
	if err != nil {
		// overflow; the sign decides which bound applies
		if raw[0] == '-' {
			return 1
		}
		return MaxPageLimit
	}
	return ClampLimit(n)
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
