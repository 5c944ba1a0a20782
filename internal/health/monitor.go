package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/paddle/internal/events"
	"github.com/cartridge/paddle/internal/storage"
	"github.com/cartridge/paddle/internal/types"
)

// Config holds health monitoring configuration
type Config struct {
	CheckInterval time.Duration
	StaleAfter    time.Duration
}

// LatestReader is the slice of the snapshot service the monitor needs.
type LatestReader interface {
	Latest(ctx context.Context) (types.SnapshotRecord, error)
}

// StatusRecorder receives staleness transitions.
type StatusRecorder interface {
	HistoryStatus(status string, age time.Duration)
}

// Status is the last observed state of the snapshot history.
type Status struct {
	State     string    `json:"status"`
	LatestID  string    `json:"latest_id,omitempty"`
	LatestAt  string    `json:"latest_at,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor periodically checks how old the newest snapshot is and reports
// when training stops checkpointing.
type Monitor struct {
	snapshots LatestReader
	publisher events.Publisher
	recorder  StatusRecorder
	config    Config
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewMonitor creates a new health monitor. recorder may be nil.
func NewMonitor(snapshots LatestReader, publisher events.Publisher, recorder StatusRecorder, config Config, logger zerolog.Logger) *Monitor {
	return &Monitor{
		snapshots: snapshots,
		publisher: publisher,
		recorder:  recorder,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the check loop until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("check_interval", m.config.CheckInterval).
		Dur("stale_after", m.config.StaleAfter).
		Msg("Starting health monitor")

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Health monitor stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Status returns the result of the last check.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Check evaluates the history once and publishes a status event when the
// state differs from the previous check.
func (m *Monitor) Check(ctx context.Context) {
	now := m.now()
	next := Status{State: events.StatusEmpty, CheckedAt: now}
	var age time.Duration

	latest, err := m.snapshots.Latest(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		m.logger.Error().Err(err).Msg("Health check failed to read latest snapshot")
		return
	default:
		next.LatestID = latest.ID
		next.LatestAt = latest.Timestamp
		next.State = events.StatusFresh
		if at, perr := time.Parse(types.TimestampLayout, latest.Timestamp); perr == nil {
			age = now.Sub(at)
			if m.config.StaleAfter > 0 && age > m.config.StaleAfter {
				next.State = events.StatusStale
			}
		} else {
			m.logger.Warn().Str("timestamp", latest.Timestamp).Msg("Unparseable snapshot timestamp")
		}
	}

	m.mu.Lock()
	prev := m.status.State
	m.status = next
	m.mu.Unlock()

	if prev == next.State {
		return
	}

	if next.State == events.StatusStale {
		m.logger.Warn().
			Str("latest_id", next.LatestID).
			Dur("age", age).
			Msg("Snapshot history is stale")
	} else {
		m.logger.Info().Str("status", next.State).Msg("Snapshot history status changed")
	}
	if m.recorder != nil {
		m.recorder.HistoryStatus(next.State, age)
	}

	event := events.HistoryStatusEvent{
		Status:     next.State,
		LatestID:   next.LatestID,
		LatestAt:   next.LatestAt,
		AgeSeconds: age.Seconds(),
	}
	if err := m.publisher.PublishHistoryStatus(ctx, event); err != nil {
		m.logger.Error().Err(err).Str("status", next.State).Msg("Failed to publish history status")
	}
}
