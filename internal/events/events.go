package events

import (
	"context"
	"encoding/json"
)

// History health states carried by HistoryStatusEvent.
const (
	StatusEmpty = "empty"
	StatusFresh = "fresh"
	StatusStale = "stale"
)

// Publisher is implemented by downstream fan-out mechanisms.
type Publisher interface {
	PublishSnapshotAppended(ctx context.Context, payload SnapshotAppendedEvent) error
	PublishHistoryStatus(ctx context.Context, payload HistoryStatusEvent) error
}

// SnapshotAppendedEvent is emitted after every stored checkpoint.
type SnapshotAppendedEvent struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Episode   float64         `json:"episode"`
	Stats     json.RawMessage `json:"stats"`
	Stored    int             `json:"stored"`
}

// HistoryStatusEvent reports a change in how recent the newest checkpoint is.
type HistoryStatusEvent struct {
	Status     string  `json:"status"`
	LatestID   string  `json:"latest_id,omitempty"`
	LatestAt   string  `json:"latest_at,omitempty"`
	AgeSeconds float64 `json:"age_seconds"`
}

// NoopPublisher drops every event; used when no broker is configured.
type NoopPublisher struct{}

// PublishSnapshotAppended satisfies Publisher.
func (NoopPublisher) PublishSnapshotAppended(context.Context, SnapshotAppendedEvent) error {
	return nil
}

// PublishHistoryStatus satisfies Publisher.
func (NoopPublisher) PublishHistoryStatus(context.Context, HistoryStatusEvent) error { return nil }
