package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrValidation marks a malformed append request. Callers match it with
// errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError carries a client-facing message and matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// TimestampLayout is the ISO-8601 layout used for record timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// SnapshotRecord is one stored checkpoint of the training agent.
type SnapshotRecord struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Episode   float64         `json:"episode"`
	Stats     json.RawMessage `json:"stats"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

// Summary drops the agent state for history listings.
func (r SnapshotRecord) Summary() SnapshotSummary {
	return SnapshotSummary{
		ID:        r.ID,
		Timestamp: r.Timestamp,
		Episode:   r.Episode,
		Stats:     r.Stats,
	}
}

// SnapshotSummary is a record without its snapshot payload.
type SnapshotSummary struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Episode   float64         `json:"episode"`
	Stats     json.RawMessage `json:"stats"`
}

// AppendReceipt is returned for a stored record.
type AppendReceipt struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

// AppendInput is the body accepted by the append endpoints. Episode is kept
// raw so a string or null can be told apart from a missing field.
type AppendInput struct {
	Episode  json.RawMessage `json:"episode"`
	Stats    json.RawMessage `json:"stats"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// EpisodeStats is what the trainer reports for a finished episode.
type EpisodeStats struct {
	Score   int     `json:"score"`
	Reward  float64 `json:"reward"`
	Frames  int     `json:"frames"`
	Epsilon float64 `json:"epsilon"`
}

// Validate checks the input and returns the parsed episode number.
func (in AppendInput) Validate() (float64, error) {
	episode, err := parseEpisode(in.Episode)
	if err != nil {
		return 0, err
	}
	if !isStructured(in.Stats) {
		return 0, invalid("stats object is required")
	}
	if !isStructured(in.Snapshot) {
		return 0, invalid("snapshot object is required")
	}
	return episode, nil
}

func parseEpisode(raw json.RawMessage) (float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '"' || bytes.Equal(trimmed, []byte("null")) {
		return 0, invalid("episode must be a number")
	}
	var episode float64
	if err := json.Unmarshal(trimmed, &episode); err != nil {
		return 0, invalid("episode must be a number")
	}
	return episode, nil
}

func isStructured(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	return json.Valid(trimmed)
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
