package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type recordingConn struct {
	msgs []published
	err  error
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject: subject, data: data})
	return nil
}

func TestStatusSubjects(t *testing.T) {
	assert.Equal(t, []string{"snapshots.status"},
		statusSubjects("snapshots", HistoryStatusEvent{Status: StatusFresh}))
	assert.Equal(t, []string{"snapshots.status", "snapshots.stale"},
		statusSubjects("snapshots", HistoryStatusEvent{Status: StatusStale}))
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.PublishSnapshotAppended(context.Background(), SnapshotAppendedEvent{ID: "1"}))
	assert.NoError(t, p.PublishHistoryStatus(context.Background(), HistoryStatusEvent{Status: StatusEmpty}))
}

func TestNATSPublisher_SnapshotAppended(t *testing.T) {
	conn := &recordingConn{}
	p := newPublisher(conn, "snapshots", zerolog.Nop())

	err := p.PublishSnapshotAppended(context.Background(), SnapshotAppendedEvent{
		ID:      "1700000000000-abc123",
		Episode: 7,
		Stored:  3,
	})
	require.NoError(t, err)

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "snapshots", conn.msgs[0].subject)
	var got SnapshotAppendedEvent
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &got))
	assert.Equal(t, "1700000000000-abc123", got.ID)
	assert.Equal(t, 7.0, got.Episode)
	assert.Equal(t, 3, got.Stored)
}

func TestNATSPublisher_HistoryStatus(t *testing.T) {
	conn := &recordingConn{}
	p := newPublisher(conn, "snapshots", zerolog.Nop())

	require.NoError(t, p.PublishHistoryStatus(context.Background(), HistoryStatusEvent{Status: StatusStale, LatestID: "x"}))

	require.Len(t, conn.msgs, 2)
	assert.Equal(t, "snapshots.status", conn.msgs[0].subject)
	assert.Equal(t, "snapshots.stale", conn.msgs[1].subject)
	var got HistoryStatusEvent
	require.NoError(t, json.Unmarshal(conn.msgs[1].data, &got))
	assert.Equal(t, StatusStale, got.Status)
	assert.Equal(t, "x", got.LatestID)
}

func TestNATSPublisher_PublishError(t *testing.T) {
	boom := errors.New("connection closed")
	p := newPublisher(&recordingConn{err: boom}, "snapshots", zerolog.Nop())

	assert.ErrorIs(t, p.PublishSnapshotAppended(context.Background(), SnapshotAppendedEvent{ID: "1"}), boom)
	assert.ErrorIs(t, p.PublishHistoryStatus(context.Background(), HistoryStatusEvent{Status: StatusFresh}), boom)
}
