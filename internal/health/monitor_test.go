package health

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/paddle/internal/events"
	"github.com/cartridge/paddle/internal/storage"
	"github.com/cartridge/paddle/internal/types"
)

type statusPublisher struct {
	events.NoopPublisher
	statuses []string
}

func (p *statusPublisher) PublishHistoryStatus(_ context.Context, e events.HistoryStatusEvent) error {
	p.statuses = append(p.statuses, e.Status)
	return nil
}

func TestMonitor_PublishesOnTransitionOnly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(10)
	pub := &statusPublisher{}
	m := NewMonitor(store, pub, nil, Config{CheckInterval: time.Second, StaleAfter: time.Minute}, zerolog.Nop())

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	m.Check(ctx)
	assert.Equal(t, events.StatusEmpty, m.Status().State)

	require.NoError(t, store.Append(ctx, types.SnapshotRecord{
		ID:        "1-abcdef",
		Timestamp: types.FormatTimestamp(base),
		Episode:   1,
	}))
	clock = base.Add(10 * time.Second)
	m.Check(ctx)
	m.Check(ctx)
	assert.Equal(t, events.StatusFresh, m.Status().State)
	assert.Equal(t, "1-abcdef", m.Status().LatestID)

	clock = base.Add(2 * time.Minute)
	m.Check(ctx)
	m.Check(ctx)
	assert.Equal(t, events.StatusStale, m.Status().State)

	assert.Equal(t, []string{events.StatusEmpty, events.StatusFresh, events.StatusStale}, pub.statuses)
}

func TestMonitor_StartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMonitor(storage.NewMemoryStore(1), events.NoopPublisher{}, nil,
		Config{CheckInterval: 5 * time.Millisecond, StaleAfter: time.Minute}, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
