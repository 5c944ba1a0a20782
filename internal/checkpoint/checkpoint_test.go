package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/paddle/internal/agent"
	"github.com/cartridge/paddle/internal/types"
)

type fakeRemote struct {
	mu       sync.Mutex
	latest   types.SnapshotRecord
	err      error
	appended []types.AppendInput
	onAppend func(types.AppendInput) error
}

func (f *fakeRemote) Latest(context.Context) (types.SnapshotRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return types.SnapshotRecord{}, f.err
	}
	if f.latest.ID == "" {
		return types.SnapshotRecord{}, ErrNoSnapshot
	}
	return f.latest, nil
}

func (f *fakeRemote) Append(_ context.Context, in types.AppendInput) (types.AppendReceipt, error) {
	if f.onAppend != nil {
		if err := f.onAppend(in); err != nil {
			return types.AppendReceipt{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, in)
	return types.AppendReceipt{ID: "r-1", Timestamp: "2024-01-01T00:00:00.000Z"}, nil
}

func (f *fakeRemote) Page(context.Context, int) ([]types.SnapshotSummary, error) {
	return nil, nil
}

type countingObserver struct {
	mu         sync.Mutex
	restores   []string
	deliveries []error
}

func (o *countingObserver) Restored(source string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.restores = append(o.restores, source)
}

func (o *countingObserver) DeliveryFinished(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deliveries = append(o.deliveries, err)
}

func newAgent(t *testing.T, seed int64) *agent.Agent {
	t.Helper()
	cfg := agent.DefaultConfig()
	cfg.HiddenSize = 4
	a, err := agent.New(cfg, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return a
}

func trainedAgent(t *testing.T, seed int64) *agent.Agent {
	a := newAgent(t, seed)
	for i := 0; i < 10; i++ {
		f := float64(i) / 10
		a.Remember([]float64{f, f, f, f, f}, i%3, f, []float64{f, f, f, f, f}, i%4 == 0)
	}
	a.Replay(4)
	return a
}

func remoteRecord(t *testing.T, a *agent.Agent) types.SnapshotRecord {
	data, err := json.Marshal(a.Serialize())
	require.NoError(t, err)
	return types.SnapshotRecord{ID: "1-abcdef", Episode: 3, Stats: json.RawMessage(`{}`), Snapshot: data}
}

func newClient(a Agent, slot Slot, remote Remote, obs Observer) *Client {
	return NewClient(a, slot, remote, zerolog.Nop(), Options{RemoteTimeout: time.Second, Observer: obs})
}

func TestRestoreOnStartup_NothingAvailable(t *testing.T) {
	a := newAgent(t, 1)
	before := a.Serialize()
	c := newClient(a, NopSlot{}, nil, nil)

	assert.False(t, c.RestoreOnStartup(context.Background()))
	require.NoError(t, c.AwaitRestore(context.Background()))
	assert.False(t, c.ApplyPending())
	assert.Equal(t, before, a.Serialize())
}

func TestRestoreOnStartup_LoadsLocalSlot(t *testing.T) {
	src := trainedAgent(t, 1)
	slot := NewFileSlot(filepath.Join(t.TempDir(), "agent.json"))
	newClient(src, slot, nil, nil).Persist(nil)

	dst := newAgent(t, 2)
	obs := &countingObserver{}
	assert.True(t, newClient(dst, slot, nil, obs).RestoreOnStartup(context.Background()))
	assert.Equal(t, src.Serialize(), dst.Serialize())
	assert.Equal(t, []string{"local"}, obs.restores)
}

func TestRestoreOnStartup_CorruptLocalSlotIgnored(t *testing.T) {
	slot := NewFileSlot(filepath.Join(t.TempDir(), "agent.json"))
	require.NoError(t, slot.Write(context.Background(), []byte("{nope")))

	a := newAgent(t, 1)
	before := a.Serialize()
	assert.False(t, newClient(a, slot, nil, nil).RestoreOnStartup(context.Background()))
	assert.Equal(t, before, a.Serialize())
}

func TestRestoreOnStartup_MismatchedLocalSlotIgnored(t *testing.T) {
	slot := NewFileSlot(filepath.Join(t.TempDir(), "agent.json"))
	require.NoError(t, slot.Write(context.Background(), []byte(`{"bias2":[1,2]}`)))

	a := newAgent(t, 1)
	before := a.Serialize()
	assert.False(t, newClient(a, slot, nil, nil).RestoreOnStartup(context.Background()))
	assert.Equal(t, before, a.Serialize())
}

func TestRemoteRestoreAppliedByTrainingLoop(t *testing.T) {
	ctx := context.Background()
	src := trainedAgent(t, 7)
	remote := &fakeRemote{latest: remoteRecord(t, src)}
	slot := NewFileSlot(filepath.Join(t.TempDir(), "agent.json"))
	obs := &countingObserver{}

	dst := newAgent(t, 2)
	before := dst.Serialize()
	c := newClient(dst, slot, remote, obs)
	c.RestoreOnStartup(ctx)
	require.NoError(t, c.AwaitRestore(ctx))

	assert.Equal(t, before, dst.Serialize(), "fetch must not touch the agent")
	require.True(t, c.ApplyPending())
	assert.Equal(t, src.Serialize(), dst.Serialize())
	assert.False(t, c.ApplyPending())

	data, err := slot.Read(ctx)
	require.NoError(t, err)
	var stored agent.Snapshot
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, src.Serialize(), stored)
	assert.Equal(t, []string{"remote"}, obs.restores)
}

func TestRemoteRestoreFailureIsSkipped(t *testing.T) {
	ctx := context.Background()
	for name, remote := range map[string]*fakeRemote{
		"error":    {err: errors.New("connection refused")},
		"empty":    {},
		"garbage":  {latest: types.SnapshotRecord{ID: "x", Snapshot: json.RawMessage(`"nope"`)}},
		"mismatch": {latest: types.SnapshotRecord{ID: "x", Snapshot: json.RawMessage(`{"bias1":[1]}`)}},
	} {
		t.Run(name, func(t *testing.T) {
			a := newAgent(t, 1)
			before := a.Serialize()
			c := newClient(a, NopSlot{}, remote, nil)
			c.RestoreOnStartup(ctx)
			require.NoError(t, c.AwaitRestore(ctx))
			assert.False(t, c.ApplyPending())
			assert.Equal(t, before, a.Serialize())
		})
	}
}

func TestCheckpoint_PersistsBeforeSending(t *testing.T) {
	ctx := context.Background()
	a := trainedAgent(t, 3)
	slot := NewFileSlot(filepath.Join(t.TempDir(), "agent.json"))
	obs := &countingObserver{}

	remote := &fakeRemote{}
	remote.onAppend = func(in types.AppendInput) error {
		data, err := slot.Read(ctx)
		if err != nil {
			return err
		}
		assert.JSONEq(t, string(data), string(in.Snapshot))
		return nil
	}

	c := newClient(a, slot, remote, obs)
	d := c.Checkpoint(Summary{Episode: 4, Stats: types.EpisodeStats{Score: 2, Reward: 1.5, Frames: 90, Epsilon: 0.5}})
	receipt, err := d.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r-1", receipt.ID)

	require.Len(t, remote.appended, 1)
	sent := remote.appended[0]
	assert.Equal(t, "4", string(sent.Episode))
	assert.JSONEq(t, `{"score":2,"reward":1.5,"frames":90,"epsilon":0.5}`, string(sent.Stats))
	_, verr := sent.Validate()
	assert.NoError(t, verr)
	assert.Equal(t, []error{nil}, obs.deliveries)
}

func TestSendSnapshot_FailureIsReportedNotReturned(t *testing.T) {
	remote := &fakeRemote{onAppend: func(types.AppendInput) error { return errors.New("503") }}
	obs := &countingObserver{}
	a := newAgent(t, 1)
	c := newClient(a, NopSlot{}, remote, obs)

	d := c.SendSnapshot(Summary{Episode: 1}, a.Serialize())
	_, err := d.Wait(context.Background())
	assert.Error(t, err)
	require.Len(t, obs.deliveries, 1)
	assert.Error(t, obs.deliveries[0])
}

func TestSendSnapshot_WithoutRemote(t *testing.T) {
	a := newAgent(t, 1)
	d := newClient(a, NopSlot{}, nil, nil).SendSnapshot(Summary{Episode: 1}, a.Serialize())
	_, err := d.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNoRemote)
}

func TestClose_PersistsAndBoundsWait(t *testing.T) {
	release := make(chan struct{})
	remote := &fakeRemote{onAppend: func(types.AppendInput) error {
		<-release
		return nil
	}}
	a := trainedAgent(t, 5)
	slot := NewFileSlot(filepath.Join(t.TempDir(), "agent.json"))
	c := newClient(a, slot, remote, nil)

	d := c.SendSnapshot(Summary{Episode: 1}, a.Serialize())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Close(ctx), context.DeadlineExceeded)

	data, err := slot.Read(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	close(release)
	_, err = d.Wait(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, c.Close(context.Background()))
}
