// Package checkpoint persists and restores agent state. A local slot is
// written synchronously after every episode; the remote snapshot service is
// reached only from background goroutines whose results travel back to the
// training loop over channels.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/paddle/internal/agent"
	"github.com/cartridge/paddle/internal/types"
)

var (
	// ErrSlotEmpty is returned by Slot.Read when nothing has been written.
	ErrSlotEmpty = errors.New("checkpoint slot empty")
	// ErrNoSnapshot is returned by Remote.Latest when the history is empty.
	ErrNoSnapshot = errors.New("no remote snapshot")
	// ErrNoRemote is the result of a delivery when no remote is configured.
	ErrNoRemote = errors.New("no remote configured")
)

// DefaultRemoteTimeout bounds each remote call.
const DefaultRemoteTimeout = 10 * time.Second

// Agent is the part of the learning agent the client checkpoints.
type Agent interface {
	Serialize() agent.Snapshot
	Load(agent.Snapshot) error
}

// Slot is a single local checkpoint location.
type Slot interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// Remote is the snapshot service as seen by the trainer.
type Remote interface {
	Latest(ctx context.Context) (types.SnapshotRecord, error)
	Append(ctx context.Context, in types.AppendInput) (types.AppendReceipt, error)
	Page(ctx context.Context, limit int) ([]types.SnapshotSummary, error)
}

// Observer is notified about restores and deliveries.
type Observer interface {
	Restored(source string)
	DeliveryFinished(err error)
}

type nopObserver struct{}

func (nopObserver) Restored(string)        {}
func (nopObserver) DeliveryFinished(error) {}

// Summary describes the episode a checkpoint was taken after.
type Summary struct {
	Episode int
	Stats   types.EpisodeStats
}

// Options tunes a Client.
type Options struct {
	RemoteTimeout time.Duration
	Observer      Observer
}

// Client coordinates local persistence and remote delivery for one agent.
// Every method except the delivery goroutines runs on the training loop's
// goroutine; only that goroutine touches the agent.
type Client struct {
	agent    Agent
	slot     Slot
	remote   Remote
	logger   zerolog.Logger
	timeout  time.Duration
	observer Observer

	pending     chan agent.Snapshot
	restoreDone chan struct{}
	restoreOnce sync.Once
	wg          sync.WaitGroup
}

// NewClient builds a client. remote may be nil for offline training; slot
// may be NopSlot.
func NewClient(a Agent, slot Slot, remote Remote, logger zerolog.Logger, opts Options) *Client {
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Client{
		agent:       a,
		slot:        slot,
		remote:      remote,
		logger:      logger,
		timeout:     opts.RemoteTimeout,
		observer:    opts.Observer,
		pending:     make(chan agent.Snapshot, 1),
		restoreDone: make(chan struct{}),
	}
}

// RestoreOnStartup loads the local slot synchronously and then starts one
// background fetch of the latest remote snapshot. It reports whether the
// local load succeeded. A fetched snapshot is applied by ApplyPending.
func (c *Client) RestoreOnStartup(ctx context.Context) bool {
	loaded := c.restoreLocal(ctx)

	c.restoreOnce.Do(func() {
		if c.remote == nil {
			close(c.restoreDone)
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer close(c.restoreDone)
			snap, err := c.fetchRemote(ctx)
			if err != nil {
				if errors.Is(err, ErrNoSnapshot) {
					c.logger.Info().Msg("no remote snapshot to restore")
					return
				}
				c.logger.Warn().Err(err).Msg("remote restore failed")
				return
			}
			c.pending <- snap
		}()
	})
	return loaded
}

// AwaitRestore blocks until the startup fetch has finished or ctx is done.
func (c *Client) AwaitRestore(ctx context.Context) error {
	select {
	case <-c.restoreDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyPending loads a fetched remote snapshot into the agent, if one has
// arrived, and overwrites the local slot with it. It never blocks.
func (c *Client) ApplyPending() bool {
	select {
	case snap := <-c.pending:
		if err := c.agent.Load(snap); err != nil {
			c.logger.Warn().Err(err).Msg("remote snapshot rejected")
			return false
		}
		c.observer.Restored("remote")
		c.logger.Info().Msg("agent restored from remote snapshot")
		c.Persist(nil)
		return true
	default:
		return false
	}
}

// Persist writes snap, or the live agent state when snap is nil, to the
// local slot. Failures are logged and swallowed.
func (c *Client) Persist(snap *agent.Snapshot) {
	if snap == nil {
		s := c.agent.Serialize()
		snap = &s
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode local checkpoint failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.slot.Write(ctx, data); err != nil {
		c.logger.Warn().Err(err).Msg("local checkpoint write failed")
	}
}

// SendSnapshot delivers snap with the episode summary in the background.
// The returned Delivery resolves when the attempt finishes; nothing waits
// on it in the training loop and failures are only logged.
func (c *Client) SendSnapshot(summary Summary, snap agent.Snapshot) *Delivery {
	d := &Delivery{done: make(chan struct{})}
	if c.remote == nil {
		d.err = ErrNoRemote
		close(d.done)
		return d
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(d.done)
		d.receipt, d.err = c.deliver(summary, snap)
		c.observer.DeliveryFinished(d.err)
		if d.err != nil {
			c.logger.Warn().Err(d.err).Int("episode", summary.Episode).Msg("snapshot delivery failed")
			return
		}
		c.logger.Debug().
			Str("id", d.receipt.ID).
			Int("episode", summary.Episode).
			Msg("snapshot delivered")
	}()
	return d
}

// Checkpoint serializes the agent once, persists it locally and then
// starts the remote send.
func (c *Client) Checkpoint(summary Summary) *Delivery {
	snap := c.agent.Serialize()
	c.Persist(&snap)
	return c.SendSnapshot(summary, snap)
}

// Close persists the agent a final time and waits for in-flight work until
// ctx is done.
func (c *Client) Close(ctx context.Context) error {
	c.Persist(nil)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.logger.Warn().Msg("shutdown before pending snapshot deliveries finished")
		return ctx.Err()
	}
}

func (c *Client) restoreLocal(ctx context.Context) bool {
	data, err := c.slot.Read(ctx)
	if err != nil {
		if errors.Is(err, ErrSlotEmpty) {
			c.logger.Info().Msg("no local checkpoint")
		} else {
			c.logger.Warn().Err(err).Msg("local checkpoint unreadable")
		}
		return false
	}
	var snap agent.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn().Err(err).Msg("local checkpoint corrupt")
		return false
	}
	if err := c.agent.Load(snap); err != nil {
		c.logger.Warn().Err(err).Msg("local checkpoint rejected")
		return false
	}
	c.observer.Restored("local")
	c.logger.Info().Msg("agent restored from local checkpoint")
	return true
}

func (c *Client) fetchRemote(ctx context.Context) (agent.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	rec, err := c.remote.Latest(ctx)
	if err != nil {
		return agent.Snapshot{}, err
	}
	var snap agent.Snapshot
	if err := json.Unmarshal(rec.Snapshot, &snap); err != nil {
		return agent.Snapshot{}, fmt.Errorf("decode remote snapshot %s: %w", rec.ID, err)
	}
	if snap.IsZero() {
		return agent.Snapshot{}, ErrNoSnapshot
	}
	return snap, nil
}

func (c *Client) deliver(summary Summary, snap agent.Snapshot) (types.AppendReceipt, error) {
	snapshot, err := json.Marshal(snap)
	if err != nil {
		return types.AppendReceipt{}, fmt.Errorf("encode snapshot: %w", err)
	}
	stats, err := json.Marshal(summary.Stats)
	if err != nil {
		return types.AppendReceipt{}, fmt.Errorf("encode stats: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.remote.Append(ctx, types.AppendInput{
		Episode:  json.RawMessage(fmt.Sprint(summary.Episode)),
		Stats:    stats,
		Snapshot: snapshot,
	})
}

// Delivery is the pending result of one SendSnapshot call.
type Delivery struct {
	done    chan struct{}
	receipt types.AppendReceipt
	err     error
}

// Done is closed when the attempt has finished.
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Wait blocks until the attempt finishes or ctx is done.
func (d *Delivery) Wait(ctx context.Context) (types.AppendReceipt, error) {
	select {
	case <-d.done:
		return d.receipt, d.err
	case <-ctx.Done():
		return types.AppendReceipt{}, ctx.Err()
	}
}
