// Package trainer runs the episode loop that couples the environment, the
// learning agent and the checkpoint client.
package trainer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/paddle/internal/breakout"
	"github.com/cartridge/paddle/internal/checkpoint"
	"github.com/cartridge/paddle/internal/types"
)

// Environment is the game the agent plays.
type Environment interface {
	Reset() []float64
	Step(action int) breakout.StepResult
	Score() int
}

// Learner is the part of the agent the loop drives.
type Learner interface {
	Act(state []float64) int
	Remember(state []float64, action int, reward float64, nextState []float64, done bool)
	Replay(batchSize int) bool
	Epsilon() float64
	MemoryLen() int
}

// Checkpointer persists the agent between episodes.
type Checkpointer interface {
	ApplyPending() bool
	Checkpoint(summary checkpoint.Summary) *checkpoint.Delivery
	Close(ctx context.Context) error
}

// Recorder receives per-episode statistics.
type Recorder interface {
	EpisodeFinished(score int, reward float64, frames int, epsilon float64, memory int)
}

type nopRecorder struct{}

func (nopRecorder) EpisodeFinished(int, float64, int, float64, int) {}

// Config controls the loop.
type Config struct {
	MaxEpisodes     int // <= 0 runs until the context is cancelled
	BatchSize       int
	ReplayInterval  int
	ShutdownTimeout time.Duration
}

// Trainer owns the agent for the lifetime of Run. Nothing else may touch
// the agent while Run is active.
type Trainer struct {
	cfg      Config
	env      Environment
	learner  Learner
	ckpt     Checkpointer
	recorder Recorder
	logger   zerolog.Logger

	episodes int
}

// New creates a trainer. recorder may be nil.
func New(cfg Config, env Environment, learner Learner, ckpt Checkpointer, recorder Recorder, logger zerolog.Logger) *Trainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.ReplayInterval <= 0 {
		cfg.ReplayInterval = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Trainer{
		cfg:      cfg,
		env:      env,
		learner:  learner,
		ckpt:     ckpt,
		recorder: recorder,
		logger:   logger,
	}
}

// Episodes returns the number of completed episodes.
func (t *Trainer) Episodes() int { return t.episodes }

// Run plays episodes until MaxEpisodes is reached or ctx is cancelled. A
// cancelled context is a clean stop and returns nil. The checkpoint client
// is closed before Run returns.
func (t *Trainer) Run(ctx context.Context) error {
	t.logger.Info().Int("max_episodes", t.cfg.MaxEpisodes).Msg("training loop starting")
	defer t.close()

	for {
		if t.cfg.MaxEpisodes > 0 && t.episodes >= t.cfg.MaxEpisodes {
			t.logger.Info().Int("episodes", t.episodes).Msg("reached maximum episodes, stopping")
			return nil
		}

		stats, err := t.runEpisode(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				t.logger.Info().Int("episodes", t.episodes).Msg("context cancelled, stopping trainer")
				return nil
			}
			return err
		}

		t.episodes++
		t.recorder.EpisodeFinished(stats.Score, stats.Reward, stats.Frames, stats.Epsilon, t.learner.MemoryLen())
		t.ckpt.Checkpoint(checkpoint.Summary{Episode: t.episodes, Stats: stats})

		t.logger.Info().
			Int("episode", t.episodes).
			Int("score", stats.Score).
			Float64("reward", stats.Reward).
			Int("frames", stats.Frames).
			Float64("epsilon", stats.Epsilon).
			Msg("episode finished")
	}
}

// runEpisode plays one episode to completion. An episode interrupted by
// ctx is discarded and not checkpointed.
func (t *Trainer) runEpisode(ctx context.Context) (types.EpisodeStats, error) {
	state := t.env.Reset()
	var total float64
	frames := 0

	for {
		if err := ctx.Err(); err != nil {
			return types.EpisodeStats{}, err
		}
		if t.ckpt.ApplyPending() {
			t.logger.Info().Int("frame", frames).Msg("applied remote snapshot mid-episode")
		}

		action := t.learner.Act(state)
		res := t.env.Step(action)
		t.learner.Remember(state, action, res.Reward, res.State, res.Done)
		total += res.Reward
		frames++

		if frames%t.cfg.ReplayInterval == 0 {
			t.learner.Replay(t.cfg.BatchSize)
		}
		if res.Done {
			break
		}
		state = res.State
	}

	return types.EpisodeStats{
		Score:   t.env.Score(),
		Reward:  total,
		Frames:  frames,
		Epsilon: t.learner.Epsilon(),
	}, nil
}

func (t *Trainer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ShutdownTimeout)
	defer cancel()
	if err := t.ckpt.Close(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("checkpoint client did not close cleanly")
	}
}
