// Package agent implements an epsilon-greedy Q-learning agent with
// experience replay over a small dense network.
package agent

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/cartridge/paddle/internal/nn"
)

// Config holds the agent hyperparameters.
type Config struct {
	InputSize      int
	HiddenSize     int
	ActionCount    int
	LearningRate   float64
	Gamma          float64
	Epsilon        float64
	EpsilonMin     float64
	EpsilonDecay   float64
	MemoryCapacity int
}

// DefaultConfig returns the hyperparameters of the paddle agent.
func DefaultConfig() Config {
	return Config{
		InputSize:      5,
		HiddenSize:     64,
		ActionCount:    3,
		LearningRate:   0.01,
		Gamma:          0.95,
		Epsilon:        1.0,
		EpsilonMin:     0.01,
		EpsilonDecay:   0.995,
		MemoryCapacity: 1000,
	}
}

// Validate checks the configuration for values the agent cannot run with.
func (c Config) Validate() error {
	if c.InputSize < 1 || c.HiddenSize < 1 || c.ActionCount < 1 {
		return errors.New("input, hidden and action sizes must be at least 1")
	}
	if c.MemoryCapacity < 1 {
		return errors.New("memory capacity must be at least 1")
	}
	if c.LearningRate <= 0 {
		return errors.New("learning rate must be positive")
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return errors.New("gamma must be within [0,1]")
	}
	if c.EpsilonMin < 0 || c.Epsilon < c.EpsilonMin {
		return errors.New("epsilon must be >= epsilon_min >= 0")
	}
	if c.EpsilonDecay <= 0 || c.EpsilonDecay > 1 {
		return errors.New("epsilon_decay must be within (0,1]")
	}
	return nil
}

// Agent selects actions epsilon-greedily and learns from replayed
// transitions. It is not safe for concurrent use.
type Agent struct {
	cfg     Config
	net     *nn.Network
	memory  *ReplayBuffer
	epsilon float64
	rng     *rand.Rand
}

// New creates an untrained agent.
func New(cfg Config, rng *rand.Rand) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Agent{
		cfg:     cfg,
		net:     nn.New(cfg.InputSize, cfg.HiddenSize, cfg.ActionCount, cfg.LearningRate, rng),
		memory:  NewReplayBuffer(cfg.MemoryCapacity),
		epsilon: cfg.Epsilon,
		rng:     rng,
	}, nil
}

// Epsilon returns the current exploration rate.
func (a *Agent) Epsilon() float64 { return a.epsilon }

// MemoryLen returns the number of stored transitions.
func (a *Agent) MemoryLen() int { return a.memory.Len() }

// Network exposes the underlying Q-network.
func (a *Agent) Network() *nn.Network { return a.net }

// Act returns a random action with probability epsilon and the greedy
// action otherwise. Ties go to the lowest action index.
func (a *Agent) Act(state []float64) int {
	if a.rng.Float64() < a.epsilon {
		return a.rng.Intn(a.cfg.ActionCount)
	}
	return floats.MaxIdx(a.net.Predict(state))
}

// Remember stores a transition in the replay buffer.
func (a *Agent) Remember(state []float64, action int, reward float64, nextState []float64, done bool) {
	a.memory.Add(Transition{
		State:     state,
		Action:    action,
		Reward:    reward,
		NextState: nextState,
		Done:      done,
	})
}

// Replay trains on batchSize transitions sampled with replacement and then
// decays epsilon once. It reports false and does nothing when fewer than
// batchSize transitions are stored.
func (a *Agent) Replay(batchSize int) bool {
	if batchSize < 1 || a.memory.Len() < batchSize {
		return false
	}
	for _, t := range a.memory.Sample(batchSize, a.rng) {
		target := t.Reward
		if !t.Done {
			target += a.cfg.Gamma * floats.Max(a.net.Predict(t.NextState))
		}
		q := a.net.Predict(t.State)
		q[t.Action] = target
		a.net.Train(t.State, q)
	}
	a.epsilon = math.Max(a.cfg.EpsilonMin, a.epsilon*a.cfg.EpsilonDecay)
	return true
}

// Snapshot is the checkpointable agent state. Nil fields are treated as
// absent by Load.
type Snapshot struct {
	Epsilon  *float64     `json:"epsilon"`
	Weights1 [][]float64  `json:"weights1"`
	Weights2 [][]float64  `json:"weights2"`
	Bias1    []float64    `json:"bias1"`
	Bias2    []float64    `json:"bias2"`
	Memory   []Transition `json:"memory"`
}

// IsZero reports whether the snapshot carries no fields at all.
func (s Snapshot) IsZero() bool {
	return s.Epsilon == nil && s.Weights1 == nil && s.Weights2 == nil &&
		s.Bias1 == nil && s.Bias2 == nil && s.Memory == nil
}

// Serialize returns a deep copy of the agent state.
func (a *Agent) Serialize() Snapshot {
	p := a.net.Parameters()
	eps := a.epsilon
	return Snapshot{
		Epsilon:  &eps,
		Weights1: p.Weights1,
		Weights2: p.Weights2,
		Bias1:    p.Bias1,
		Bias2:    p.Bias2,
		Memory:   a.memory.Items(),
	}
}

// Load replaces agent state with the fields present in s. Shape mismatches
// or out-of-range transitions are rejected and leave the agent unchanged.
func (a *Agent) Load(s Snapshot) error {
	if s.IsZero() {
		return nil
	}
	if s.Epsilon != nil && (*s.Epsilon < 0 || math.IsNaN(*s.Epsilon)) {
		return fmt.Errorf("epsilon must be non-negative, got %v", *s.Epsilon)
	}
	for i, t := range s.Memory {
		if len(t.State) != a.cfg.InputSize || len(t.NextState) != a.cfg.InputSize {
			return fmt.Errorf("memory[%d]: state length must be %d", i, a.cfg.InputSize)
		}
		if t.Action < 0 || t.Action >= a.cfg.ActionCount {
			return fmt.Errorf("memory[%d]: action %d out of range", i, t.Action)
		}
	}
	if err := a.net.SetParameters(nn.Parameters{
		Weights1: s.Weights1,
		Weights2: s.Weights2,
		Bias1:    s.Bias1,
		Bias2:    s.Bias2,
	}); err != nil {
		return fmt.Errorf("load network: %w", err)
	}
	if s.Epsilon != nil {
		a.epsilon = *s.Epsilon
	}
	if s.Memory != nil {
		a.memory.Reset(s.Memory)
	}
	return nil
}
