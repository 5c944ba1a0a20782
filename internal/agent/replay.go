package agent

import "math/rand"

// Transition is a single experience tuple.
type Transition struct {
	State     []float64 `json:"state"`
	Action    int       `json:"action"`
	Reward    float64   `json:"reward"`
	NextState []float64 `json:"nextState"`
	Done      bool      `json:"done"`
}

func (t Transition) clone() Transition {
	t.State = append([]float64(nil), t.State...)
	t.NextState = append([]float64(nil), t.NextState...)
	return t
}

// ReplayBuffer is a fixed-capacity FIFO of transitions. Once full, each Add
// evicts the single oldest entry.
type ReplayBuffer struct {
	items    []Transition
	head     int // index of the oldest entry
	size     int
	capacity int
}

// NewReplayBuffer creates an empty buffer holding at most capacity entries.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	return &ReplayBuffer{
		items:    make([]Transition, capacity),
		capacity: capacity,
	}
}

// Len returns the number of stored transitions.
func (b *ReplayBuffer) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *ReplayBuffer) Cap() int { return b.capacity }

// Add stores a copy of t.
func (b *ReplayBuffer) Add(t Transition) {
	t = t.clone()
	if b.size < b.capacity {
		b.items[(b.head+b.size)%b.capacity] = t
		b.size++
		return
	}
	b.items[b.head] = t
	b.head = (b.head + 1) % b.capacity
}

// At returns the i-th oldest transition. The returned value shares its
// slices with the buffer and must not be modified.
func (b *ReplayBuffer) At(i int) Transition {
	return b.items[(b.head+i)%b.capacity]
}

// Sample draws n transitions uniformly with replacement.
func (b *ReplayBuffer) Sample(n int, rng *rand.Rand) []Transition {
	if b.size == 0 {
		return nil
	}
	batch := make([]Transition, n)
	for i := range batch {
		batch[i] = b.At(rng.Intn(b.size))
	}
	return batch
}

// Items returns deep copies of all transitions, oldest first.
func (b *ReplayBuffer) Items() []Transition {
	out := make([]Transition, b.size)
	for i := range out {
		out[i] = b.At(i).clone()
	}
	return out
}

// Reset replaces the contents with copies of items. When len(items)
// exceeds the capacity only the most recent entries are kept.
func (b *ReplayBuffer) Reset(items []Transition) {
	b.items = make([]Transition, b.capacity)
	b.head, b.size = 0, 0
	if len(items) > b.capacity {
		items = items[len(items)-b.capacity:]
	}
	for _, t := range items {
		b.Add(t)
	}
}
