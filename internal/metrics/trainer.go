package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TrainerCollector records training loop and checkpoint delivery metrics.
type TrainerCollector struct {
	episodes   prometheus.Counter
	frames     prometheus.Counter
	score      prometheus.Gauge
	reward     prometheus.Gauge
	epsilon    prometheus.Gauge
	memory     prometheus.Gauge
	deliveries *prometheus.CounterVec
	restores   *prometheus.CounterVec
}

// NewTrainerCollector registers the trainer collectors on reg.
func NewTrainerCollector(reg prometheus.Registerer) *TrainerCollector {
	f := promauto.With(reg)
	return &TrainerCollector{
		episodes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "trainer",
			Name: "episodes_total", Help: "Completed training episodes",
		}),
		frames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "trainer",
			Name: "frames_total", Help: "Environment steps taken",
		}),
		score: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "trainer",
			Name: "last_score", Help: "Bricks broken in the last episode",
		}),
		reward: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "trainer",
			Name: "last_reward", Help: "Total reward of the last episode",
		}),
		epsilon: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "trainer",
			Name: "epsilon", Help: "Current exploration rate",
		}),
		memory: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "trainer",
			Name: "replay_memory_size", Help: "Transitions held in the replay buffer",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkpoint",
			Name: "deliveries_total", Help: "Remote snapshot sends by outcome",
		}, []string{"outcome"}),
		restores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkpoint",
			Name: "restores_total", Help: "Agent restores by source",
		}, []string{"source"}),
	}
}

// EpisodeFinished records the summary of one episode.
func (c *TrainerCollector) EpisodeFinished(score int, reward float64, frames int, epsilon float64, memory int) {
	c.episodes.Inc()
	c.frames.Add(float64(frames))
	c.score.Set(float64(score))
	c.reward.Set(reward)
	c.epsilon.Set(epsilon)
	c.memory.Set(float64(memory))
}

// DeliveryFinished records the outcome of one remote send.
func (c *TrainerCollector) DeliveryFinished(err error) {
	if err != nil {
		c.deliveries.WithLabelValues("failed").Inc()
		return
	}
	c.deliveries.WithLabelValues("ok").Inc()
}

// Restored records an agent restore from source ("local" or "remote").
func (c *TrainerCollector) Restored(source string) {
	c.restores.WithLabelValues(source).Inc()
}
