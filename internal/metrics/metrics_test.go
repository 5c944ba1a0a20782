package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCollector_RecordsService(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry(), zerolog.Nop())

	c.APIRequest("GET", "/snapshots", 200, 5*time.Millisecond)
	c.APIRequest("GET", "/snapshots", 200, 5*time.Millisecond)
	c.SnapshotAppended(12, 7)
	c.AppendRejected("validation")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.apiRequests.WithLabelValues("GET", "/snapshots", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.appends))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.storedSnapshots))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.latestEpisode))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejections.WithLabelValues("validation")))

	c.HistoryStatus("stale", time.Hour)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.historyStale))
	c.HistoryStatus("fresh", time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.historyStale))
}

func TestTrainerCollector(t *testing.T) {
	c := NewTrainerCollector(prometheus.NewRegistry())

	c.EpisodeFinished(3, 1.5, 200, 0.9, 150)
	c.EpisodeFinished(5, 2.5, 100, 0.8, 250)
	c.DeliveryFinished(nil)
	c.DeliveryFinished(errors.New("timeout"))
	c.DeliveryFinished(errors.New("timeout"))
	c.Restored("local")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.episodes))
	assert.Equal(t, 300.0, testutil.ToFloat64(c.frames))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.score))
	assert.Equal(t, 0.8, testutil.ToFloat64(c.epsilon))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.deliveries.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.restores.WithLabelValues("local")))
}
