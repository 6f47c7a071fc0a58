package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	assert.NotNil(t, c.submitted)
	assert.NotNil(t, c.completed)
	assert.NotNil(t, c.duration)
	assert.NotNil(t, c.pending)
	assert.NotNil(t, c.running)
}

func TestCollectorsAreIndependent(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(nil)
		NewCollector(nil)
	}, "private registries must not collide")
}

func TestRecordSubmitted(t *testing.T) {
	c := NewCollector(nil)
	for i := 0; i < 5; i++ {
		c.RecordSubmitted()
	}
	assert.Equal(t, float64(5), testutil.ToFloat64(c.submitted))
}

func TestRecordCompleted(t *testing.T) {
	c := NewCollector(nil)
	c.RecordCompleted("succeeded", 150*time.Millisecond)
	c.RecordCompleted("succeeded", 2*time.Second)
	c.RecordCompleted("failed", time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.completed.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.completed.WithLabelValues("failed")))
}

func TestUpdateQueueStats(t *testing.T) {
	c := NewCollector(nil)
	c.UpdateQueueStats(7, 2)

	assert.Equal(t, float64(7), testutil.ToFloat64(c.pending))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.running))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordSubmitted()
		c.RecordCompleted("failed", time.Second)
		c.UpdateQueueStats(1, 1)
	})
}

func TestHandler(t *testing.T) {
	c := NewCollector(nil)
	c.RecordSubmitted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "adworker_tasks_submitted_total 1"))
}
