package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish("task.queued", map[string]any{"task_id": "t1"})

	select {
	case ev := <-ch:
		assert.Equal(t, int64(1), ev.ID)
		assert.Equal(t, "task.queued", ev.Type)
		var data map[string]string
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Equal(t, "t1", data["task_id"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHubSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("task.completed", nil)
	}

	all := h.Since(0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})

	tail := h.Since(4)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(5), tail[0].ID)
	assert.JSONEq(t, `{}`, string(tail[0].Data))
}

func TestHubCancelIsIdempotent(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	assert.NotPanics(t, func() { h.Publish("task.started", nil) })
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(4)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			h.Publish("task.queued", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}
