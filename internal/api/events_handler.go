package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/adworker/internal/events"
)

const sseKeepAlive = 15 * time.Second

// handleEvents streams task lifecycle events as SSE.
//
//	Last-Event-ID  replay buffered events after this id first
//	?task_id=      only events for one task
//	?type=         only one event type, e.g. task.completed
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	match := eventFilter(r.URL.Query().Get("task_id"), r.URL.Query().Get("type"))

	// Subscribe before replaying so nothing published in between is lost.
	live, cancel := s.events.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	seen := lastEventID(r)
	send := func(ev events.Event) bool {
		if ev.ID <= seen {
			return true
		}
		seen = ev.ID
		if !match(ev) {
			return true
		}
		return writeSSE(w, ev) == nil
	}

	for _, ev := range s.events.Since(seen) {
		if !send(ev) {
			return
		}
	}
	flusher.Flush()

	tick := time.NewTicker(sseKeepAlive)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open || !send(ev) {
				return
			}
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func lastEventID(r *http.Request) int64 {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("last_event_id")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func eventFilter(taskID, eventType string) func(events.Event) bool {
	return func(ev events.Event) bool {
		if eventType != "" && ev.Type != eventType {
			return false
		}
		if taskID == "" {
			return true
		}
		var ref struct {
			TaskID string `json:"task_id"`
		}
		return json.Unmarshal(ev.Data, &ref) == nil && ref.TaskID == taskID
	}
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	// Data is single-line JSON, so one data: field suffices.
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
