package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/adworker/internal/events"
)

func ev(typ string, data string) events.Event {
	return events.Event{Type: typ, At: time.Now(), Data: json.RawMessage(data)}
}

func TestHandleEventLifecycle(t *testing.T) {
	m := NewMonitor("http://localhost:8080", "k")

	m.handleEvent(ev("task.queued", `{"task_id":"abcdef123456","operation":"CustomerService-getInfos"}`))
	require.Contains(t, m.tasks, "abcdef123456")
	assert.Equal(t, "queued", m.tasks["abcdef123456"].Status)

	m.handleEvent(ev("task.started", `{"task_id":"abcdef123456"}`))
	assert.Equal(t, "running", m.tasks["abcdef123456"].Status)
	assert.False(t, m.tasks["abcdef123456"].Started.IsZero())

	m.handleEvent(ev("task.completed", `{"task_id":"abcdef123456","status":"failed","exit_code":1}`))
	row := m.tasks["abcdef123456"]
	assert.Equal(t, "failed", row.Status)
	require.NotNil(t, row.ExitCode)
	assert.Equal(t, 1, *row.ExitCode)
	assert.Equal(t, "CustomerService-getInfos", row.Operation)

	assert.Len(t, m.eventLog, 3)
	assert.Equal(t, "task.completed", m.eventLog[0].Type)
}

func TestHandleEventIgnoresForeignPayloads(t *testing.T) {
	m := NewMonitor("http://localhost:8080", "k")
	m.handleEvent(ev("something.else", `{"foo":1}`))
	m.handleEvent(ev("task.queued", `not json`))

	assert.Empty(t, m.tasks)
	assert.Len(t, m.eventLog, 2)
}

func TestTaskOrderNewestFirstAndCapped(t *testing.T) {
	m := NewMonitor("http://localhost:8080", "k")
	for i := 0; i < maxTasks+5; i++ {
		m.handleEvent(ev("task.queued", fmt.Sprintf(`{"task_id":"task-%03d"}`, i)))
	}
	assert.Len(t, m.order, maxTasks)
	assert.Len(t, m.tasks, maxTasks)
	assert.Equal(t, fmt.Sprintf("task-%03d", maxTasks+4), m.order[0])
	assert.NotContains(t, m.tasks, "task-000")
}

func TestTaskToRow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	code := 0
	row := taskToRow(&TaskRow{
		ID:        "0123456789",
		Operation: "CampaignService-getCampaignList",
		Status:    "succeeded",
		ExitCode:  &code,
		Started:   start,
		Ended:     start.Add(1500 * time.Millisecond),
	}, start)

	assert.Equal(t, "CampaignService-getCampaignList", row[1])
	assert.Equal(t, "01234567", row[2])
	assert.Equal(t, "0", row[3])
	assert.Equal(t, "1.5s", row[4])
}

func TestUpdateAndView(t *testing.T) {
	m := NewMonitor("http://localhost:8080", "k")
	assert.Equal(t, "Initializing...", m.View())

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	next, _ = next.Update(healthMsg{Status: "ok", Limit: 30, Running: 2, Pending: 5})
	next, _ = next.Update(eventMsg(ev("task.queued", `{"task_id":"t1","operation":"CustomerService-getInfos"}`)))

	view := next.View()
	assert.Contains(t, view, "Slots: 2/30")
	assert.Contains(t, view, "Pending: 5")
	assert.Contains(t, view, "CustomerService-getInfos")
}

func TestReadSSEDeliversPendingEventAtEOF(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: task.started",
		`data: {"task_id":"a"}`,
		"",
		"id: 8",
		"event: task.completed",
		`data: {"task_id":"a","status":"succeeded"}`,
		"",
	}, "\n")

	var got []events.Event
	require.NoError(t, ReadSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) }))

	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, "task.started", got[0].Type)
	assert.JSONEq(t, `{"task_id":"a"}`, string(got[0].Data))
	assert.Equal(t, "task.completed", got[1].Type)
}

func TestReadSSEFramedStream(t *testing.T) {
	stream := "id: 1\nevent: task.queued\ndata: {}\n\nid: 2\nevent: task.started\ndata: {}\n\n"

	var got []events.Event
	require.NoError(t, ReadSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) }))

	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[1].ID)
}

func TestReadSSEIgnoresCommentOnlyTail(t *testing.T) {
	stream := "id: 3\nevent: task.queued\ndata: {}\n\n: keep-alive\n"

	var got []events.Event
	require.NoError(t, ReadSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) }))

	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ID)
}
