// Package tui is a terminal monitor for a running adworker: live task table,
// slot usage and the raw event stream.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/adworker/internal/events"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK       = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusDegraded = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

const (
	maxTasks     = 200
	maxEventLog  = 50
	pollInterval = 5 * time.Second
)

type TaskRow struct {
	ID        string
	Operation string
	Status    string
	ExitCode  *int
	Queued    time.Time
	Started   time.Time
	Ended     time.Time
}

type health struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Limit         int    `json:"limit"`
	Running       int    `json:"running"`
	Pending       int    `json:"pending"`
	Completed     int64  `json:"completed"`
}

type Model struct {
	client *Client

	width  int
	height int

	tasks    map[string]*TaskRow
	order    []string // newest first
	eventLog []events.Event
	stream   chan events.Event

	health  health
	lastErr error

	taskTable table.Model
}

type eventMsg events.Event
type healthMsg health
type errMsg struct{ err error }

// NewMonitor builds the model for the API at apiURL.
func NewMonitor(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Operation", Width: 40},
			{Title: "ID", Width: 8},
			{Title: "Exit", Width: 4},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		client:    NewClient(apiURL, apiKey),
		tasks:     make(map[string]*TaskRow),
		stream:    make(chan events.Event, 128),
		taskTable: t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.streamEvents(),
		m.receiveNextEvent(),
		m.pollHealth(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.taskTable.SetWidth(m.width - 6)
		if h := m.height/2 - 4; h > 3 {
			m.taskTable.SetHeight(h)
		}

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, m.receiveNextEvent()

	case healthMsg:
		m.health = health(msg)
		m.lastErr = nil
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg {
			return m.fetchHealth()
		})

	case errMsg:
		m.lastErr = msg.err
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg {
			return m.fetchHealth()
		})
	}

	m.taskTable, cmd = m.taskTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	var data struct {
		TaskID    string `json:"task_id"`
		Operation string `json:"operation"`
		Status    string `json:"status"`
		ExitCode  *int   `json:"exit_code"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.TaskID == "" {
		return
	}

	row, ok := m.tasks[data.TaskID]
	if !ok {
		row = &TaskRow{ID: data.TaskID, Status: "queued", Queued: e.At}
		m.tasks[data.TaskID] = row
		m.order = append([]string{data.TaskID}, m.order...)
		if len(m.order) > maxTasks {
			for _, id := range m.order[maxTasks:] {
				delete(m.tasks, id)
			}
			m.order = m.order[:maxTasks]
		}
	}
	if data.Operation != "" {
		row.Operation = data.Operation
	}

	switch e.Type {
	case "task.started":
		row.Status = "running"
		row.Started = e.At
	case "task.completed":
		row.Status = data.Status
		row.ExitCode = data.ExitCode
		row.Ended = e.At
	}
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.order))
	for _, id := range m.order {
		rows = append(rows, taskToRow(m.tasks[id], time.Now()))
	}
	m.taskTable.SetRows(rows)
}

func statusSymbol(status string) string {
	switch status {
	case "queued":
		return statusQueued.Render("○")
	case "running":
		return statusRunning.Render("◉")
	case "succeeded":
		return statusOK.Render("●")
	case "degraded":
		return statusDegraded.Render("◐")
	case "failed":
		return statusFailed.Render("∅")
	case "timed_out":
		return statusFailed.Render("◑")
	}
	return "?"
}

func taskToRow(t *TaskRow, now time.Time) table.Row {
	duration := "-"
	if !t.Started.IsZero() {
		end := t.Ended
		if end.IsZero() {
			end = now
		}
		duration = end.Sub(t.Started).Round(time.Millisecond).String()
	}

	exit := "-"
	if t.ExitCode != nil {
		exit = fmt.Sprint(*t.ExitCode)
	}

	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}

	return table.Row{statusSymbol(t.Status), t.Operation, id, exit, duration}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	tasks := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Tasks"),
			m.taskTable.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll Tasks")

	return docStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), tasks, eventsView, help),
	)
}

func (m Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	switch {
	case m.lastErr != nil:
		status = statusFailed.Render("UNREACHABLE")
	case m.health.Status != "ok" && m.health.Status != "":
		status = statusFailed.Render("DEGRADED")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime),
		fmt.Sprintf("Slots: %d/%d", m.health.Running, m.health.Limit),
		fmt.Sprintf("Pending: %d", m.health.Pending),
		fmt.Sprintf("Done: %d", m.health.Completed),
	}

	cols := make([]string, len(items))
	w := (m.width - 4) / len(items)
	for i, it := range items {
		cols[i] = lipgloss.NewStyle().Width(w).Render(it)
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cols...))
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s | %-15s | %s", e.At.Local().Format("15:04:05"), e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// streamEvents follows /events for the life of the program, feeding m.stream.
func (m Model) streamEvents() tea.Cmd {
	return func() tea.Msg {
		if err := m.client.Stream(func(ev events.Event) { m.stream <- ev }); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.stream)
	}
}

func (m Model) pollHealth() tea.Cmd {
	return func() tea.Msg {
		return m.fetchHealth()
	}
}

func (m Model) fetchHealth() tea.Msg {
	h, err := m.client.Health()
	if err != nil {
		return errMsg{err}
	}
	return healthMsg(h)
}
