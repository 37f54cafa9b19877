package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/tapemaint/internal/api"
	"github.com/mattjoyce/tapemaint/internal/events"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusIdle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

const (
	pollInterval = 2 * time.Second
	maxEventLog  = 50
)

type statusMsg struct {
	health   api.HealthzResponse
	routines api.RoutinesResponse
	queues   *api.QueuesResponse
	at       time.Time
}

type eventMsg events.Event
type streamClosedMsg struct{ err error }
type errMsg struct{ err error }

// Model is the bubbletea model of `tapemaintd monitor`.
type Model struct {
	client *Client
	ctx    context.Context
	cancel context.CancelFunc
	feed   chan events.Event

	width  int
	height int

	status   statusMsg
	lastErr  error
	eventLog []events.Event
	lastID   int64

	routineTable table.Model
}

func NewMonitor(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Routine", Width: 30},
			{Title: "Runs", Width: 7},
			{Title: "Fail", Width: 6},
			{Title: "Last run", Width: 16},
			{Title: "Took", Width: 10},
			{Title: "Last error", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(11),
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

	ctx, cancel := context.WithCancel(context.Background())
	return &Model{
		client:       NewClient(apiURL, apiKey),
		ctx:          ctx,
		cancel:       cancel,
		feed:         make(chan events.Event, 100),
		routineTable: t,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStatus(),
		m.openStream(),
		m.receiveNextEvent(),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "r":
			return m, m.fetchStatus()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.routineTable.SetWidth(max(m.width-6, 20))

	case statusMsg:
		m.status = msg
		m.lastErr = nil
		m.updateTable()
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return m.fetchStatus()() })

	case errMsg:
		m.lastErr = msg.err
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return m.fetchStatus()() })

	case eventMsg:
		m.handleEvent(events.Event(msg))
		return m, m.receiveNextEvent()

	case streamClosedMsg:
		if m.ctx.Err() != nil {
			return m, nil
		}
		m.lastErr = msg.err
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return m.openStream()() })
	}

	m.routineTable, cmd = m.routineTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
}

func (m *Model) updateTable() {
	now := m.status.at
	if now.IsZero() {
		now = time.Now()
	}
	current := m.status.routines.CurrentRoutine

	rows := make([]table.Row, 0, len(m.status.routines.Routines))
	for _, r := range m.status.routines.Routines {
		sym := statusIdle.Render("○")
		switch {
		case r.Name == current:
			sym = statusRunning.Render("◉")
		case r.LastError != "":
			sym = statusFailed.Render("∅")
		case r.Runs > 0:
			sym = statusOK.Render("●")
		}
		lastRun := "-"
		if !r.LastRun.IsZero() {
			lastRun = humanize.RelTime(r.LastRun, now, "ago", "from now")
		}
		took := "-"
		if r.Runs > 0 {
			took = r.LastDuration.Round(time.Millisecond).String()
		}
		rows = append(rows, table.Row{
			sym,
			r.Name,
			humanize.Comma(int64(r.Runs)),
			humanize.Comma(int64(r.Failures)),
			lastRun,
			took,
			truncate(r.LastError, 40),
		})
	}
	m.routineTable.SetRows(rows)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	routines := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Routines"),
			m.routineTable.View(),
		),
	)
	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [r] Refresh • [↑/↓] Scroll")

	return docStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.renderHeader(),
			routines,
			m.renderQueues(),
			eventsView,
			help,
		),
	)
}

func (m *Model) renderHeader() string {
	h := m.status.health
	status := statusOK.Render("RUNNING")
	switch {
	case m.lastErr != nil:
		status = statusFailed.Render("UNREACHABLE")
	case h.Stopping:
		status = statusRunning.Render("STOPPING")
	case h.Status == "":
		status = statusIdle.Render("UNKNOWN")
	}

	uptime := time.Duration(h.UptimeSeconds) * time.Second
	current := h.CurrentRoutine
	if current == "" {
		current = "idle"
	}
	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Cycles: %s", humanize.Comma(int64(h.Cycles))),
		fmt.Sprintf("Now: %s", current),
	}

	col := lipgloss.NewStyle().Width((m.width - 4) / len(items))
	cells := make([]string, len(items))
	for i, it := range items {
		cells[i] = col.Render(it)
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, cells...)
	if m.lastErr != nil {
		header = lipgloss.JoinVertical(lipgloss.Left, header, statusFailed.Render(m.lastErr.Error()))
	}
	return borderStyle.Width(m.width - 4).Render(header)
}

func (m *Model) renderQueues() string {
	q := m.status.queues
	if q == nil {
		return ""
	}
	parts := make([]string, 0, len(q.Queues))
	for _, c := range q.Queues {
		if c.Count == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s%s=%s", strings.ToLower(c.Category), c.Queue, humanize.Comma(int64(c.Count))))
	}
	line := "all queues empty"
	if len(parts) > 0 {
		line = strings.Join(parts, "  ")
	}
	return borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render(fmt.Sprintf("Queues (%s jobs)", humanize.Comma(int64(q.Total)))),
			lipgloss.NewStyle().Padding(0, 1).Render(line),
		),
	)
}

func (m *Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("%6d | %-18s | %s", e.ID, e.Type, summarize(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// summarize renders a flat JSON payload as key=value pairs.
func summarize(data []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil || len(fields) == 0 {
		return string(data)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

func (m *Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()

		health, err := m.client.Health(ctx)
		if err != nil {
			return errMsg{err}
		}
		routines, err := m.client.Routines(ctx)
		if err != nil {
			return errMsg{err}
		}
		msg := statusMsg{health: health, routines: routines, at: time.Now()}
		if queues, err := m.client.Queues(ctx); err == nil {
			msg.queues = &queues
		}
		return msg
	}
}

func (m *Model) openStream() tea.Cmd {
	lastID := m.lastID
	return func() tea.Msg {
		err := m.client.Stream(m.ctx, lastID, func(e events.Event) {
			select {
			case m.feed <- e:
			case <-m.ctx.Done():
			}
		})
		return streamClosedMsg{err: err}
	}
}

func (m *Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-m.feed:
			return eventMsg(e)
		case <-m.ctx.Done():
			return nil
		}
	}
}
