package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/zonectl/internal/events"
)

const pollInterval = 5 * time.Second

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	health   HealthState
	zones    map[string]*ZoneState
	eventLog []events.Event

	ticker   Ticker
	activity Activity
	theme    Theme

	zoneTable table.Model
	eventView viewport.Model

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model for the API at apiURL. token may be empty.
func New(apiURL, token string) *Model {
	theme := NewDefaultTheme()

	t := table.New(
		table.WithColumns(zoneColumns()),
		table.WithFocused(true),
		table.WithHeight(8),
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
		apiURL:    apiURL,
		token:     token,
		zones:     make(map[string]*ZoneState),
		ticker:    NewTicker(),
		theme:     theme,
		zoneTable: t,
		eventView: viewport.New(0, 10),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.token, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.poll(),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) poll() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return fetchHealth(m.apiURL, m.token) },
		func() tea.Msg { return fetchZones(m.apiURL, m.token) },
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.eventView, cmd = m.eventView.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.zoneTable.SetWidth(max(20, m.width-6))
		m.eventView.Width = max(20, m.width-6)
		m.eventView.Height = max(3, m.height/3)
		m.refreshEvents()

	case tickMsg:
		m.ticker.Tick()
		m.activity.Decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.activity.OnEvent(time.Now())
		applyEvent(m.zones, e)
		m.zoneTable.SetRows(zoneRows(m.zones, m.theme))
		m.refreshEvents()
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Zones = msg.Zones
		m.health.Pending = msg.Pending
		m.health.Executing = msg.Executing
		m.health.Connected = true
		m.lastError = ""
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchHealth(m.apiURL, m.token) })

	case zonesMsg:
		applySnapshot(m.zones, msg.Zones)
		m.zoneTable.SetRows(zoneRows(m.zones, m.theme))
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchZones(m.apiURL, m.token) })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.token, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchHealth(m.apiURL, m.token) })
	}

	var cmd tea.Cmd
	m.zoneTable, cmd = m.zoneTable.Update(msg)
	return m, cmd
}

func (m *Model) refreshEvents() {
	m.eventView.SetContent(renderEventLines(m.eventLog, m.theme))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to " + m.apiURL + "..."
	}

	header := renderHeader(m.health, m.ticker, m.activity, m.theme, m.width)
	zones := m.theme.Panel.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("ZONES"),
			m.zoneTable.View(),
		),
	)
	eventStream := m.theme.Panel.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("EVENT STREAM"),
			m.eventView.View(),
		),
	)

	parts := []string{header, zones, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.Bad.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Zones • [PgUp/PgDn] Events"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
