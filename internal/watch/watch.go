package watch

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			MarginBottom(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(1, 2)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	criticalStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	highStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B"))
	mediumStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24"))
	lowStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	okStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	errStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
)

// severityStyle maps an alert severity to its display style.
func severityStyle(severity string) lipgloss.Style {
	switch severity {
	case "CRITICAL":
		return criticalStyle
	case "HIGH":
		return highStyle
	case "MEDIUM":
		return mediumStyle
	default:
		return lowStyle
	}
}

// Run starts the dashboard and blocks until the user quits.
func Run(baseURL, token string) error {
	p := tea.NewProgram(New(baseURL, token), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type alertsMsg struct {
	alerts []Alert
	err    error
}

type statsMsg struct {
	stats *Stats
	err   error
}

type tickMsg time.Time

// Model is the dashboard model.
type Model struct {
	client     *Client
	alerts     []Alert
	stats      *Stats
	err        error
	width      int
	height     int
	lastUpdate time.Time
	quitting   bool
}

// New creates the dashboard model.
func New(baseURL, token string) *Model {
	return &Model{client: NewClient(baseURL, token)}
}

// Init starts the first fetch and the poll ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchAlerts(), m.fetchStats(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) fetchAlerts() tea.Cmd {
	return func() tea.Msg {
		alerts, err := m.client.PendingAlerts()
		return alertsMsg{alerts: alerts, err: err}
	}
}

func (m *Model) fetchStats() tea.Cmd {
	return func() tea.Msg {
		stats, err := m.client.GetStats()
		return statsMsg{stats: stats, err: err}
	}
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, tea.Batch(m.fetchAlerts(), m.fetchStats())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(m.fetchAlerts(), m.fetchStats(), tickCmd())

	case alertsMsg:
		m.err = msg.err
		if msg.err == nil {
			m.alerts = msg.alerts
			m.lastUpdate = time.Now()
		}

	case statsMsg:
		if msg.err == nil {
			m.stats = msg.stats
		}
	}
	return m, nil
}

// View renders the dashboard.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("StockGuard Watch"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("✗ " + m.err.Error()))
		b.WriteString("\n\n")
	} else {
		b.WriteString(okStyle.Render("● connected"))
		if !m.lastUpdate.IsZero() {
			b.WriteString(mutedStyle.Render("  updated " + m.lastUpdate.Format("15:04:05")))
		}
		b.WriteString("\n\n")
	}

	b.WriteString(boxStyle.Render(m.renderStats()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.renderAlerts()))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("r refresh · q quit"))
	return b.String()
}

func (m *Model) renderStats() string {
	if m.stats == nil {
		return mutedStyle.Render("waiting for stats...")
	}
	return fmt.Sprintf(
		"ledger records  %d\nblocked actors  %d\nlocked accounts %d\nuptime          %s",
		m.stats.LedgerRecords,
		m.stats.Throttle.BlockedActors,
		m.stats.Throttle.LockedAccounts,
		m.stats.Uptime,
	)
}

func (m *Model) renderAlerts() string {
	if len(m.alerts) == 0 {
		return okStyle.Render("no pending alerts")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d pending alert(s)\n\n", len(m.alerts)))
	for _, a := range m.alerts {
		style := severityStyle(a.Severity)
		marker := " "
		if a.Immediate {
			marker = "!"
		}
		b.WriteString(fmt.Sprintf("%s %s %s  %s\n",
			marker,
			style.Render(fmt.Sprintf("%-8s", a.Severity)),
			mutedStyle.Render(a.Timestamp.Format("15:04")),
			a.Description,
		))
		b.WriteString(mutedStyle.Render(fmt.Sprintf("    actor %s", a.ActorID)))
		if a.EntityID != "" {
			b.WriteString(mutedStyle.Render("  entity " + a.EntityID))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
