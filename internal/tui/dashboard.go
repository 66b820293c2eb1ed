// Package tui renders a live cost dashboard against a running pennywise
// server. It polls the HTTP API and shows per-tier spend, savings, backend
// health, and the most recent routing attempts.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/corvidlabs/pennywise/internal/ledger"
	"github.com/corvidlabs/pennywise/internal/router"
	"github.com/corvidlabs/pennywise/internal/tier"
)

// ─────────────────────────────────────────────────────
// Styles
// ─────────────────────────────────────────────────────

var (
	primaryColor = lipgloss.Color("#7C3AED") // violet
	accentColor  = lipgloss.Color("#06B6D4") // cyan
	mutedColor   = lipgloss.Color("#6B7280") // gray
	successColor = lipgloss.Color("#10B981") // green
	errorColor   = lipgloss.Color("#EF4444") // red
	warnColor    = lipgloss.Color("#F59E0B") // amber

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	savingsStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(successColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// ─────────────────────────────────────────────────────
// Messages
// ─────────────────────────────────────────────────────

type snapshotMsg struct {
	report   *ledger.Report
	health   map[tier.Tier]*router.TierHealth
	attempts []ledger.AttemptRow
	err      error
}

type tickMsg struct{}

// ─────────────────────────────────────────────────────
// Dashboard
// ─────────────────────────────────────────────────────

// Dashboard polls a pennywise server and renders its state.
type Dashboard struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewDashboard creates a dashboard pointed at baseURL (e.g. http://localhost:8710).
// token may be empty when the server runs without auth.
func NewDashboard(baseURL, token string) *Dashboard {
	return &Dashboard{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Run starts the dashboard and blocks until the user quits.
func (d *Dashboard) Run() error {
	m := newModel(d)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// FetchReport returns the current savings report from the server.
func (d *Dashboard) FetchReport() (*ledger.Report, error) {
	var r ledger.Report
	if err := d.get("/api/report", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *Dashboard) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return err
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (d *Dashboard) fetch() tea.Msg {
	var msg snapshotMsg

	var report ledger.Report
	if err := d.get("/api/report", &report); err != nil {
		msg.err = err
		return msg
	}
	msg.report = &report

	var health map[tier.Tier]*router.TierHealth
	if err := d.get("/api/health", &health); err == nil {
		msg.health = health
	}

	var attempts []ledger.AttemptRow
	if err := d.get("/api/attempts?limit=8", &attempts); err == nil {
		msg.attempts = attempts
	}

	return msg
}

// ─────────────────────────────────────────────────────
// Model
// ─────────────────────────────────────────────────────

type model struct {
	dash     *Dashboard
	tiers    table.Model
	report   *ledger.Report
	health   map[tier.Tier]*router.TierHealth
	attempts []ledger.AttemptRow
	lastErr  error
	width    int
	height   int
}

func newModel(d *Dashboard) model {
	columns := []table.Column{
		{Title: "Tier", Width: 12},
		{Title: "Calls", Width: 8},
		{Title: "In", Width: 10},
		{Title: "Out", Width: 10},
		{Title: "Cost", Width: 10},
		{Title: "Health", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(8),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Bold(true).
		Foreground(accentColor).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor)
	t.SetStyles(styles)

	return model{dash: d, tiers: t}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.dash.fetch, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			return m, m.dash.fetch
		}

	case tickMsg:
		return m, tea.Batch(m.dash.fetch, tickCmd())

	case snapshotMsg:
		m.lastErr = msg.err
		if msg.report != nil {
			m.report = msg.report
			m.health = msg.health
			m.attempts = msg.attempts
			m.tiers.SetRows(m.tierRows())
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	}

	var cmd tea.Cmd
	m.tiers, cmd = m.tiers.Update(msg)
	return m, cmd
}

func (m model) tierRows() []table.Row {
	if m.report == nil {
		return nil
	}

	usage := make([]ledger.TierUsage, len(m.report.Tiers))
	copy(usage, m.report.Tiers)
	sort.Slice(usage, func(i, j int) bool { return usage[i].Tier < usage[j].Tier })

	rows := make([]table.Row, 0, len(usage))
	for _, u := range usage {
		state := "healthy"
		if h, ok := m.health[u.Tier]; ok && h != nil {
			state = string(h.State)
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%s %s", u.Tier, u.Name),
			fmt.Sprintf("%d", u.Calls),
			formatUnits(u.InputUnits),
			formatUnits(u.OutputUnits),
			fmt.Sprintf("$%.4f", u.CostUSD),
			state,
		})
	}
	return rows
}

func (m model) View() string {
	header := headerStyle.Render("  pennywise dashboard  ") +
		mutedStyle.Render("  "+m.dash.baseURL)

	var body strings.Builder
	body.WriteString(header)
	body.WriteString("\n\n")

	if m.lastErr != nil {
		body.WriteString(errStyle.Render("  connection error: " + m.lastErr.Error()))
		body.WriteString("\n\n")
	}

	if m.report == nil {
		body.WriteString(mutedStyle.Render("  waiting for first report..."))
		body.WriteString("\n\n")
		body.WriteString(footerStyle.Render("  q: quit │ r: refresh"))
		return body.String()
	}

	body.WriteString(m.renderSummary())
	body.WriteString("\n")
	body.WriteString(panelStyle.Render(m.tiers.View()))
	body.WriteString("\n\n")
	body.WriteString(m.renderAttempts())
	body.WriteString("\n")
	body.WriteString(footerStyle.Render("  q: quit │ r: refresh │ ↑↓: select tier"))

	return body.String()
}

func (m model) renderSummary() string {
	r := m.report

	savings := savingsStyle
	if r.SavingsPercent < 25 {
		savings = lipgloss.NewStyle().Bold(true).Foreground(warnColor)
	}

	window := mutedStyle.Render(fmt.Sprintf("since %s", r.Since.Format("Jan 2 15:04")))

	line := fmt.Sprintf("  %s  spent $%.4f of $%.4f baseline  %s  %s",
		titleStyle.Render(fmt.Sprintf("%d calls", r.TotalCalls)),
		r.TotalUSD,
		r.BaselineUSD,
		savings.Render(fmt.Sprintf("saved $%.4f (%.1f%%)", r.SavingsUSD, r.SavingsPercent)),
		window,
	)
	return line + "\n"
}

func (m model) renderAttempts() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("  Recent attempts"))
	sb.WriteString("\n")

	if len(m.attempts) == 0 {
		sb.WriteString(mutedStyle.Render("  none recorded yet"))
		sb.WriteString("\n")
		return sb.String()
	}

	for _, a := range m.attempts {
		ts := a.StartedAt.Format("15:04:05")
		kind := a.Kind
		style := mutedStyle
		switch kind {
		case "success":
			style = lipgloss.NewStyle().Foreground(successColor)
		case "low-confidence":
			style = lipgloss.NewStyle().Foreground(warnColor)
		case "provider-error", "provider-unavailable":
			style = errStyle
		}
		sb.WriteString(fmt.Sprintf("  %s  T%d  %-12s  %s  $%.4f\n",
			mutedStyle.Render(ts),
			a.Tier,
			a.Category,
			style.Render(fmt.Sprintf("%-20s", kind)),
			a.CostUSD,
		))
	}
	return sb.String()
}

func formatUnits(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}
