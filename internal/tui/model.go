package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/subscription-copilot/internal/cli"
	"github.com/Veraticus/subscription-copilot/internal/engine"
	"github.com/Veraticus/subscription-copilot/internal/model"
)

// State represents the current state of the TUI.
type State int

const (
	StateScanning State = iota
	StateStopping
	StateDone
	StateFailed
)

// eventMsg carries one scan event into the update loop.
type eventMsg engine.Event

// scanDoneMsg is sent once the scan goroutine returns.
type scanDoneMsg struct {
	result *engine.Result
	err    error
}

// Model holds the scan view state.
type Model struct {
	theme    Theme
	err      error
	msgs     <-chan tea.Msg
	cancel   context.CancelFunc
	result   *engine.Result
	keymap   KeyMap
	status   string
	phase    engine.Phase
	subs     []model.Subscription
	help     help.Model
	spinner  spinner.Model
	progress progress.Model
	table    table.Model
	scanned  int
	total    int
	found    int
	width    int
	height   int
	state    State
	quitting bool
}

// NewModel creates a scan view reading messages from msgs. cancel stops the
// running scan.
func NewModel(theme Theme, msgs <-chan tea.Msg, cancel context.CancelFunc) Model {
	spin := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(theme.Primary)),
	)
	prog := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))

	return Model{
		theme:    theme,
		msgs:     msgs,
		cancel:   cancel,
		keymap:   DefaultKeyMap(),
		status:   "Starting scan",
		help:     help.New(),
		spinner:  spin,
		progress: prog,
		table:    newTable(theme, nil),
		state:    StateScanning,
	}
}

// Init starts the spinner and the message pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForMsg(m.msgs))
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = min(max(m.width-10, 10), 60)
		m.table.SetHeight(max(m.height-8, 3))
		return m, nil

	case eventMsg:
		m.applyEvent(engine.Event(msg))
		return m, waitForMsg(m.msgs)

	case scanDoneMsg:
		m.result = msg.result
		m.err = msg.err
		if msg.result != nil {
			m.subs = msg.result.Subscriptions
			m.found = len(msg.result.Subscriptions)
		}
		m.table = newTable(m.theme, m.subs)
		if m.height > 0 {
			m.table.SetHeight(max(m.height-8, 3))
		}
		stopping := m.state == StateStopping
		if msg.err != nil {
			m.state = StateFailed
		} else {
			m.state = StateDone
		}
		if stopping {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if m.state != StateScanning && m.state != StateStopping {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keymap.ForceQuit):
		m.stopScan()
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keymap.Stop):
		if m.state == StateScanning {
			m.stopScan()
			m.state = StateStopping
			m.status = "Stopping scan"
			return m, nil
		}
		if m.state == StateStopping {
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keymap.ToggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	if m.state == StateDone {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) stopScan() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Model) applyEvent(e engine.Event) {
	switch e.Type {
	case engine.EventStatus:
		m.status = e.Message
		m.phase = e.Phase
	case engine.EventProgress:
		m.scanned = e.Scanned
		m.total = e.Total
		m.found = e.Found
	case engine.EventComplete:
		m.subs = e.Subscriptions
		m.found = e.Found
	case engine.EventError:
		m.status = e.Message
	}
}

// View renders the model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.theme.Title.Render(cli.MailIcon + " Subscription scan"))
	b.WriteString("\n")

	switch m.state {
	case StateScanning, StateStopping:
		b.WriteString(m.spinner.View() + " " + m.theme.StatusInfo.Render(m.status) + "\n\n")
		percent := 0.0
		if m.total > 0 {
			percent = float64(m.scanned) / float64(m.total)
		}
		b.WriteString(m.progress.ViewAs(percent) + "\n")
		b.WriteString(m.theme.Subtitle.Render(
			fmt.Sprintf("%d/%d scanned · %d found", m.scanned, m.total, m.found)) + "\n")

	case StateDone:
		summary := fmt.Sprintf("Found %d subscriptions", len(m.subs))
		if m.result != nil && m.result.Cancelled {
			b.WriteString(m.theme.StatusWarn.Render(summary+" before the scan was stopped") + "\n\n")
		} else {
			b.WriteString(m.theme.StatusOK.Render(summary) + "\n\n")
		}
		if len(m.subs) > 0 {
			b.WriteString(m.theme.Box.Render(m.table.View()) + "\n")
		}

	case StateFailed:
		b.WriteString(m.theme.StatusError.Render("Scan failed: "+m.err.Error()) + "\n")
		if len(m.subs) > 0 {
			b.WriteString(m.theme.Subtitle.Render(
				fmt.Sprintf("%d subscriptions were found before the failure", len(m.subs))) + "\n")
		}
	}

	b.WriteString("\n" + m.help.View(m.keymap))
	return b.String()
}

// Result returns the scan result once the scan has finished.
func (m Model) Result() (*engine.Result, error) {
	return m.result, m.err
}

// State returns the current state.
func (m Model) State() State {
	return m.state
}

func newTable(theme Theme, subs []model.Subscription) table.Model {
	columns := []table.Column{
		{Title: "", Width: 2},
		{Title: "Name", Width: 24},
		{Title: "Price", Width: 12},
		{Title: "Cycle", Width: 10},
		{Title: "Category", Width: 16},
		{Title: "Conf.", Width: 6},
	}

	rows := make([]table.Row, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		price := "?"
		if sub.Price.Valid {
			price = cli.FormatPrice(sub.Price.Decimal, sub.Currency)
		}
		name := sub.Name
		if sub.Suspicious {
			name += " " + cli.WarningIcon
		}
		rows = append(rows, table.Row{
			GetCategoryIcon(sub.Category),
			name,
			price,
			string(sub.Cycle),
			sub.Category,
			fmt.Sprintf("%.0f%%", sub.Confidence*100),
		})
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.Border).
		BorderBottom(true).
		Bold(true)
	styles.Selected = theme.Selected

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(max(len(rows), 1), 15)),
	)
	t.SetStyles(styles)
	return t
}

// waitForMsg reads the next message from the scan goroutine.
func waitForMsg(msgs <-chan tea.Msg) tea.Cmd {
	if msgs == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-msgs
		if !ok {
			return nil
		}
		return msg
	}
}
