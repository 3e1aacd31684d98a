package tui

import (
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// state represents the current phase of a command run.
type state int

const (
	stateInit     state = iota
	stateBusy           // a request is in flight
	stateReady          // result panel available
	stateLoggedIn       // login finished, no result panel yet
	stateError          // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the HRM dashboard view.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	// Identity banner
	userName string
	role     string

	// Result panel
	tableTitle string
	tableRows  []string

	errMsg string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles — defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 2)

	stylePanel = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("244")).
			Padding(0, 1)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial dashboard model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("39"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Portal flow messages ─────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgNoSession:
		m.addStatus(statusInfo, "No stored session, login required")
		return m, nil

	case MsgSessionFound:
		m.userName = msg.Name
		m.role = msg.Role
		m.addStatus(statusOK, fmt.Sprintf("Logged in as %s (%s)", msg.Name, msg.Role))
		return m, nil

	case MsgSessionExpiredByAge:
		m.addStatus(statusWarn, "Session older than 12 hours, logging out")
		return m, nil

	case MsgLoggingIn:
		m.state = stateBusy
		m.addStatus(statusInfo, "Logging in as "+msg.Username+"...")
		return m, nil

	case MsgLoginOK:
		m.userName = msg.Name
		m.role = msg.Role
		m.state = stateLoggedIn
		m.addStatus(statusOK, fmt.Sprintf("Welcome, %s! Role: %s", msg.Name, msg.Role))
		return m, nil

	case MsgAuthRejected:
		m.addStatus(statusWarn, "Access token rejected (401), refreshing...")
		return m, nil

	case MsgRefreshing:
		m.state = stateBusy
		m.addStatus(statusInfo, "Refreshing access token...")
		return m, nil

	case MsgRefreshOK:
		m.addStatus(statusOK, "Token refreshed successfully")
		return m, nil

	case MsgRefreshFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgRetrying:
		m.addStatus(statusInfo, "Retrying request with fresh token...")
		return m, nil

	case MsgLoggedOut:
		m.userName = ""
		m.role = ""
		m.addStatus(statusWarn, "Logged out")
		return m, nil

	case MsgForbidden:
		m.addStatus(
			statusWarn,
			fmt.Sprintf("Role %s has no access to %s", msg.Role, msg.Section),
		)
		return m, nil

	case MsgNotice:
		m.addStatus(statusOK, msg.Text)
		return m, nil

	case MsgTable:
		m.tableTitle = msg.Title
		m.tableRows = msg.Rows
		m.state = stateReady
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() tea.View {
	switch m.state {
	case stateReady:
		return tea.NewView(m.viewTable())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while idle or while a request is in flight.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  HRM Portal  "))
	b.WriteString("\n\n")

	if m.userName != "" {
		b.WriteString(styleBold.Render(m.userName))
		b.WriteString(styleDim.Render("  ·  " + m.role))
		b.WriteString("\n\n")
	}

	if m.state == stateBusy {
		b.WriteString(m.spinner.View())
		b.WriteString(" Working...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewTable renders the result panel for list commands.
func (m Model) viewTable() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  HRM Portal  "))
	b.WriteString("\n\n")

	var panel strings.Builder
	panel.WriteString(styleBold.Render(m.tableTitle))
	panel.WriteString("\n")
	if len(m.tableRows) == 0 {
		panel.WriteString(styleDim.Render("(nothing to show)"))
	}
	for i, row := range m.tableRows {
		if i > 0 {
			panel.WriteString("\n")
		}
		panel.WriteString(row)
	}

	b.WriteString(stylePanel.Render(panel.String()))
	b.WriteString("\n")
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Command failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}
