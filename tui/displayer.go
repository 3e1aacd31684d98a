// Package tui renders the HRM client's output: a BubbleTea dashboard on
// interactive terminals, plain text on pipes. Everything the program tells
// the user goes through the Displayer interface.
package tui

import (
	"fmt"
	"io"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all output from the HRM client. It is a superset of
// the API pipeline's event sink, so a Displayer can be wired directly into
// the client to narrate refresh-and-retry as it happens.
type Displayer interface {
	Banner()
	NoSession()
	SessionFound(name, role string)
	SessionExpiredByAge()
	LoggingIn(username string)
	LoginOK(name, role string)
	AuthRejected()
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
	Retrying()
	LoggedOut()
	Forbidden(role, section string)
	Notice(text string)
	Table(title string, rows []string)
	Fatal(err error)
}

// PlainDisplayer writes plain text to w. Used when stderr is not a TTY
// (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== HRM Portal ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) NoSession() {
	fmt.Fprintln(p.w, "Not logged in. Run: hrm-cli login")
}

func (p *PlainDisplayer) SessionFound(name, role string) {
	fmt.Fprintf(p.w, "Logged in as %s (%s)\n", name, role)
}

func (p *PlainDisplayer) SessionExpiredByAge() {
	fmt.Fprintln(p.w, "Session is older than 12 hours, logging out...")
}

func (p *PlainDisplayer) LoggingIn(username string) {
	fmt.Fprintf(p.w, "Logging in as %s...\n", username)
}

func (p *PlainDisplayer) LoginOK(name, role string) {
	fmt.Fprintf(p.w, "Welcome, %s! Role: %s\n", name, role)
}

func (p *PlainDisplayer) AuthRejected() {
	fmt.Fprintln(p.w, "Access token rejected (401), refreshing...")
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Refreshing access token...")
}

func (p *PlainDisplayer) RefreshOK() {
	fmt.Fprintln(p.w, "Token refreshed successfully!")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) Retrying() {
	fmt.Fprintln(p.w, "Token refreshed, retrying request...")
}

func (p *PlainDisplayer) LoggedOut() {
	fmt.Fprintln(p.w, "Logged out.")
}

func (p *PlainDisplayer) Forbidden(role, section string) {
	fmt.Fprintf(p.w, "Role %s has no access to %s.\n", role, section)
}

func (p *PlainDisplayer) Notice(text string) {
	fmt.Fprintln(p.w, text)
}

func (p *PlainDisplayer) Table(title string, rows []string) {
	fmt.Fprintf(p.w, "\n%s\n", title)
	fmt.Fprintln(p.w, "----------------------------------------")
	if len(rows) == 0 {
		fmt.Fprintln(p.w, "(nothing to show)")
	}
	for _, row := range rows {
		fmt.Fprintln(p.w, row)
	}
	fmt.Fprintln(p.w, "----------------------------------------")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                    {}
func (NoopDisplayer) NoSession()                 {}
func (NoopDisplayer) SessionFound(_, _ string)   {}
func (NoopDisplayer) SessionExpiredByAge()       {}
func (NoopDisplayer) LoggingIn(_ string)         {}
func (NoopDisplayer) LoginOK(_, _ string)        {}
func (NoopDisplayer) AuthRejected()              {}
func (NoopDisplayer) Refreshing()                {}
func (NoopDisplayer) RefreshOK()                 {}
func (NoopDisplayer) RefreshFailed(_ error)      {}
func (NoopDisplayer) Retrying()                  {}
func (NoopDisplayer) LoggedOut()                 {}
func (NoopDisplayer) Forbidden(_, _ string)      {}
func (NoopDisplayer) Notice(_ string)            {}
func (NoopDisplayer) Table(_ string, _ []string) {}
func (NoopDisplayer) Fatal(_ error)              {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) NoSession() {
	t.p.Send(MsgNoSession{})
}

func (t *ProgramDisplayer) SessionFound(name, role string) {
	t.p.Send(MsgSessionFound{Name: name, Role: role})
}

func (t *ProgramDisplayer) SessionExpiredByAge() {
	t.p.Send(MsgSessionExpiredByAge{})
}

func (t *ProgramDisplayer) LoggingIn(username string) {
	t.p.Send(MsgLoggingIn{Username: username})
}

func (t *ProgramDisplayer) LoginOK(name, role string) {
	t.p.Send(MsgLoginOK{Name: name, Role: role})
}

func (t *ProgramDisplayer) AuthRejected() {
	t.p.Send(MsgAuthRejected{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) Retrying() {
	t.p.Send(MsgRetrying{})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) Forbidden(role, section string) {
	t.p.Send(MsgForbidden{Role: role, Section: section})
}

func (t *ProgramDisplayer) Notice(text string) {
	t.p.Send(MsgNotice{Text: text})
}

func (t *ProgramDisplayer) Table(title string, rows []string) {
	t.p.Send(MsgTable{Title: title, Rows: rows})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
