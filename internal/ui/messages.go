package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ledgerview/ledgerview/internal/api"
	"github.com/ledgerview/ledgerview/internal/session"
)

// AuthenticatedMsg announces a hand-off from the session controller.
type AuthenticatedMsg struct {
	Token string
}

// StateChangedMsg mirrors controller state transitions.
type StateChangedMsg struct {
	State session.State
}

// NoticeMsg surfaces a controller notice.
type NoticeMsg struct {
	Notice session.Notice
}

// execMsg carries a closure onto the program's update loop. It is how
// ProgramDispatcher serializes controller callbacks with every other
// view mutation.
type execMsg struct {
	fn func()
}

type dashboardLoadedMsg struct {
	dashboard *api.Dashboard
}

type dashboardErrMsg struct {
	err error
}

// Sender is the part of tea.Program the dispatcher needs.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgramDispatcher implements session.Dispatcher on top of a running
// bubbletea program: dispatched closures execute inside Update, never
// on the controller's worker goroutines.
type ProgramDispatcher struct {
	Program Sender
}

func (d ProgramDispatcher) Dispatch(fn func()) {
	d.Program.Send(execMsg{fn: fn})
}
