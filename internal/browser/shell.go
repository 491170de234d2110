// Package browser hosts remote web content inside the client.
//
// The Shell abstraction is what the session controller programs
// against; ChromeShell drives a real Chromium over the DevTools
// protocol.
package browser

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when an embedded browser cannot be
// constructed. There is no fallback; the caller surfaces it and halts.
var ErrUnavailable = errors.New("embedded browser unavailable")

// NavPhase distinguishes the two observable navigation events.
type NavPhase int

const (
	// NavStarted fires once when a top-level navigation commits. It
	// carries the committed URL and is delivered before the new
	// document's scripts run.
	NavStarted NavPhase = iota
	// NavFinished fires once when that navigation's load completes.
	NavFinished
)

func (p NavPhase) String() string {
	if p == NavStarted {
		return "started"
	}
	return "finished"
}

// NavEvent is delivered on the shell's event stream. For each
// top-level navigation the shell delivers exactly one NavStarted
// followed by exactly one NavFinished.
type NavEvent struct {
	Phase NavPhase
	URL   string
}

// BindingFunc receives the single string argument of a page-side
// binding call. It runs on a browser worker goroutine, never the UI
// context.
type BindingFunc func(payload string)

// Shell is a sandboxed renderer under the client's control.
type Shell interface {
	// Load starts a top-level navigation.
	Load(ctx context.Context, url string) error

	// Eval runs a script (an arrow-function expression) in the page.
	Eval(ctx context.Context, script string) error

	// Bind installs a named function into the page's global scope,
	// present before page scripts execute. Page calls are delivered
	// to fn.
	Bind(name string, fn BindingFunc) error

	// Unbind removes a previously installed binding.
	Unbind(name string) error

	// Events returns the navigation event stream. Closed on Close.
	Events() <-chan NavEvent

	// Close tears the browser down. Safe to call more than once.
	Close() error
}
