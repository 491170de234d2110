// Package testutil provides shared test doubles for the session
// machinery: a scriptable shell, a failure-injecting store, and a
// manually pumped dispatcher standing in for the UI loop.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/ledgerview/ledgerview/internal/browser"
	"github.com/ledgerview/ledgerview/internal/credstore"
)

// Ensure fakes satisfy the real contracts
var _ browser.Shell = (*ScriptedShell)(nil)
var _ credstore.Store = (*FlakyStore)(nil)

// ScriptedShell is an in-memory browser.Shell. Tests script
// navigation with EmitNav and play the page's side of the bridge with
// Call.
type ScriptedShell struct {
	mu       sync.Mutex
	bindings map[string]browser.BindingFunc
	events   chan browser.NavEvent
	loads    []string
	evals    []string
	binds    int
	unbinds  int
	closed   bool
}

func NewScriptedShell() *ScriptedShell {
	return &ScriptedShell{
		bindings: make(map[string]browser.BindingFunc),
		events:   make(chan browser.NavEvent, 32),
	}
}

func (s *ScriptedShell) Load(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads = append(s.loads, url)
	return nil
}

func (s *ScriptedShell) Eval(ctx context.Context, script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals = append(s.evals, script)
	return nil
}

func (s *ScriptedShell) Bind(name string, fn browser.BindingFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bindings[name]; exists {
		return fmt.Errorf("binding %q already installed", name)
	}
	s.bindings[name] = fn
	s.binds++
	return nil
}

func (s *ScriptedShell) Unbind(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, name)
	s.unbinds++
	return nil
}

func (s *ScriptedShell) Events() <-chan browser.NavEvent { return s.events }

func (s *ScriptedShell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// EmitNav scripts one navigation event.
func (s *ScriptedShell) EmitNav(phase browser.NavPhase, url string) {
	s.events <- browser.NavEvent{Phase: phase, URL: url}
}

// Call plays a page-side invocation of a bound function. Returns
// false when the binding is absent, mirroring a page that cannot see
// the bridge.
func (s *ScriptedShell) Call(name, payload string) bool {
	s.mu.Lock()
	fn, ok := s.bindings[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	fn(payload)
	return true
}

func (s *ScriptedShell) Bound(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bindings[name]
	return ok
}

func (s *ScriptedShell) Loads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.loads...)
}

func (s *ScriptedShell) EvalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.evals)
}

func (s *ScriptedShell) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FlakyStore wraps an in-memory credential store with per-operation
// failure injection and call counting.
type FlakyStore struct {
	mu         sync.Mutex
	token      string
	FailLoad   bool
	FailSave   bool
	FailClear  bool
	LoadCalls  int
	SaveCalls  int
	ClearCalls int
}

func NewFlakyStore() *FlakyStore {
	return &FlakyStore{}
}

// Seed places a token without counting as a Save.
func (s *FlakyStore) Seed(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *FlakyStore) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoadCalls++
	if s.FailLoad {
		return "", fmt.Errorf("%w: injected load failure", credstore.ErrUnavailable)
	}
	return s.token, nil
}

func (s *FlakyStore) Save(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls++
	if token == "" {
		return credstore.ErrEmptyToken
	}
	if s.FailSave {
		return fmt.Errorf("%w: injected save failure", credstore.ErrUnavailable)
	}
	s.token = token
	return nil
}

func (s *FlakyStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClearCalls++
	if s.FailClear {
		return fmt.Errorf("%w: injected clear failure", credstore.ErrUnavailable)
	}
	s.token = ""
	return nil
}

// SetFailSave toggles save failure injection.
func (s *FlakyStore) SetFailSave(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailSave = fail
}

// ManualDispatcher queues dispatched closures until Drain, standing in
// for a UI loop that runs them serially.
type ManualDispatcher struct {
	mu    sync.Mutex
	queue []func()
}

func NewManualDispatcher() *ManualDispatcher {
	return &ManualDispatcher{}
}

func (d *ManualDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, fn)
}

// Drain runs everything queued, including closures queued while
// draining, and reports how many ran.
func (d *ManualDispatcher) Drain() int {
	ran := 0
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return ran
		}
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		fn()
		ran++
	}
}

func (d *ManualDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}
