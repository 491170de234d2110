// Package session orchestrates the authentication lifecycle: check
// the stored credential, host the embedded sign-in, extract and
// persist the token, hand off to the dashboard, and sign out.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerview/ledgerview/internal/bridge"
	"github.com/ledgerview/ledgerview/internal/browser"
	"github.com/ledgerview/ledgerview/internal/credstore"
	"github.com/ledgerview/ledgerview/internal/log"
)

// State is the controller's position in the authentication lifecycle.
type State string

const (
	StateBoot          State = "boot"
	StateSigningIn     State = "signing_in"
	StatePersisting    State = "persisting"
	StateAuthenticated State = "authenticated"
	StateClearing      State = "clearing"
)

// ShellFactory constructs the embedded browser. Called lazily: a warm
// launch with a stored token never constructs a shell.
type ShellFactory func(ctx context.Context) (browser.Shell, error)

// Dispatcher marshals a closure onto the UI context. Controller
// callbacks (authenticated, state change, notices) always cross it;
// everything else the controller does stays on worker goroutines.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// attempt is one embedded-browser sign-in session. Destroyed when a
// token is extracted or the shell goes away; never persisted.
type attempt struct {
	id        string
	url       string
	loading   bool
	polling   bool
	handedOff bool
	timer     *time.Timer
}

// Config wires a Controller.
type Config struct {
	Store     credstore.Store
	NewShell  ShellFactory
	SignInURL string

	// ExtractionTimeout, when positive, bounds how long one sign-in
	// attempt waits for a token before offering the user a retry.
	// There is no automatic retry.
	ExtractionTimeout time.Duration

	// Dispatcher delivers callbacks on the UI context. Nil means
	// callbacks run synchronously on the calling goroutine.
	Dispatcher Dispatcher
}

// Controller is the session state machine. It exclusively owns the
// embedded shell and is the only writer of the credential store.
type Controller struct {
	store             credstore.Store
	newShell          ShellFactory
	signInURL         string
	extractionTimeout time.Duration
	dispatcher        Dispatcher

	mu      sync.Mutex
	state   State
	token   string
	shell   browser.Shell
	channel *bridge.Channel
	current *attempt

	onAuthenticated []func(token string)
	onStateChange   []func(state State)
	onNotice        []func(notice Notice)

	runCtx context.Context
	fatal  chan error
}

func New(cfg Config) *Controller {
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = DispatcherFunc(func(fn func()) { fn() })
	}
	return &Controller{
		store:             cfg.Store,
		newShell:          cfg.NewShell,
		signInURL:         cfg.SignInURL,
		extractionTimeout: cfg.ExtractionTimeout,
		dispatcher:        dispatcher,
		state:             StateBoot,
		fatal:             make(chan error, 1),
	}
}

// SetDispatcher replaces the callback dispatcher. The UI program
// usually cannot exist before the controller it observes, so this must
// be called after construction but before Boot.
func (c *Controller) SetDispatcher(d Dispatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d != nil {
		c.dispatcher = d
	}
}

// OnAuthenticated registers a hand-off callback, fired on the UI
// context each time the machine enters Authenticated. Register before
// Boot.
func (c *Controller) OnAuthenticated(fn func(token string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAuthenticated = append(c.onAuthenticated, fn)
}

// OnStateChange registers a state observer, fired on the UI context.
func (c *Controller) OnStateChange(fn func(state State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = append(c.onStateChange, fn)
}

// OnNotice registers a user-visible notice callback, fired on the UI
// context.
func (c *Controller) OnNotice(fn func(notice Notice)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotice = append(c.onNotice, fn)
}

// State returns the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentToken reads through to the credential store. Absent is "".
func (c *Controller) CurrentToken() string {
	ctx := c.runContext()
	token, err := c.store.Load(ctx)
	if err != nil {
		log.LogWarnWithFields("session", "credential read failed", map[string]any{"error": err.Error()})
		return ""
	}
	return token
}

// Boot runs the entry decision: stored token present hands off
// immediately, otherwise the embedded sign-in starts. A shell
// construction failure is fatal.
func (c *Controller) Boot(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	token, err := c.store.Load(ctx)
	if err != nil {
		// An unreadable store boots like a first launch.
		log.LogWarnWithFields("session", "credential read failed, treating as absent", map[string]any{"error": err.Error()})
		token = ""
	}

	if token != "" {
		c.enterAuthenticated(token)
		return nil
	}
	return c.enterSigningIn(ctx)
}

// Run boots the machine and holds it until ctx is cancelled or the
// shell becomes unconstructable. The machine has no terminal state of
// its own.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Boot(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		c.teardownShell()
		return ctx.Err()
	case err := <-c.fatal:
		c.teardownShell()
		return err
	}
}

// SignOut forces the Authenticated → Clearing → SigningIn path.
// Ignored in any other state.
func (c *Controller) SignOut() {
	c.clearAndReprompt("signed out")
}

// CredentialRejected is the downstream's 401 signal. Routes through
// Clearing before any further hand-off.
func (c *Controller) CredentialRejected() {
	c.clearAndReprompt("credential rejected by API")
}

// Retry reloads the sign-in page after a timeout or a closed shell.
// Only meaningful in SigningIn.
func (c *Controller) Retry() {
	c.mu.Lock()
	if c.state != StateSigningIn {
		c.mu.Unlock()
		return
	}
	shell := c.shell
	c.mu.Unlock()

	if shell == nil {
		// The user closed the window; build a fresh one.
		if err := c.enterSigningIn(c.runContext()); err != nil {
			c.reportFatal(err)
		}
		return
	}

	c.mu.Lock()
	c.startAttemptLocked()
	c.mu.Unlock()
	if err := shell.Load(c.runContext(), c.signInURL); err != nil {
		log.LogErrorWithFields("session", "retry navigation failed", map[string]any{"error": err.Error()})
	}
}

func (c *Controller) clearAndReprompt(reason string) {
	c.mu.Lock()
	if c.state != StateAuthenticated {
		c.mu.Unlock()
		return
	}
	c.state = StateClearing
	c.token = ""
	c.mu.Unlock()
	c.notifyState(StateClearing)
	log.LogInfoWithFields("session", "clearing credential", map[string]any{"reason": reason})

	if err := c.store.Clear(c.runContext()); err != nil {
		// The token may linger on disk but this launch forgets it.
		log.LogErrorWithFields("session", "credential clear failed", map[string]any{"error": err.Error()})
		c.notify(Notice{Kind: NoticeStorageFailure, Message: "could not clear stored credential"})
	}

	if err := c.enterSigningIn(c.runContext()); err != nil {
		c.reportFatal(err)
	}
}

func (c *Controller) enterAuthenticated(token string) {
	c.mu.Lock()
	c.state = StateAuthenticated
	c.token = token
	callbacks := append([]func(string){}, c.onAuthenticated...)
	dispatcher := c.dispatcher
	c.mu.Unlock()

	c.notifyState(StateAuthenticated)
	dispatcher.Dispatch(func() {
		for _, fn := range callbacks {
			fn(token)
		}
	})
}

// enterSigningIn constructs the shell, scopes the bridge to the
// sign-in origin, and starts the first navigation.
func (c *Controller) enterSigningIn(ctx context.Context) error {
	shell, err := c.newShell(ctx)
	if err != nil {
		return fmt.Errorf("constructing sign-in shell: %w", err)
	}

	channel, err := bridge.NewChannel(shell, []string{c.signInURL}, c.handleToken)
	if err != nil {
		_ = shell.Close()
		return fmt.Errorf("installing bridge channel: %w", err)
	}

	c.mu.Lock()
	c.state = StateSigningIn
	c.shell = shell
	c.channel = channel
	c.startAttemptLocked()
	c.mu.Unlock()
	c.notifyState(StateSigningIn)

	go c.consumeEvents(shell, channel)

	if err := shell.Load(ctx, c.signInURL); err != nil {
		log.LogErrorWithFields("session", "sign-in navigation failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// startAttemptLocked begins a fresh sign-in attempt. Caller holds mu.
func (c *Controller) startAttemptLocked() {
	if c.current != nil && c.current.timer != nil {
		c.current.timer.Stop()
	}
	a := &attempt{
		id:      uuid.NewString(),
		url:     c.signInURL,
		polling: true,
	}
	c.current = a

	if c.extractionTimeout > 0 {
		id := a.id
		a.timer = time.AfterFunc(c.extractionTimeout, func() { c.attemptTimedOut(id) })
	}
}

func (c *Controller) attemptTimedOut(attemptID string) {
	c.mu.Lock()
	stale := c.state != StateSigningIn || c.current == nil || c.current.id != attemptID || c.current.handedOff
	c.mu.Unlock()
	if stale {
		return
	}
	c.notify(Notice{Kind: NoticeExtractionTimeout, Message: "sign-in is taking a while; retry when ready"})
}

// consumeEvents drains one shell's navigation stream. The bridge is
// reconciled on every event so only sign-in origins ever see the
// binding; the extractor runs after each completed load while the
// machine is still signing in.
func (c *Controller) consumeEvents(shell browser.Shell, channel *bridge.Channel) {
	for event := range shell.Events() {
		if err := channel.SyncOrigin(event.URL); err != nil {
			log.LogErrorWithFields("session", "bridge origin sync failed", map[string]any{
				"url":   event.URL,
				"error": err.Error(),
			})
		}

		c.mu.Lock()
		signingIn := c.state == StateSigningIn && c.shell == shell
		var polling bool
		if c.current != nil {
			switch event.Phase {
			case browser.NavStarted:
				c.current.loading = true
			case browser.NavFinished:
				c.current.loading = false
			}
			polling = c.current.polling
		}
		c.mu.Unlock()

		if event.Phase == browser.NavFinished && signingIn && polling {
			if err := shell.Eval(c.runContext(), bridge.ExtractorScript); err != nil {
				log.LogDebugWithFields("session", "extractor evaluation failed", map[string]any{"error": err.Error()})
			}
		}
	}

	// Stream closed: the shell is gone. If that happens mid sign-in
	// the user backed out; nothing was persisted, and the next launch
	// boots from scratch.
	c.mu.Lock()
	abandoned := c.state == StateSigningIn && c.shell == shell
	if abandoned {
		c.shell = nil
		c.channel = nil
	}
	c.mu.Unlock()
	if abandoned {
		c.notify(Notice{Kind: NoticeShellClosed, Message: "sign-in window closed before completing"})
	}
}

// handleToken is the bridge delivery point. It runs on a browser
// worker goroutine. Only the first non-empty token of an attempt is
// honored, and only while signing in.
func (c *Controller) handleToken(token string) {
	c.mu.Lock()
	if c.state != StateSigningIn {
		c.mu.Unlock()
		log.LogDebug("ignoring token outside sign-in")
		return
	}
	if token == "" {
		c.mu.Unlock()
		return
	}
	if c.current == nil || c.current.handedOff {
		c.mu.Unlock()
		log.LogDebug("ignoring duplicate token hand-off")
		return
	}
	c.current.handedOff = true
	c.current.polling = false
	c.state = StatePersisting
	c.mu.Unlock()
	c.notifyState(StatePersisting)

	// The write stays on this worker goroutine; it may block briefly
	// and must never run on the UI context.
	if err := c.store.Save(c.runContext(), token); err != nil {
		log.LogErrorWithFields("session", "credential save failed", map[string]any{"error": err.Error()})
		c.mu.Lock()
		c.state = StateSigningIn
		if c.current != nil {
			c.current.handedOff = false
			c.current.polling = true
		}
		c.mu.Unlock()
		c.notifyState(StateSigningIn)
		c.notify(Notice{Kind: NoticeStorageFailure, Message: "could not save credential; please sign in again"})
		return
	}

	c.mu.Lock()
	shell := c.shell
	c.shell = nil
	c.channel = nil
	c.current = nil
	c.mu.Unlock()
	if shell != nil {
		_ = shell.Close()
	}

	c.enterAuthenticated(token)
}

func (c *Controller) teardownShell() {
	c.mu.Lock()
	shell := c.shell
	c.shell = nil
	c.channel = nil
	if c.current != nil && c.current.timer != nil {
		c.current.timer.Stop()
	}
	c.current = nil
	c.mu.Unlock()
	if shell != nil {
		_ = shell.Close()
	}
}

func (c *Controller) reportFatal(err error) {
	if errors.Is(err, browser.ErrUnavailable) {
		log.LogError("embedded browser unavailable: %v", err)
	}
	select {
	case c.fatal <- err:
	default:
	}
}

func (c *Controller) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx != nil {
		return c.runCtx
	}
	return context.Background()
}

func (c *Controller) notifyState(state State) {
	c.mu.Lock()
	callbacks := append([]func(State){}, c.onStateChange...)
	dispatcher := c.dispatcher
	c.mu.Unlock()
	dispatcher.Dispatch(func() {
		for _, fn := range callbacks {
			fn(state)
		}
	})
}

func (c *Controller) notify(notice Notice) {
	c.mu.Lock()
	callbacks := append([]func(Notice){}, c.onNotice...)
	dispatcher := c.dispatcher
	c.mu.Unlock()
	dispatcher.Dispatch(func() {
		for _, fn := range callbacks {
			fn(notice)
		}
	})
}
