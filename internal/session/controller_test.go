package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerview/ledgerview/internal/bridge"
	"github.com/ledgerview/ledgerview/internal/browser"
	"github.com/ledgerview/ledgerview/internal/credstore"
	"github.com/ledgerview/ledgerview/internal/testutil"
)

const signInURL = "https://accounts.example.com/sign-in"

func tokenPayload(token string) string {
	return fmt.Sprintf(`{"kind": "token", "value": %q}`, token)
}

// harness wires a controller against scripted collaborators.
type harness struct {
	store      *testutil.FlakyStore
	dispatcher *testutil.ManualDispatcher
	controller *Controller

	mu           sync.Mutex
	shells       []*testutil.ScriptedShell
	authTokens   []string
	notices      []Notice
	shellFailure error
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		store:      testutil.NewFlakyStore(),
		dispatcher: testutil.NewManualDispatcher(),
	}
	h.controller = New(Config{
		Store:             h.store,
		SignInURL:         signInURL,
		ExtractionTimeout: timeout,
		Dispatcher:        h.dispatcher,
		NewShell: func(ctx context.Context) (browser.Shell, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.shellFailure != nil {
				return nil, h.shellFailure
			}
			shell := testutil.NewScriptedShell()
			h.shells = append(h.shells, shell)
			return shell, nil
		},
	})
	h.controller.OnAuthenticated(func(token string) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.authTokens = append(h.authTokens, token)
	})
	h.controller.OnNotice(func(notice Notice) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.notices = append(h.notices, notice)
	})
	return h
}

func (h *harness) shellCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.shells)
}

func (h *harness) shell(i int) *testutil.ScriptedShell {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shells[i]
}

func (h *harness) authenticated() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.authTokens...)
}

func (h *harness) noticeKinds() []NoticeKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	kinds := make([]NoticeKind, 0, len(h.notices))
	for _, n := range h.notices {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

// signInPage drives one full navigation to the sign-in origin and
// waits until the bridge binding is present.
func (h *harness) signInPage(t *testing.T, shell *testutil.ScriptedShell) {
	t.Helper()
	shell.EmitNav(browser.NavStarted, signInURL)
	shell.EmitNav(browser.NavFinished, signInURL)
	require.Eventually(t, func() bool {
		return shell.Bound(bridge.BindingName)
	}, time.Second, 5*time.Millisecond, "bridge binding never installed")
}

func TestColdSignIn(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	require.NoError(t, h.controller.Boot(ctx))
	assert.Equal(t, StateSigningIn, h.controller.State())
	require.Equal(t, 1, h.shellCount())

	shell := h.shell(0)
	assert.Equal(t, []string{signInURL}, shell.Loads())

	// Two page loads before the session produces a token.
	h.signInPage(t, shell)
	shell.EmitNav(browser.NavStarted, signInURL+"/factor-two")
	shell.EmitNav(browser.NavFinished, signInURL+"/factor-two")
	require.Eventually(t, func() bool { return shell.EvalCount() == 2 }, time.Second, 5*time.Millisecond)

	require.True(t, shell.Call(bridge.BindingName, tokenPayload("tok-123")))

	token, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
	assert.Equal(t, StateAuthenticated, h.controller.State())
	assert.True(t, shell.Closed())

	h.dispatcher.Drain()
	assert.Equal(t, []string{"tok-123"}, h.authenticated())
}

func TestWarmLaunchSkipsShell(t *testing.T) {
	h := newHarness(t, 0)
	h.store.Seed("tok-xyz")

	require.NoError(t, h.controller.Boot(context.Background()))
	h.dispatcher.Drain()

	assert.Equal(t, StateAuthenticated, h.controller.State())
	assert.Equal(t, []string{"tok-xyz"}, h.authenticated())
	assert.Zero(t, h.shellCount(), "embedded browser must not be constructed on warm launch")
}

func TestUnreadableStoreBootsCold(t *testing.T) {
	h := newHarness(t, 0)
	h.store.Seed("tok-hidden")
	h.store.FailLoad = true

	require.NoError(t, h.controller.Boot(context.Background()))

	assert.Equal(t, StateSigningIn, h.controller.State())
	assert.Equal(t, 1, h.shellCount())
}

func TestDoubleHandOffHonorsFirstToken(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	require.NoError(t, h.controller.Boot(ctx))

	shell := h.shell(0)
	h.signInPage(t, shell)

	require.True(t, shell.Call(bridge.BindingName, tokenPayload("A")))
	// The shell is torn down after the first hand-off; play a
	// straggling duplicate directly against the binding regardless.
	shell.Call(bridge.BindingName, tokenPayload("B"))

	token, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", token)
	assert.Equal(t, 1, h.store.SaveCalls)

	h.dispatcher.Drain()
	assert.Equal(t, []string{"A"}, h.authenticated())
}

func TestRejectedCredentialClearsAndReprompts(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.store.Seed("tok-old")
	require.NoError(t, h.controller.Boot(ctx))
	h.dispatcher.Drain()

	h.controller.CredentialRejected()

	token, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Equal(t, StateSigningIn, h.controller.State())
	require.Equal(t, 1, h.shellCount())

	// A fresh sign-in produces a new credential.
	shell := h.shell(0)
	h.signInPage(t, shell)
	require.True(t, shell.Call(bridge.BindingName, tokenPayload("tok-new")))

	token, err = h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-new", token)

	h.dispatcher.Drain()
	assert.Equal(t, []string{"tok-old", "tok-new"}, h.authenticated())
}

func TestSignOut(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.store.Seed("tok-xyz")
	require.NoError(t, h.controller.Boot(ctx))
	h.dispatcher.Drain()

	h.controller.SignOut()

	token, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Equal(t, StateSigningIn, h.controller.State())
	assert.Empty(t, h.controller.CurrentToken())
}

func TestSignOutIgnoredWhileSigningIn(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.controller.Boot(context.Background()))

	h.controller.SignOut()

	assert.Equal(t, StateSigningIn, h.controller.State())
	assert.Zero(t, h.store.ClearCalls)
	assert.Equal(t, 1, h.shellCount())
}

func TestEmptyTokenIgnored(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	require.NoError(t, h.controller.Boot(ctx))

	shell := h.shell(0)
	h.signInPage(t, shell)
	require.True(t, shell.Call(bridge.BindingName, tokenPayload("")))

	assert.Equal(t, StateSigningIn, h.controller.State())
	assert.Zero(t, h.store.SaveCalls)
	h.dispatcher.Drain()
	assert.Empty(t, h.authenticated())
}

func TestTokenOutsideSigningInIgnored(t *testing.T) {
	h := newHarness(t, 0)
	h.store.Seed("tok-xyz")
	require.NoError(t, h.controller.Boot(context.Background()))
	h.dispatcher.Drain()

	h.controller.handleToken("tok-unexpected")

	assert.Equal(t, StateAuthenticated, h.controller.State())
	assert.Zero(t, h.store.SaveCalls)
	assert.Equal(t, []string{"tok-xyz"}, h.authenticated())
}

func TestStorageFailureRepromptsWithoutStaleToken(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	require.NoError(t, h.controller.Boot(ctx))

	shell := h.shell(0)
	h.signInPage(t, shell)

	h.store.SetFailSave(true)
	require.True(t, shell.Call(bridge.BindingName, tokenPayload("tok-x")))

	assert.Equal(t, StateSigningIn, h.controller.State())
	token, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	h.dispatcher.Drain()
	assert.Empty(t, h.authenticated())
	assert.Contains(t, h.noticeKinds(), NoticeStorageFailure)

	// Once storage recovers the same attempt can hand off again.
	h.store.SetFailSave(false)
	require.True(t, shell.Call(bridge.BindingName, tokenPayload("tok-x")))

	token, err = h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-x", token)
	h.dispatcher.Drain()
	assert.Equal(t, []string{"tok-x"}, h.authenticated())
}

func TestHandOffCrossesDispatcher(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.controller.Boot(context.Background()))

	shell := h.shell(0)
	h.signInPage(t, shell)
	require.True(t, shell.Call(bridge.BindingName, tokenPayload("tok-123")))

	// The worker delivered the token, but nothing user-visible may
	// happen until the UI context runs the dispatched closures.
	assert.Empty(t, h.authenticated())
	assert.Greater(t, h.dispatcher.Pending(), 0)

	h.dispatcher.Drain()
	assert.Equal(t, []string{"tok-123"}, h.authenticated())
}

func TestBridgeAbsentOffOrigin(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.controller.Boot(context.Background()))

	shell := h.shell(0)
	h.signInPage(t, shell)

	// Federated identity provider redirect leaves the sign-in origin.
	// The commit event alone must strip the binding: the foreign
	// document's scripts run before load-finish, so waiting for it
	// would hand them a live bridge.
	shell.EmitNav(browser.NavStarted, "https://idp.example.net/authorize")
	require.Eventually(t, func() bool {
		return !shell.Bound(bridge.BindingName)
	}, time.Second, 5*time.Millisecond, "binding must be removed at navigation commit")

	assert.False(t, shell.Call(bridge.BindingName, tokenPayload("stolen")))

	shell.EmitNav(browser.NavFinished, "https://idp.example.net/authorize")
	assert.False(t, shell.Call(bridge.BindingName, tokenPayload("stolen")))
	assert.Zero(t, h.store.SaveCalls)
}

func TestExtractionTimeoutOffersRetry(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	require.NoError(t, h.controller.Boot(context.Background()))

	require.Eventually(t, func() bool {
		h.dispatcher.Drain()
		for _, kind := range h.noticeKinds() {
			if kind == NoticeExtractionTimeout {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// No automatic retry: still one shell, still signing in.
	assert.Equal(t, StateSigningIn, h.controller.State())
	assert.Equal(t, 1, h.shellCount())
	assert.Equal(t, []string{signInURL}, h.shell(0).Loads())
}

func TestRetryAfterShellClosed(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.controller.Boot(context.Background()))

	shell := h.shell(0)
	require.NoError(t, shell.Close())

	require.Eventually(t, func() bool {
		h.dispatcher.Drain()
		for _, kind := range h.noticeKinds() {
			if kind == NoticeShellClosed {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateSigningIn, h.controller.State())

	h.controller.Retry()
	assert.Equal(t, 2, h.shellCount())
	assert.Equal(t, []string{signInURL}, h.shell(1).Loads())
}

func TestRunHaltsWhenShellUnavailable(t *testing.T) {
	h := newHarness(t, 0)
	h.mu.Lock()
	h.shellFailure = fmt.Errorf("%w: no chromium on host", browser.ErrUnavailable)
	h.mu.Unlock()

	err := h.controller.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrUnavailable)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newHarness(t, 0)
	h.store.Seed("tok-xyz")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.controller.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestCurrentTokenReadsThrough(t *testing.T) {
	h := newHarness(t, 0)
	h.store.Seed("tok-xyz")
	require.NoError(t, h.controller.Boot(context.Background()))

	assert.Equal(t, "tok-xyz", h.controller.CurrentToken())

	h.store.FailLoad = true
	assert.Empty(t, h.controller.CurrentToken())
}

var _ credstore.Store = (*testutil.FlakyStore)(nil)
