package bridge

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerview/ledgerview/internal/browser"
)

// fakeShell records binding installs and removals.
type fakeShell struct {
	mu       sync.Mutex
	bindings map[string]browser.BindingFunc
	binds    int
	unbinds  int
}

func newFakeShell() *fakeShell {
	return &fakeShell{bindings: make(map[string]browser.BindingFunc)}
}

func (f *fakeShell) Load(ctx context.Context, url string) error   { return nil }
func (f *fakeShell) Eval(ctx context.Context, script string) error { return nil }
func (f *fakeShell) Events() <-chan browser.NavEvent              { return nil }
func (f *fakeShell) Close() error                                 { return nil }

func (f *fakeShell) Bind(name string, fn browser.BindingFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[name] = fn
	f.binds++
	return nil
}

func (f *fakeShell) Unbind(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bindings, name)
	f.unbinds++
	return nil
}

func (f *fakeShell) bound(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bindings[name]
	return ok
}

func (f *fakeShell) call(name, payload string) {
	f.mu.Lock()
	fn := f.bindings[name]
	f.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func TestDecode(t *testing.T) {
	t.Run("valid token message", func(t *testing.T) {
		msg, err := Decode(`{"kind": "token", "value": "tok-123"}`)
		require.NoError(t, err)
		assert.Equal(t, "tok-123", msg.Value)
	})

	t.Run("empty value is still valid", func(t *testing.T) {
		msg, err := Decode(`{"kind": "token", "value": ""}`)
		require.NoError(t, err)
		assert.Empty(t, msg.Value)
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		_, err := Decode(`{"kind": "cookie", "value": "x"}`)
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		_, err := Decode(`tok-123`)
		assert.Error(t, err)
	})
}

func TestChannelOriginScoping(t *testing.T) {
	shell := newFakeShell()
	var tokens []string
	channel, err := NewChannel(shell, []string{"https://accounts.example.com/sign-in"}, func(token string) {
		tokens = append(tokens, token)
	})
	require.NoError(t, err)

	t.Run("not installed before any navigation", func(t *testing.T) {
		assert.False(t, channel.Installed())
		assert.False(t, shell.bound(BindingName))
	})

	t.Run("installed on sign-in origin", func(t *testing.T) {
		require.NoError(t, channel.SyncOrigin("https://accounts.example.com/sign-in?redirect=/"))
		assert.True(t, channel.Installed())
		assert.True(t, shell.bound(BindingName))
	})

	t.Run("idempotent while on origin", func(t *testing.T) {
		require.NoError(t, channel.SyncOrigin("https://accounts.example.com/sign-in/factor-two"))
		assert.Equal(t, 1, shell.binds)
	})

	t.Run("removed on identity-provider redirect", func(t *testing.T) {
		require.NoError(t, channel.SyncOrigin("https://idp.example.net/authorize"))
		assert.False(t, channel.Installed())
		assert.False(t, shell.bound(BindingName))
	})

	t.Run("reinstalled on return", func(t *testing.T) {
		require.NoError(t, channel.SyncOrigin("https://accounts.example.com/sign-in"))
		assert.True(t, shell.bound(BindingName))
		assert.Equal(t, 2, shell.binds)
	})

	t.Run("scheme mismatch is off-origin", func(t *testing.T) {
		require.NoError(t, channel.SyncOrigin("http://accounts.example.com/sign-in"))
		assert.False(t, channel.Installed())
	})

	assert.Empty(t, tokens)
}

func TestChannelMessageHandling(t *testing.T) {
	shell := newFakeShell()
	var tokens []string
	channel, err := NewChannel(shell, []string{"https://accounts.example.com/sign-in"}, func(token string) {
		tokens = append(tokens, token)
	})
	require.NoError(t, err)
	require.NoError(t, channel.SyncOrigin("https://accounts.example.com/sign-in"))

	t.Run("token message forwarded", func(t *testing.T) {
		shell.call(BindingName, `{"kind": "token", "value": "tok-123"}`)
		assert.Equal(t, []string{"tok-123"}, tokens)
	})

	t.Run("unknown kind dropped", func(t *testing.T) {
		shell.call(BindingName, `{"kind": "session", "value": "x"}`)
		assert.Equal(t, []string{"tok-123"}, tokens)
	})

	t.Run("garbage dropped", func(t *testing.T) {
		shell.call(BindingName, `not json at all`)
		assert.Equal(t, []string{"tok-123"}, tokens)
	})

	t.Run("empty token forwarded for the controller to ignore", func(t *testing.T) {
		shell.call(BindingName, `{"kind": "token", "value": ""}`)
		assert.Equal(t, []string{"tok-123", ""}, tokens)
	})
}

func TestNewChannelRejectsBadURL(t *testing.T) {
	_, err := NewChannel(newFakeShell(), []string{"/sign-in"}, func(string) {})
	assert.Error(t, err)
}

func TestExtractorScriptProtocol(t *testing.T) {
	// The script and the host agree on the binding name and message
	// schema by convention; these assertions pin the convention.
	assert.Contains(t, ExtractorScript, "window."+BindingName)
	assert.Contains(t, ExtractorScript, `kind: "token"`)
	assert.True(t, strings.HasPrefix(ExtractorScript, "() =>"))
}
