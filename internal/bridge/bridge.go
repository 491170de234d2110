// Package bridge is the conduit between the host and the sign-in page.
//
// The page talks back through one named binding carrying a typed JSON
// message; the host injects the token-extractor script. The binding is
// installed only while the page is on a configured sign-in origin.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ledgerview/ledgerview/internal/browser"
	"github.com/ledgerview/ledgerview/internal/log"
	"github.com/ledgerview/ledgerview/internal/urlutil"
)

// BindingName is the host object the page invokes. Fixed by protocol
// with the extractor script; changing one without the other severs the
// channel.
const BindingName = "ledgerviewHost"

// KindToken is the only inbound message kind.
const KindToken = "token"

// ErrUnknownKind is returned for well-formed messages of a kind the
// host does not speak.
var ErrUnknownKind = errors.New("unknown bridge message kind")

// Message is the schema crossing the page→host boundary.
type Message struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Decode parses and validates one binding payload.
func Decode(payload string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return Message{}, fmt.Errorf("malformed bridge message: %w", err)
	}
	if msg.Kind != KindToken {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	return msg, nil
}

// TokenFunc receives the extracted token value. It runs on a browser
// worker goroutine. The value may be empty; the caller decides what
// empty means.
type TokenFunc func(token string)

// Channel owns the binding lifecycle on one shell.
type Channel struct {
	shell   browser.Shell
	allowed map[string]struct{}
	onToken TokenFunc

	mu        sync.Mutex
	installed bool
}

// NewChannel scopes the bridge to the origins of the given URLs.
// Nothing is installed until the first SyncOrigin lands on one of
// them.
func NewChannel(shell browser.Shell, signInURLs []string, onToken TokenFunc) (*Channel, error) {
	allowed := make(map[string]struct{}, len(signInURLs))
	for _, raw := range signInURLs {
		origin, err := urlutil.Origin(raw)
		if err != nil {
			return nil, fmt.Errorf("sign-in URL %q: %w", raw, err)
		}
		allowed[origin] = struct{}{}
	}
	return &Channel{shell: shell, allowed: allowed, onToken: onToken}, nil
}

// Allowed reports whether url is on a configured sign-in origin.
func (c *Channel) Allowed(url string) bool {
	origin, err := urlutil.Origin(url)
	if err != nil {
		return false
	}
	_, ok := c.allowed[origin]
	return ok
}

// SyncOrigin reconciles the binding with the page's current location:
// installed on sign-in origins, absent everywhere else. Called on
// every navigation event so identity-provider redirects never see the
// binding.
func (c *Channel) SyncOrigin(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Allowed(url) {
		if c.installed {
			return nil
		}
		if err := c.shell.Bind(BindingName, c.handle); err != nil {
			return fmt.Errorf("installing bridge: %w", err)
		}
		c.installed = true
		log.LogDebugWithFields("bridge", "binding installed", map[string]any{"url": url})
		return nil
	}

	if !c.installed {
		return nil
	}
	if err := c.shell.Unbind(BindingName); err != nil {
		return fmt.Errorf("removing bridge: %w", err)
	}
	c.installed = false
	log.LogDebugWithFields("bridge", "binding removed off-origin", map[string]any{"url": url})
	return nil
}

// Installed reports whether the binding is currently present.
func (c *Channel) Installed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installed
}

// handle validates one page call and forwards the token value.
// Malformed or unknown messages are dropped here; they never become
// state-machine inputs.
func (c *Channel) handle(payload string) {
	msg, err := Decode(payload)
	if err != nil {
		log.LogWarnWithFields("bridge", "dropping bridge message", map[string]any{"error": err.Error()})
		return
	}
	c.onToken(msg.Value)
}
