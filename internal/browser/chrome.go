package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/ledgerview/ledgerview/internal/log"
)

// Options configures the Chromium instance backing a ChromeShell.
type Options struct {
	// UserAgent replaces Chromium's default identifier. The sign-in
	// provider blocks requests that look like an embedded browser, so
	// this has to be a regular desktop or mobile identifier.
	UserAgent string

	// ProfileDir is the persistent user-data-dir. Cookies, including
	// the third-party ones the sign-in provider federates across
	// origins, live here between runs. Empty means a throwaway
	// profile.
	ProfileDir string

	// Headless hides the window. Interactive sign-in needs a visible
	// window, so this is normally false.
	Headless bool

	// Bin overrides the Chromium binary. Empty lets the launcher
	// locate or download one.
	Bin string
}

// Ensure ChromeShell implements Shell
var _ Shell = (*ChromeShell)(nil)

// ChromeShell drives one Chromium page over the DevTools protocol.
type ChromeShell struct {
	browser *rod.Browser
	page    *rod.Page
	events  chan NavEvent
	cancel  context.CancelFunc

	mu       sync.Mutex
	bindings map[string]func() error // binding name -> uninstall
	lastURL  string
	closed   bool
}

// NewChromeShell launches Chromium and opens a blank page. Scripting
// and DOM storage are on by default under CDP control; cookies persist
// through opts.ProfileDir.
func NewChromeShell(ctx context.Context, opts Options) (*ChromeShell, error) {
	l := launcher.New().Headless(opts.Headless)
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: launching chromium: %v", ErrUnavailable, err)
	}

	shellCtx, cancel := context.WithCancel(ctx)
	b := rod.New().ControlURL(controlURL).Context(shellCtx)
	if err := b.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: connecting to chromium: %v", ErrUnavailable, err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		cancel()
		_ = b.Close()
		return nil, fmt.Errorf("%w: opening page: %v", ErrUnavailable, err)
	}

	if opts.UserAgent != "" {
		ua := proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}
		if err := ua.Call(page); err != nil {
			cancel()
			_ = b.Close()
			return nil, fmt.Errorf("%w: overriding user agent: %v", ErrUnavailable, err)
		}
	}

	s := &ChromeShell{
		browser:  b,
		page:     page,
		events:   make(chan NavEvent, 16),
		cancel:   cancel,
		bindings: make(map[string]func() error),
	}
	go s.pumpEvents()
	return s, nil
}

// pumpEvents translates CDP frame events into the started/finished
// pairs the Shell contract promises. Only the top-level frame counts;
// iframes inside the sign-in page are invisible to callers.
//
// NavStarted is emitted at frame-navigated, not frame-started-loading:
// frame-started-loading fires before the target URL is known, and a
// stale URL here would let a page-initiated redirect carry the bridge
// binding onto a foreign origin until load-finish. Frame-navigated is
// the commit point, before the new document's scripts run, so origin
// consumers can react while the foreign page is still inert.
func (s *ChromeShell) pumpEvents() {
	defer close(s.events)

	wait := s.page.EachEvent(
		func(e *proto.PageFrameNavigated) {
			if e.Frame.ID != s.page.FrameID {
				return
			}
			s.setCurrentURL(e.Frame.URL)
			s.emit(NavEvent{Phase: NavStarted, URL: e.Frame.URL})
		},
		func(e *proto.PageLoadEventFired) {
			// Load events are page-scoped, so there is no frame ID to
			// filter on; only the top-level frame ever fires this.
			s.emit(NavEvent{Phase: NavFinished, URL: s.currentURL()})
		},
	)
	wait()
}

func (s *ChromeShell) emit(event NavEvent) {
	select {
	case s.events <- event:
	default:
		// The controller drains promptly; a full buffer means it is
		// gone, and blocking here would wedge the CDP event loop.
		log.LogWarnWithFields("browser", "dropping navigation event", map[string]any{
			"phase": event.Phase.String(),
			"url":   event.URL,
		})
	}
}

func (s *ChromeShell) currentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastURL
}

func (s *ChromeShell) setCurrentURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastURL = url
}

func (s *ChromeShell) Load(ctx context.Context, url string) error {
	s.setCurrentURL(url)
	if err := s.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (s *ChromeShell) Eval(ctx context.Context, script string) error {
	_, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      script,
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("evaluating script: %w", err)
	}
	return nil
}

// Bind exposes fn as window.<name>. Rod registers the binding and an
// on-new-document script, so the function exists before page scripts
// run on every subsequent navigation.
func (s *ChromeShell) Bind(name string, fn BindingFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bindings[name]; exists {
		return fmt.Errorf("binding %q already installed", name)
	}

	stop, err := s.page.Expose(name, func(g gson.JSON) (any, error) {
		fn(g.Str())
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("installing binding %q: %w", name, err)
	}
	s.bindings[name] = stop
	return nil
}

func (s *ChromeShell) Unbind(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stop, ok := s.bindings[name]
	if !ok {
		return nil
	}
	delete(s.bindings, name)
	if err := stop(); err != nil {
		return fmt.Errorf("removing binding %q: %w", name, err)
	}
	return nil
}

func (s *ChromeShell) Events() <-chan NavEvent {
	return s.events
}

func (s *ChromeShell) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if err := s.browser.Close(); err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}
	return nil
}
