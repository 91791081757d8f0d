// Package pagetest provides scriptable page sessions for tests. DOM reads
// are served from canned HTML; navigations and interactions are recorded.
package pagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/offerwatch/internal/page"
	"github.com/JakeFAU/offerwatch/internal/page/static"
)

// Session is a recording page.Session backed by canned pages.
type Session struct {
	mu          sync.Mutex
	pages       map[string]string
	onClick     map[string]func(*Session)
	doc         *static.Session
	current     string
	failure     error
	closed      bool
	navigations []string
	clicks      []string
	typed       []string
	calls       int
}

// NewSession returns a session that serves pages keyed by URL.
func NewSession(pages map[string]string) *Session {
	cp := make(map[string]string, len(pages))
	for url, html := range pages {
		cp[url] = html
	}
	return &Session{pages: cp, onClick: make(map[string]func(*Session))}
}

// SetPage registers or replaces the HTML served for url.
func (s *Session) SetPage(url, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = html
}

// Load swaps the current document without recording a navigation.
func (s *Session) Load(url, html string) error {
	doc, err := static.NewFromHTML(url, html)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.current = url
	return nil
}

// OnClick runs fn when an element found with selector sel is clicked.
func (s *Session) OnClick(sel string, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClick[sel] = fn
}

// FailWith makes every later operation return err.
func (s *Session) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Navigations lists the URLs navigated to, in order.
func (s *Session) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Clicks lists the selectors of clicked elements, in order.
func (s *Session) Clicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

// Typed lists the text sent to elements, in order.
func (s *Session) Typed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.typed...)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) check() (*static.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, page.ErrSessionLost
	}
	if s.failure != nil {
		return nil, s.failure
	}
	return s.doc, nil
}

// Navigate loads the canned page for url.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if _, err := s.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.navigations = append(s.navigations, url)
	html, ok := s.pages[url]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("navigate %s: %w", url, page.ErrTimeout)
	}
	return s.Load(url, html)
}

// Refresh reloads the current page from the canned set.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == "" {
		return errors.New("nothing to refresh")
	}
	return s.Navigate(ctx, current)
}

// WaitFor resolves immediately against the current document.
func (s *Session) WaitFor(ctx context.Context, sel string, cond page.Condition, timeout time.Duration) (page.Element, error) {
	doc, err := s.check()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("wait for %q: %w", sel, page.ErrTimeout)
	}
	el, err := doc.WaitFor(ctx, sel, cond, timeout)
	if err != nil {
		return nil, err
	}
	return &element{Element: el, sel: sel, session: s}, nil
}

// FindAll returns matches in the current document; empty before any load.
func (s *Session) FindAll(ctx context.Context, sel string) ([]page.Element, error) {
	doc, err := s.check()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	all, err := doc.FindAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make([]page.Element, 0, len(all))
	for _, el := range all {
		out = append(out, &element{Element: el, sel: sel, session: s})
	}
	return out, nil
}

// Call records the invocation; no script runs.
func (s *Session) Call(context.Context, page.Element, string) error {
	if _, err := s.check(); err != nil {
		return err
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil
}

// HTML renders the current document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	doc, err := s.check()
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", nil
	}
	return doc.HTML(ctx)
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type element struct {
	page.Element
	sel     string
	session *Session
}

func (e *element) Click(ctx context.Context) error {
	if _, err := e.session.check(); err != nil {
		return err
	}
	e.session.mu.Lock()
	e.session.clicks = append(e.session.clicks, e.sel)
	hook := e.session.onClick[e.sel]
	e.session.mu.Unlock()
	if hook != nil {
		hook(e.session)
	}
	return e.Element.Click(ctx)
}

func (e *element) Type(ctx context.Context, text string) error {
	if _, err := e.session.check(); err != nil {
		return err
	}
	e.session.mu.Lock()
	e.session.typed = append(e.session.typed, text)
	e.session.mu.Unlock()
	return nil
}

// Factory hands out sessions built by New and tracks them.
type Factory struct {
	// New builds each session; required.
	New func() *Session
	// Err, when set, is returned instead of a session.
	Err error

	mu       sync.Mutex
	sessions []*Session
}

// NewSession builds a session with New.
func (f *Factory) NewSession(context.Context) (page.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s := f.New()
	f.sessions = append(f.sessions, s)
	return s, nil
}

// Sessions returns every session created so far.
func (f *Factory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}

// Close is a no-op.
func (f *Factory) Close() error { return nil }
