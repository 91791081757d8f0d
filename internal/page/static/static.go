// Package static implements page.Session over fetched HTML documents. Pages
// are downloaded with colly and queried with goquery; scripts never run, so
// interactions (clicks, typing, scrolling) are accepted and ignored.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/offerwatch/internal/page"
)

// Config controls the static fetcher.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
}

// Factory hands out independent static sessions.
type Factory struct {
	cfg Config
}

// NewFactory builds a Factory.
func NewFactory(cfg Config) *Factory {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Factory{cfg: cfg}
}

// NewSession creates a session with its own collector.
func (f *Factory) NewSession(_ context.Context) (page.Session, error) {
	return New(f.cfg), nil
}

// Close implements page.Factory; static sessions hold no shared resources.
func (f *Factory) Close() error {
	return nil
}

// Session is a page.Session over a parsed HTML document.
type Session struct {
	collector *colly.Collector

	mu     sync.Mutex
	doc    *goquery.Document
	url    string
	closed bool
}

// New constructs a Session that fetches over HTTP.
func New(cfg Config) *Session {
	opts := []colly.CollectorOption{colly.AllowURLRevisit()}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	if cfg.RequestTimeout > 0 {
		c.SetRequestTimeout(cfg.RequestTimeout)
	}
	return &Session{collector: c}
}

// NewFromHTML builds a Session already positioned on the given markup.
func NewFromHTML(pageURL, html string) (*Session, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Session{doc: doc, url: pageURL}, nil
}

// Navigate fetches url and replaces the current document.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("navigate canceled: %w", err)
	}
	if s.collector == nil {
		return fmt.Errorf("navigate %s: session has no fetcher", url)
	}

	var (
		body     []byte
		fetchErr error
	)
	c := s.collector.Clone()
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
	})
	if err := c.Visit(url); err != nil {
		return fmt.Errorf("visit %s: %w", url, err)
	}
	if fetchErr != nil {
		return fmt.Errorf("fetch %s: %w", url, fetchErr)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", url, err)
	}
	s.mu.Lock()
	s.doc = doc
	s.url = url
	s.mu.Unlock()
	return nil
}

// Refresh re-fetches the current URL.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	current := s.url
	s.mu.Unlock()
	if current == "" {
		return nil
	}
	return s.Navigate(ctx, current)
}

// WaitFor checks the document once; a static DOM never changes while waiting.
func (s *Session) WaitFor(ctx context.Context, sel string, _ page.Condition, _ time.Duration) (page.Element, error) {
	all, err := s.FindAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("wait for %q: %w", sel, page.ErrTimeout)
	}
	return all[0], nil
}

// FindAll returns every match of sel in document order.
func (s *Session) FindAll(_ context.Context, sel string) ([]page.Element, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	return wrapAll(doc.Find(sel)), nil
}

// Call is a no-op: the static driver executes no scripts.
func (s *Session) Call(context.Context, page.Element, string) error {
	return s.checkOpen()
}

// HTML renders the current document.
func (s *Session) HTML(context.Context) (string, error) {
	doc, err := s.document()
	if err != nil {
		return "", err
	}
	html, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return html, nil
}

// Close marks the session unusable.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.doc = nil
	return nil
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return page.ErrSessionLost
	}
	return nil
}

func (s *Session) document() (*goquery.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, page.ErrSessionLost
	}
	if s.doc == nil {
		return nil, errors.New("no document loaded")
	}
	return s.doc, nil
}

type element struct {
	sel *goquery.Selection
}

func wrapAll(sel *goquery.Selection) []page.Element {
	out := make([]page.Element, 0, sel.Length())
	sel.Each(func(_ int, node *goquery.Selection) {
		out = append(out, element{sel: node})
	})
	return out
}

func (e element) Text(context.Context) (string, error) {
	return strings.TrimSpace(e.sel.Text()), nil
}

func (e element) Attribute(_ context.Context, name string) (string, error) {
	switch name {
	case "innerText", "textContent":
		return e.sel.Text(), nil
	}
	value, _ := e.sel.Attr(name)
	return value, nil
}

func (e element) Find(_ context.Context, sel string) (page.Element, error) {
	match := e.sel.Find(sel).First()
	if match.Length() == 0 {
		return nil, fmt.Errorf("find %q: %w", sel, page.ErrNotFound)
	}
	return element{sel: match}, nil
}

func (e element) FindAll(_ context.Context, sel string) ([]page.Element, error) {
	return wrapAll(e.sel.Find(sel)), nil
}

func (element) Click(context.Context) error          { return nil }
func (element) Clear(context.Context) error          { return nil }
func (element) Type(context.Context, string) error   { return nil }
func (element) ScrollIntoView(context.Context) error { return nil }
