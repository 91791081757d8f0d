// Package headless implements page.Session on top of headless Chrome through
// chromedp. Every session owns its own browser process.
package headless

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/JakeFAU/offerwatch/internal/page"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultActionTimeout     = 10 * time.Second

	hideWebdriverScript = "Object.defineProperty(navigator, 'webdriver', {get: () => false});"
)

// Config controls browser allocation and per-session behavior.
type Config struct {
	// ExecPath overrides the Chrome binary; empty uses chromedp's lookup.
	ExecPath string
	Headless bool
	// UserAgent is fixed when set; otherwise each session gets a random one.
	UserAgent         string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	// MaxParallel bounds concurrently open sessions; 0 means unbounded.
	MaxParallel int
}

// Factory allocates browser sessions from a shared exec allocator.
type Factory struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewFactory creates a chromedp-backed session factory.
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return &Factory{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close tears down the allocator and every browser it spawned.
func (f *Factory) Close() error {
	f.allocCancel()
	return nil
}

// NewSession launches a browser, applies the stealth setup and returns the
// session. The caller must Close it.
func (f *Factory) NewSession(ctx context.Context) (page.Session, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(f.allocator)

	userAgent := f.cfg.UserAgent
	if userAgent == "" {
		userAgent = RandomUserAgent()
	}
	// The first Run allocates the browser and binds it to tabCtx, so it must
	// not carry a timeout.
	if err := chromedp.Run(tabCtx, stealthAction(userAgent)); err != nil {
		tabCancel()
		f.release()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &Session{
		cfg:     f.cfg,
		ctx:     tabCtx,
		cancel:  tabCancel,
		release: f.release,
	}, nil
}

func stealthAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if _, err := cdppage.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx); err != nil {
			return fmt.Errorf("install webdriver override: %w", err)
		}
		return nil
	})
}

// RandomUserAgent builds a desktop Chrome user agent with a randomized
// version so successive sessions do not share a fingerprint.
func RandomUserAgent() string {
	return fmt.Sprintf(
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.%d.100 Safari/537.36",
		100+rand.IntN(16),
		1000+rand.IntN(4001),
	)
}

func (f *Factory) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (f *Factory) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// Session is one browser tab in its own browser process.
type Session struct {
	cfg     Config
	ctx     context.Context
	cancel  context.CancelFunc
	release func()

	closeOnce sync.Once
}

// Navigate loads url and waits for the body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Refresh reloads the current page.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// WaitFor polls the DOM until sel satisfies cond or timeout elapses.
func (s *Session) WaitFor(ctx context.Context, sel string, cond page.Condition, timeout time.Duration) (page.Element, error) {
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if cond == page.Clickable {
		opts = append(opts, chromedp.NodeVisible)
	}
	var nodes []*cdp.Node
	if err := s.run(ctx, timeout, chromedp.Nodes(sel, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("wait for %q %s: %w", sel, cond, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("wait for %q: %w", sel, page.ErrNotFound)
	}
	return &element{session: s, node: nodes[0]}, nil
}

// FindAll returns every match without waiting.
func (s *Session) FindAll(ctx context.Context, sel string) ([]page.Element, error) {
	return s.queryAll(ctx, sel)
}

func (s *Session) queryAll(ctx context.Context, sel string, opts ...chromedp.QueryOption) ([]page.Element, error) {
	var nodes []*cdp.Node
	opts = append([]chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}, opts...)
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Nodes(sel, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %q: %w", sel, err)
	}
	out := make([]page.Element, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, &element{session: s, node: node})
	}
	return out, nil
}

// Call invokes fn with the element bound to this.
func (s *Session) Call(ctx context.Context, el page.Element, fn string) error {
	target, ok := el.(*element)
	if !ok {
		return fmt.Errorf("call: element %T does not belong to a chromedp session", el)
	}
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(target.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		_, exception, err := runtime.CallFunctionOn(fn).WithObjectID(obj.ObjectID).Do(ctx)
		if err != nil {
			return fmt.Errorf("call function: %w", err)
		}
		if exception != nil {
			return fmt.Errorf("script exception: %s", exception.Text)
		}
		return nil
	})
	return s.run(ctx, s.cfg.ActionTimeout, action)
}

// HTML returns the outer HTML of the document element.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

// Close kills the browser and frees the factory slot. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.release()
	})
	return nil
}

// run executes actions against the tab, bounded by timeout and by the
// caller's ctx, and maps failures onto the page error taxonomy.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return page.ErrSessionLost
	}
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	return classify(err, ctx, runCtx, s.ctx)
}

func classify(err error, caller, run, session context.Context) error {
	switch {
	case err == nil:
		return nil
	case session.Err() != nil:
		return fmt.Errorf("%w: %v", page.ErrSessionLost, err)
	case caller.Err() != nil:
		return fmt.Errorf("%w", caller.Err())
	case errors.Is(run.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", page.ErrTimeout, err)
	case looksFatal(err):
		return fmt.Errorf("%w: %v", page.ErrSessionLost, err)
	default:
		return err
	}
}

func looksFatal(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"websocket", "target closed", "could not dial", "browser closed", "exec:"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

type element struct {
	session *Session
	node    *cdp.Node
}

func (e *element) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.session.run(ctx, e.session.cfg.ActionTimeout, chromedp.Text(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	var value string
	action := chromedp.JavascriptAttribute(e.ids(), name, &value, chromedp.ByNodeID)
	if err := e.session.run(ctx, e.session.cfg.ActionTimeout, action); err != nil {
		return "", fmt.Errorf("read attribute %s: %w", name, err)
	}
	return value, nil
}

func (e *element) Find(ctx context.Context, sel string) (page.Element, error) {
	all, err := e.FindAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("find %q: %w", sel, page.ErrNotFound)
	}
	return all[0], nil
}

func (e *element) FindAll(ctx context.Context, sel string) ([]page.Element, error) {
	return e.session.queryAll(ctx, sel, chromedp.FromNode(e.node))
}

func (e *element) Click(ctx context.Context) error {
	if err := e.session.run(ctx, e.session.cfg.ActionTimeout, chromedp.Click(e.ids(), chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (e *element) Clear(ctx context.Context) error {
	if err := e.session.run(ctx, e.session.cfg.ActionTimeout, chromedp.Clear(e.ids(), chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (e *element) Type(ctx context.Context, text string) error {
	keys := strings.ReplaceAll(text, "\n", kb.Enter)
	if err := e.session.run(ctx, e.session.cfg.ActionTimeout, chromedp.SendKeys(e.ids(), keys, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("send keys: %w", err)
	}
	return nil
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	if err := e.session.run(ctx, e.session.cfg.ActionTimeout, chromedp.ScrollIntoView(e.ids(), chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("scroll into view: %w", err)
	}
	return nil
}
