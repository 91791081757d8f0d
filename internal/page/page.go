// Package page defines the browser-session capability the watchers drive:
// navigation, bounded DOM waits, element reads and simple interactions.
// Selectors are CSS selectors throughout.
package page

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a bounded DOM wait expires.
	ErrTimeout = errors.New("timed out waiting for element")
	// ErrNotFound is returned when an element lookup without waiting finds nothing.
	ErrNotFound = errors.New("element not found")
	// ErrSessionLost signals that the underlying driver is gone and the session
	// must be recreated.
	ErrSessionLost = errors.New("page session lost")
)

// Condition is the DOM state a wait is satisfied by.
type Condition int

// Supported wait conditions.
const (
	// Present is satisfied once the element is attached to the DOM.
	Present Condition = iota
	// Clickable is satisfied once the element is visible.
	Clickable
)

func (c Condition) String() string {
	switch c {
	case Present:
		return "present"
	case Clickable:
		return "clickable"
	default:
		return "unknown"
	}
}

// Element is a handle to one DOM node within a Session.
type Element interface {
	// Text returns the trimmed visible text of the element.
	Text(ctx context.Context) (string, error)
	// Attribute reads a DOM property or attribute such as innerText or href.
	Attribute(ctx context.Context, name string) (string, error)
	// Find returns the first descendant matching sel or ErrNotFound.
	Find(ctx context.Context, sel string) (Element, error)
	// FindAll returns all descendants matching sel in document order.
	FindAll(ctx context.Context, sel string) ([]Element, error)
	Click(ctx context.Context) error
	Clear(ctx context.Context) error
	// Type sends keystrokes; a trailing "\n" submits.
	Type(ctx context.Context, text string) error
	ScrollIntoView(ctx context.Context) error
}

// Session is one exclusively-owned browser instance.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Refresh(ctx context.Context) error
	// WaitFor blocks until sel satisfies cond or timeout elapses (ErrTimeout).
	WaitFor(ctx context.Context, sel string, cond Condition, timeout time.Duration) (Element, error)
	// FindAll returns every match in document order; empty when none.
	FindAll(ctx context.Context, sel string) ([]Element, error)
	// Call runs a JavaScript function declaration with el bound to this.
	Call(ctx context.Context, el Element, fn string) error
	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Factory creates sessions. Creating a session is expensive.
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Find returns the first match of sel in the session, or ErrNotFound.
func Find(ctx context.Context, s Session, sel string) (Element, error) {
	all, err := s.FindAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	return all[0], nil
}

// Exists reports whether sel appears within timeout. Errors other than a
// timeout or a miss are returned.
func Exists(ctx context.Context, s Session, sel string, timeout time.Duration) (bool, error) {
	_, err := s.WaitFor(ctx, sel, Present, timeout)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// TextOf reads the trimmed text of the first descendant matching sel,
// returning "" when it is absent.
func TextOf(ctx context.Context, el Element, sel string) string {
	child, err := el.Find(ctx, sel)
	if err != nil {
		return ""
	}
	text, err := child.Text(ctx)
	if err != nil {
		return ""
	}
	return text
}

// Sleep pauses for d, returning early with the context error on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
