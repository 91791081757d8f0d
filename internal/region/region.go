// Package region pins a browser session's delivery location so prices and
// availability are those shown to buyers in the target region.
package region

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/page"
)

const (
	selCurrentLocation = "#glow-ingress-line2"
	selLocationPopover = "#nav-global-location-popover-link"
	selPostalCodeInput = "#GLUXZipUpdateInput"
	selPopoverConfirm  = ".a-popover-footer > *"
)

// Config describes the target delivery region.
type Config struct {
	HomeURL     string
	PostalCode  string
	WaitTimeout time.Duration
	// LoadDelay is the pause after loading the home page.
	LoadDelay time.Duration
	// StepDelay is the pause between popover interactions.
	StepDelay time.Duration
}

// Setter applies Config to sessions.
type Setter struct {
	cfg    Config
	logger *zap.Logger
}

// NewSetter validates cfg and returns a Setter.
func NewSetter(cfg Config, logger *zap.Logger) (*Setter, error) {
	if strings.TrimSpace(cfg.HomeURL) == "" {
		return nil, errors.New("region home url is required")
	}
	if strings.TrimSpace(cfg.PostalCode) == "" {
		return nil, errors.New("region postal code is required")
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Setter{cfg: cfg, logger: logger}, nil
}

// Ensure makes sure s delivers to the configured postal code. It reads the
// location currently shown, loading the home page when the session has no
// usable page yet, and only drives the location popover on a mismatch. It
// reports whether the region was changed.
func (r *Setter) Ensure(ctx context.Context, s page.Session) (bool, error) {
	current, err := r.currentLocation(ctx, s)
	if err != nil {
		return false, err
	}
	if current == "" {
		if err := s.Navigate(ctx, r.cfg.HomeURL); err != nil {
			return false, fmt.Errorf("load home page: %w", err)
		}
		if err := page.Sleep(ctx, r.cfg.LoadDelay); err != nil {
			return false, err
		}
		if current, err = r.currentLocation(ctx, s); err != nil {
			return false, err
		}
	}
	if strings.Contains(current, r.cfg.PostalCode) {
		return false, nil
	}

	r.logger.Info("setting delivery region",
		zap.String("postal_code", r.cfg.PostalCode),
		zap.String("current", current),
	)
	if err := r.apply(ctx, s); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Setter) currentLocation(ctx context.Context, s page.Session) (string, error) {
	el, err := page.Find(ctx, s, selCurrentLocation)
	switch {
	case err == nil:
	case errors.Is(err, page.ErrSessionLost) || ctx.Err() != nil:
		return "", err
	default:
		return "", nil
	}
	text, err := el.Text(ctx)
	if err != nil {
		if errors.Is(err, page.ErrSessionLost) {
			return "", err
		}
		return "", nil
	}
	return text, nil
}

func (r *Setter) apply(ctx context.Context, s page.Session) error {
	opener, err := s.WaitFor(ctx, selLocationPopover, page.Clickable, r.cfg.WaitTimeout)
	if err != nil {
		return fmt.Errorf("open location popover: %w", err)
	}
	if err := opener.Click(ctx); err != nil {
		return fmt.Errorf("open location popover: %w", err)
	}
	if err := page.Sleep(ctx, r.cfg.StepDelay); err != nil {
		return err
	}

	input, err := s.WaitFor(ctx, selPostalCodeInput, page.Present, r.cfg.WaitTimeout)
	if err != nil {
		return fmt.Errorf("find postal code input: %w", err)
	}
	if err := input.Clear(ctx); err != nil {
		return fmt.Errorf("clear postal code: %w", err)
	}
	if err := input.Type(ctx, r.cfg.PostalCode+"\n"); err != nil {
		return fmt.Errorf("type postal code: %w", err)
	}
	if err := page.Sleep(ctx, r.cfg.StepDelay); err != nil {
		return err
	}

	confirm, err := s.WaitFor(ctx, selPopoverConfirm, page.Present, r.cfg.WaitTimeout)
	if err != nil {
		return fmt.Errorf("find popover confirm: %w", err)
	}
	if err := confirm.Click(ctx); err != nil {
		return fmt.Errorf("confirm location: %w", err)
	}
	return page.Sleep(ctx, r.cfg.StepDelay)
}
