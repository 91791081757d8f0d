// Package offer reads price, shipper and seller data from a product page and
// decides whether any offer on it qualifies for a tracked item.
package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/page"
	"github.com/JakeFAU/offerwatch/internal/watch"
)

// Strategy names, in evaluation order.
const (
	StrategyOutOfStock = "out-of-stock"
	StrategyCoreOffer  = "core-offer"
	StrategyPinned     = "pinned-offer"
	StrategyOfferList  = "offer-list"
)

const (
	selOutOfStock    = "#outOfStock"
	selCookieReject  = "#sp-cc-rejectall-link"
	selCorePrice     = "#corePrice_feature_div .a-offscreen"
	selFeatures      = "#offer-display-features"
	selCoreShipsFrom = "#fulfillerInfoFeature_feature_div .offer-display-feature-text-message"
	selCoreSoldBy    = "#merchantInfoFeature_feature_div .offer-display-feature-text-message"

	selSeeAllPrimary  = "#buybox-see-all-buying-choices"
	selSeeAllFallback = "#aod-ingress-link"

	selPinned          = "#aod-pinned-offer"
	selPinnedPrice     = "#aod-price-0"
	selOffscreenPrice  = "span.aok-offscreen"
	selPriceWhole      = "span.a-price-whole"
	selPriceFraction   = "span.a-price-fraction"
	selPinnedShipsFrom = "#aod-offer-shipsFrom .a-fixed-left-grid .a-fixed-left-grid-inner .a-fixed-left-grid-col.a-col-right .a-size-small.a-color-base"
	selPinnedSoldBy    = "#aod-offer-soldBy .a-fixed-left-grid .a-fixed-left-grid-inner .a-fixed-left-grid-col.a-col-right a.a-size-small.a-link-normal"

	selScroller      = "#all-offers-display-scroller"
	selOfferEntries  = "#aod-offer-list div.a-section div#aod-offer"
	selListWhole     = ".a-price-whole"
	selListFraction  = ".a-price-fraction"
	selListShipsFrom = "#aod-offer-shipsFrom span.a-color-base"
	selListSoldBy    = "#aod-offer-soldBy a.a-link-normal, #aod-offer-soldBy span.a-color-base"

	scrollToBottom = "function() { this.scrollTo(0, this.scrollHeight); }"
	scrollIntoView = "function() { this.scrollIntoView(true); }"
)

// Config tunes the extractor's waits and filters.
type Config struct {
	// WaitTimeout bounds every DOM wait.
	WaitTimeout time.Duration
	// SettleDelay is the pause after opening the all-offers view.
	SettleDelay time.Duration
	// ScrollDuration bounds the lazy-load scrolling of the offer list.
	ScrollDuration time.Duration
	ScrollStep     time.Duration
	// Platform is the name the shipper and seller filters look for.
	Platform string
	// FallThroughOnReject keeps evaluating later strategies after a
	// non-qualifying core or pinned reading instead of settling on it.
	FallThroughOnReject bool
}

// DefaultConfig mirrors the timings of the production watcher.
func DefaultConfig() Config {
	return Config{
		WaitTimeout:    5 * time.Second,
		SettleDelay:    4 * time.Second,
		ScrollDuration: 10 * time.Second,
		ScrollStep:     time.Second,
		Platform:       DefaultPlatform,
	}
}

type strategy struct {
	name string
	run  func(ctx context.Context, s page.Session, item watch.TrackedItem) (Result, error)
}

// Extractor evaluates a loaded product page against a tracked item by
// running its strategies in order.
type Extractor struct {
	cfg        Config
	logger     *zap.Logger
	strategies []strategy
}

// New builds an Extractor. Zero-valued durations fall back to DefaultConfig.
func New(cfg Config, logger *zap.Logger) *Extractor {
	defaults := DefaultConfig()
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaults.WaitTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.ScrollStep <= 0 {
		cfg.ScrollStep = defaults.ScrollStep
	}
	if cfg.ScrollDuration < 0 {
		cfg.ScrollDuration = 0
	}
	if cfg.Platform == "" {
		cfg.Platform = defaults.Platform
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{cfg: cfg, logger: logger}
	e.strategies = []strategy{
		{name: StrategyOutOfStock, run: e.outOfStock},
		{name: StrategyCoreOffer, run: e.coreOffer},
		{name: StrategyPinned, run: e.pinnedOffer},
		{name: StrategyOfferList, run: e.offerList},
	}
	return e
}

// Evaluate runs the strategy pipeline on the page currently loaded in s.
// Only session loss and context cancellation are returned as errors; every
// other page anomaly is absorbed by the strategy that hit it.
func (e *Extractor) Evaluate(ctx context.Context, s page.Session, item watch.TrackedItem) (Verdict, error) {
	logger := e.logger.With(zap.String("item_id", item.ID))
	for _, st := range e.strategies {
		res, err := st.run(ctx, s, item)
		if err != nil {
			if fatal(ctx, err) {
				return Verdict{}, fmt.Errorf("%s: %w", st.name, err)
			}
			logger.Debug("strategy failed", zap.String("strategy", st.name), zap.Error(err))
			continue
		}
		logger.Debug("strategy result",
			zap.String("strategy", st.name),
			zap.Stringer("kind", res.Kind),
			zap.String("price", res.Offer.Price.StringFixed(2)),
			zap.String("ships_from", res.Offer.ShipsFrom),
			zap.String("sold_by", res.Offer.SoldBy),
			zap.String("reason", res.Reason),
		)
		switch res.Kind {
		case Found:
			return Verdict{Matched: true, Offer: res.Offer, Strategy: st.name}, nil
		case Halt:
			return Verdict{Strategy: st.name, Reason: res.Reason}, nil
		case Rejected:
			if !e.cfg.FallThroughOnReject {
				return Verdict{Offer: res.Offer, Strategy: st.name, Reason: res.Reason}, nil
			}
		}
	}
	return Verdict{Reason: "no strategy produced a price reading"}, nil
}

func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, page.ErrSessionLost) || ctx.Err() != nil
}

// judge turns a price reading into Found or Rejected.
func (e *Extractor) judge(o watch.Offer, item watch.TrackedItem) Result {
	if Qualifies(o, item, e.cfg.Platform) {
		return found(o)
	}
	return rejected(o)
}

func (e *Extractor) outOfStock(ctx context.Context, s page.Session, _ watch.TrackedItem) (Result, error) {
	gone, err := page.Exists(ctx, s, selOutOfStock, e.cfg.WaitTimeout)
	if err != nil {
		return Result{}, err
	}
	if gone {
		return halt("marked out of stock"), nil
	}
	e.dismissCookies(ctx, s)
	return inapplicable("in stock"), nil
}

func (e *Extractor) dismissCookies(ctx context.Context, s page.Session) {
	banner, err := s.WaitFor(ctx, selCookieReject, page.Clickable, e.cfg.WaitTimeout)
	if err != nil {
		return
	}
	if err := banner.Click(ctx); err != nil {
		e.logger.Debug("cookie banner click failed", zap.Error(err))
	}
}

func (e *Extractor) coreOffer(ctx context.Context, s page.Session, item watch.TrackedItem) (Result, error) {
	priceEl, err := s.WaitFor(ctx, selCorePrice, page.Present, e.cfg.WaitTimeout)
	if err != nil {
		return passOrFail(ctx, err, "core price missing")
	}
	raw, err := priceEl.Attribute(ctx, "innerText")
	if err != nil {
		return passOrFail(ctx, err, "core price unreadable")
	}
	price, err := ParsePrice(raw)
	if err != nil {
		return inapplicable(err.Error()), nil
	}

	o := watch.Offer{Price: price}
	if features, err := s.WaitFor(ctx, selFeatures, page.Present, e.cfg.WaitTimeout); err == nil {
		o.ShipsFrom = page.TextOf(ctx, features, selCoreShipsFrom)
		o.SoldBy = page.TextOf(ctx, features, selCoreSoldBy)
	} else if fatal(ctx, err) {
		return Result{}, err
	}
	return e.judge(o, item), nil
}

func (e *Extractor) pinnedOffer(ctx context.Context, s page.Session, item watch.TrackedItem) (Result, error) {
	opener, err := s.WaitFor(ctx, selSeeAllPrimary, page.Clickable, e.cfg.WaitTimeout)
	if err != nil {
		if fatal(ctx, err) {
			return Result{}, err
		}
		opener, err = s.WaitFor(ctx, selSeeAllFallback, page.Clickable, e.cfg.WaitTimeout)
		if err != nil {
			if fatal(ctx, err) {
				return Result{}, err
			}
			return halt("no all-offers view"), nil
		}
	}
	if err := e.openAllOffers(ctx, s, opener); err != nil {
		if fatal(ctx, err) {
			return Result{}, err
		}
		return halt("could not open all-offers view"), nil
	}

	pinned, err := s.WaitFor(ctx, selPinned, page.Present, e.cfg.WaitTimeout)
	if err != nil {
		return passOrFail(ctx, err, "no pinned offer")
	}
	priceEl, err := pinned.Find(ctx, selPinnedPrice)
	if err != nil {
		return passOrFail(ctx, err, "pinned price missing")
	}
	price, err := e.pinnedPrice(ctx, priceEl)
	if err != nil {
		return passOrFail(ctx, err, "pinned price unparseable")
	}
	o := watch.Offer{
		Price:     price,
		ShipsFrom: page.TextOf(ctx, pinned, selPinnedShipsFrom),
		SoldBy:    page.TextOf(ctx, pinned, selPinnedSoldBy),
	}
	return e.judge(o, item), nil
}

func (e *Extractor) openAllOffers(ctx context.Context, s page.Session, opener page.Element) error {
	if err := s.Call(ctx, opener, scrollIntoView); err != nil {
		return err
	}
	if err := opener.Click(ctx); err != nil {
		return err
	}
	return page.Sleep(ctx, e.cfg.SettleDelay)
}

// pinnedPrice prefers the screen-reader price and falls back to the split
// whole and fraction parts.
func (e *Extractor) pinnedPrice(ctx context.Context, priceEl page.Element) (decimal.Decimal, error) {
	if raw := page.TextOf(ctx, priceEl, selOffscreenPrice); raw != "" {
		return ParsePrice(raw)
	}
	return JoinPrice(page.TextOf(ctx, priceEl, selPriceWhole), page.TextOf(ctx, priceEl, selPriceFraction))
}

func (e *Extractor) offerList(ctx context.Context, s page.Session, item watch.TrackedItem) (Result, error) {
	if err := e.scrollOffers(ctx, s); err != nil {
		if fatal(ctx, err) {
			return Result{}, err
		}
		e.logger.Debug("offer list scroll failed", zap.Error(err))
	}

	entries, err := s.FindAll(ctx, selOfferEntries)
	if err != nil {
		return passOrFail(ctx, err, "offer list unreadable")
	}
	if len(entries) == 0 {
		return inapplicable("offer list empty"), nil
	}

	var last *watch.Offer
	for _, entry := range entries {
		price, err := JoinPrice(page.TextOf(ctx, entry, selListWhole), page.TextOf(ctx, entry, selListFraction))
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			continue
		}
		o := watch.Offer{
			Price:     price,
			ShipsFrom: page.TextOf(ctx, entry, selListShipsFrom),
			SoldBy:    page.TextOf(ctx, entry, selListSoldBy),
		}
		if Qualifies(o, item, e.cfg.Platform) {
			return found(o), nil
		}
		last = &o
	}
	if last == nil {
		return inapplicable("no parseable offers"), nil
	}
	return rejected(*last), nil
}

// scrollOffers scrolls the offer container to its bottom repeatedly so
// lazily-loaded entries render before they are read.
func (e *Extractor) scrollOffers(ctx context.Context, s page.Session) error {
	if e.cfg.ScrollDuration == 0 {
		return nil
	}
	scroller, err := s.WaitFor(ctx, selScroller, page.Present, e.cfg.WaitTimeout)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(e.cfg.ScrollDuration)
	for time.Now().Before(deadline) {
		if err := s.Call(ctx, scroller, scrollToBottom); err != nil {
			return err
		}
		if err := page.Sleep(ctx, e.cfg.ScrollStep); err != nil {
			return err
		}
	}
	return nil
}

// passOrFail keeps fatal errors fatal and turns everything else into an
// inapplicable result.
func passOrFail(ctx context.Context, err error, reason string) (Result, error) {
	if fatal(ctx, err) {
		return Result{}, err
	}
	return inapplicable(reason), nil
}
