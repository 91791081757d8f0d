package offer

import (
	"fmt"

	"github.com/JakeFAU/offerwatch/internal/watch"
)

// Kind tags the outcome of a single extraction strategy.
type Kind int

// Strategy outcomes.
const (
	// Inapplicable means the strategy found nothing to read; the next one runs.
	Inapplicable Kind = iota
	// Found is a qualifying offer.
	Found
	// Rejected is a price reading that failed the filter.
	Rejected
	// Halt ends evaluation without a match.
	Halt
)

func (k Kind) String() string {
	switch k {
	case Inapplicable:
		return "inapplicable"
	case Found:
		return "found"
	case Rejected:
		return "rejected"
	case Halt:
		return "halt"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is what a strategy reports back to the pipeline.
type Result struct {
	Kind   Kind
	Offer  watch.Offer
	Reason string
}

func found(o watch.Offer) Result { return Result{Kind: Found, Offer: o} }

func rejected(o watch.Offer) Result {
	return Result{Kind: Rejected, Offer: o, Reason: "offer did not meet criteria"}
}

func inapplicable(reason string) Result { return Result{Kind: Inapplicable, Reason: reason} }

func halt(reason string) Result { return Result{Kind: Halt, Reason: reason} }

// Verdict is the outcome of a full evaluation.
type Verdict struct {
	Matched bool
	Offer   watch.Offer
	// Strategy names the strategy that settled the verdict, empty when every
	// strategy was inapplicable.
	Strategy string
	Reason   string
}
