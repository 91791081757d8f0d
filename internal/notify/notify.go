// Package notify formats operator-facing match messages and provides simple
// Notifier implementations.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/watch"
)

// FormatMatch renders the message sent when an offer qualifies. Operators
// filter on this exact text, so the layout must not drift.
func FormatMatch(item watch.TrackedItem, o watch.Offer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ %s is back in stock!\n", item.Name)
	b.WriteString("✅ AMAZON OFFER FOUND!\n")
	b.WriteString(item.URL + "\n")
	fmt.Fprintf(&b, "💰 €%s (≤ €%s)\n", o.Price.StringFixed(2), item.TargetPrice.StringFixed(2))
	fmt.Fprintf(&b, "🚚 Ships from: %s\n", o.ShipsFrom)
	fmt.Fprintf(&b, "🏷️ Sold by: %s", o.SoldBy)
	return b.String()
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a dry-run notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Send implements watch.Notifier.
func (n *LogNotifier) Send(_ context.Context, text string) error {
	n.logger.Info("notification (dry run)", zap.String("text", text))
	return nil
}
