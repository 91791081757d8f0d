package offer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/offerwatch/internal/watch"
)

// DefaultPlatform is the marketplace name the shipper and seller filters look for.
const DefaultPlatform = "amazon"

var errEmptyPrice = errors.New("empty price")

// ParsePrice normalizes a displayed price such as "€1.234,56", "1,234.56 €"
// or "45,00" into a decimal. The right-most separator is the decimal mark
// unless it is followed by exactly three digits and is the only separator,
// in which case it groups thousands.
func ParsePrice(raw string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".,")
	if cleaned == "" || strings.IndexAny(cleaned, "0123456789") < 0 {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", raw, errEmptyPrice)
	}

	lastSep := strings.LastIndexAny(cleaned, ".,")
	if lastSep >= 0 {
		sep := cleaned[lastSep]
		digitsAfter := len(cleaned) - lastSep - 1
		mixed := strings.ContainsRune(cleaned, otherSeparator(sep))
		repeated := strings.Count(cleaned, string(sep)) > 1
		if !mixed && (repeated || digitsAfter == 3) {
			cleaned = strings.ReplaceAll(cleaned, string(sep), "")
		} else {
			whole := stripSeparators(cleaned[:lastSep])
			cleaned = whole + "." + cleaned[lastSep+1:]
		}
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return price, nil
}

// JoinPrice combines the separately rendered whole and fraction parts of a
// price. Grouping marks in the whole part are dropped.
func JoinPrice(whole, fraction string) (decimal.Decimal, error) {
	w := digitsOnly(whole)
	if w == "" {
		return decimal.Zero, fmt.Errorf("join price %q/%q: %w", whole, fraction, errEmptyPrice)
	}
	f := digitsOnly(fraction)
	if f == "" {
		f = "0"
	}
	price, err := decimal.NewFromString(w + "." + f)
	if err != nil {
		return decimal.Zero, fmt.Errorf("join price %q/%q: %w", whole, fraction, err)
	}
	return price, nil
}

// Qualifies reports whether o satisfies the price ceiling and every enabled
// platform filter of item. Platform matching is a case-insensitive substring
// test; an empty platform falls back to DefaultPlatform.
func Qualifies(o watch.Offer, item watch.TrackedItem, platform string) bool {
	if platform == "" {
		platform = DefaultPlatform
	}
	platform = strings.ToLower(platform)
	if o.Price.GreaterThan(item.TargetPrice) {
		return false
	}
	if item.RequireShippedByPlatform && !strings.Contains(strings.ToLower(o.ShipsFrom), platform) {
		return false
	}
	if item.RequireSoldByPlatform && !strings.Contains(strings.ToLower(o.SoldBy), platform) {
		return false
	}
	return true
}

func otherSeparator(sep byte) rune {
	if sep == ',' {
		return '.'
	}
	return ','
}

func stripSeparators(s string) string {
	return strings.NewReplacer(",", "", ".", "").Replace(s)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
