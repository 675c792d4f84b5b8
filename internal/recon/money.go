package recon

import (
	"math"
	"strconv"
	"strings"

	"github.com/castara/expense-tracker/internal/scanning"
)

// ParseCents parses decimal money text ("12.50", "$1,234.00") into integer
// cents. Returns false when the text is empty or not a number.
func ParseCents(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == ',', r == '$', r == ' ':
			// currency noise
		default:
			// letters from a currency code ("TT$", "USD") are tolerated only
			// before the first digit
			if b.Len() > 0 {
				return 0, false
			}
		}
	}

	cleaned := b.String()
	if cleaned == "" {
		return 0, false
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}

	return int64(math.Round(value * 100)), true
}

// CalculateLineItemsSubtotal sums the total price of every line item, in
// cents. Items whose total price could not be read contribute nothing.
func CalculateLineItemsSubtotal(items []scanning.LineItem) int64 {
	var sum int64
	for _, item := range items {
		if cents, ok := ParseCents(item.TotalPrice); ok {
			sum += cents
		}
	}
	return sum
}
