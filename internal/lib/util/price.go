package util

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice reads a price string like "1 234,50 грн" keeping only digits and separators.
func ParsePrice(s string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ',':
			b.WriteRune('.')
		}
	}
	if b.Len() == 0 {
		return decimal.Zero, fmt.Errorf("no digits in price %q", s)
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", s, err)
	}
	return d, nil
}

// RoundHalfUp rounds a non-negative amount to the given number of places, .5 going up.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}
