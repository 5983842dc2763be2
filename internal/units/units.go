package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money amounts are shown and sent with two fractional digits.
const places = 2

var errTooPrecise = errors.New("amount has more than two decimal places")

// ParseAmount reads a user-entered amount such as "50", "50.5" or " 1,250.00 ".
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, errors.New("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.Equal(d.Round(places)) {
		return decimal.Zero, errTooPrecise
	}
	return d, nil
}

// Format renders an amount the way the dashboard displays it.
func Format(d decimal.Decimal) string {
	return d.StringFixed(places)
}

func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
