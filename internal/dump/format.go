package dump

import (
	"github.com/yanun0323/decimal"
)

// formatPrice renders a price at 2 decimal places, fixed-point. Routed
// through github.com/yanun0323/decimal rather than strconv.FormatFloat so
// repeated formatting of the same value can't drift with naive float
// rounding.
func formatPrice(p float64) string {
	return decimal.NewFromFloat(p).StringFixed(2)
}

// formatVolume renders a volume at 8 decimal places, fixed-point.
func formatVolume(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(8)
}
