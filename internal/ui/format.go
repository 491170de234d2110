package ui

import (
	"fmt"
	"strings"
)

// formatUSD renders an amount the way the dashboard shows money:
// dollar sign, thousands separators, two decimals, sign in front.
func formatUSD(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	whole := fmt.Sprintf("%.2f", amount)
	intPart, fracPart, _ := strings.Cut(whole, ".")

	var b strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}

	if negative {
		return "-$" + b.String() + "." + fracPart
	}
	return "$" + b.String() + "." + fracPart
}
