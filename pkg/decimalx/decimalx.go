package decimalx

import "github.com/shopspring/decimal"

var Hundred = decimal.NewFromInt(100)

// SafeDiv 除数为0时返回 fallback
func SafeDiv(a, b, fallback decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return fallback
	}
	return a.Div(b)
}

// Percent a / b × 100，b 为 0 时返回 0
func Percent(a, b decimal.Decimal) decimal.Decimal {
	return SafeDiv(a, b, decimal.Zero).Mul(Hundred)
}

func Sum(ds ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total
}

func MinOf(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
