package model

import (
	"github.com/shopspring/decimal"
)

// PercentLine is one weighted line of a percentage allocation.
type PercentLine struct {
	ID         int64
	Percentage decimal.Decimal
}

// AllocateByPercentage splits a total across configured percentage lines.
// Every line except the last gets round(total * pct/100); the last line
// absorbs the rounding remainder so the allocation always sums exactly to
// the total. A zero total, or lines with no positive percentage, allocate
// zero everywhere.
func AllocateByPercentage(total decimal.Decimal, lines []PercentLine) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(lines))
	if len(lines) == 0 {
		return out
	}
	hundred := decimal.NewFromInt(100)

	anyPositive := false
	for _, l := range lines {
		if l.Percentage.Sign() > 0 {
			anyPositive = true
			break
		}
	}
	if total.IsZero() || !anyPositive {
		for _, l := range lines {
			out[l.ID] = decimal.Zero
		}
		return out
	}

	allocated := decimal.Zero
	for i, l := range lines {
		if i == len(lines)-1 {
			out[l.ID] = total.Sub(allocated)
			break
		}
		amount := Round2(total.Mul(l.Percentage).Div(hundred))
		out[l.ID] = amount
		allocated = allocated.Add(amount)
	}
	return out
}

// AllocateByWeight splits a total across arbitrary non-negative weights,
// remainder to the last item. The result is index-aligned with weights.
// Used to re-split a pooled late-interest or insurance charge back across
// installments proportionally to their overdue balances.
func AllocateByWeight(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return out
	}

	sum := decimal.Zero
	for _, w := range weights {
		if w.Sign() > 0 {
			sum = sum.Add(w)
		}
	}
	if total.IsZero() || sum.IsZero() {
		for i := range out {
			out[i] = decimal.Zero
		}
		return out
	}

	allocated := decimal.Zero
	for i, w := range weights {
		if i == len(weights)-1 {
			out[i] = total.Sub(allocated)
			break
		}
		weight := w
		if weight.Sign() < 0 {
			weight = decimal.Zero
		}
		amount := Round2(total.Mul(weight).Div(sum))
		out[i] = amount
		allocated = allocated.Add(amount)
	}
	return out
}
