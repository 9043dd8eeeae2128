package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DayCount is the convention for converting a calendar interval into a
// year fraction for rate math.
type DayCount string

const (
	DayCount30360     DayCount = "30/360"
	DayCountActual360 DayCount = "ACTUAL/360"
	DayCountActual365 DayCount = "ACTUAL/365"
	DayCountActActual DayCount = "ACTUAL/ACTUAL"
)

// YearBase returns the day-count convention's year length in days.
func (dc DayCount) YearBase() float64 {
	switch dc {
	case DayCount30360, DayCountActual360:
		return 360
	case DayCountActual365:
		return 365
	case DayCountActActual:
		return 365.25
	}
	return 360
}

// RateType qualifies how a configured rate percentage is expressed.
type RateType string

const (
	RateEffectiveAnnual  RateType = "EFFECTIVE_ANNUAL"
	RateEffectiveMonthly RateType = "EFFECTIVE_MONTHLY"
	RateNominalMonthly   RateType = "NOMINAL_MONTHLY"
	RateMonthlyFlat      RateType = "MONTHLY_FLAT"
	RateNominalAnnual    RateType = "NOMINAL_ANNUAL"
)

// PeriodRate converts a rate percentage into the fraction applicable to a
// period of daysInterval days. Effective rates compound, nominal rates
// scale linearly; unknown rate types fall back to NOMINAL_ANNUAL.
func PeriodRate(ratePercent decimal.Decimal, daysInterval int, rateType RateType, dayCount DayCount) decimal.Decimal {
	if daysInterval <= 0 || ratePercent.Sign() <= 0 {
		return decimal.Zero
	}
	r := ratePercent.Div(decimal.NewFromInt(100))
	days := decimal.NewFromInt(int64(daysInterval))

	switch rateType {
	case RateEffectiveAnnual:
		return compound(r, float64(daysInterval)/dayCount.YearBase())
	case RateEffectiveMonthly:
		return compound(r, float64(daysInterval)/30)
	case RateNominalMonthly, RateMonthlyFlat:
		return r.Mul(days).Div(decimal.NewFromInt(30))
	default: // NOMINAL_ANNUAL
		return r.Mul(days).Div(decimal.NewFromFloat(dayCount.YearBase()))
	}
}

// compound computes (1+r)^exp - 1. The exponent is fractional, so the
// computation goes through float64; the result is well inside float64
// precision for any realistic rate and interval.
func compound(r decimal.Decimal, exp float64) decimal.Decimal {
	base, _ := r.Float64()
	return decimal.NewFromFloat(math.Pow(1+base, exp) - 1)
}

// DaysBetween returns the number of calendar days from one date to another,
// ignoring the time-of-day component. Negative when to precedes from.
func DaysBetween(from, to time.Time) int {
	f := truncateDay(from)
	t := truncateDay(to)
	return int(t.Sub(f).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsLastDayOfMonth reports whether the date is the last calendar day of its
// month. Monthly accrual methods only fire on this day.
func IsLastDayOfMonth(t time.Time) bool {
	return t.AddDate(0, 0, 1).Day() == 1
}

// SameYearMonth reports whether two dates fall in the same calendar month.
func SameYearMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// AccrualInterval resolves the number of days a DAILY-method accrual covers
// given the loan's checkpoint. The interval runs from the day after the
// checkpoint through the process date, never less than one day. ok is false
// when the checkpoint already covers the process date.
func AccrualInterval(checkpoint *LoanProcessState, anchor, processDate time.Time) (int, bool) {
	from := truncateDay(anchor)
	if checkpoint != nil {
		if checkpoint.Covers(processDate) {
			return 0, false
		}
		from = truncateDay(checkpoint.LastProcessedDate)
	}
	days := DaysBetween(from.AddDate(0, 0, 1), processDate) + 1
	if days < 1 {
		days = 1
	}
	return days, true
}

// AccrualWindowContains reports whether a due date falls in the half-open
// window (checkpoint, processDate]. Before the first checkpoint the window
// opens at the anchor date (disbursement).
func AccrualWindowContains(checkpoint *LoanProcessState, anchor, due, processDate time.Time) bool {
	lower := truncateDay(anchor)
	if checkpoint != nil {
		lower = truncateDay(checkpoint.LastProcessedDate)
	}
	d := truncateDay(due)
	return d.After(lower) && !d.After(truncateDay(processDate))
}

// MonthlyAccrualDue reports whether a MONTHLY-method accrual should fire:
// only on the last day of the month, and only once per calendar month.
func MonthlyAccrualDue(checkpoint *LoanProcessState, processDate time.Time) bool {
	if !IsLastDayOfMonth(processDate) {
		return false
	}
	if checkpoint != nil && SameYearMonth(checkpoint.LastProcessedDate, processDate) {
		return false
	}
	return true
}
