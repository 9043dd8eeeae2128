package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// MoneyTolerance is the maximum drift allowed between the debit and credit
// sides of a posting before it is considered unbalanced. Amounts at or below
// this value are treated as zero throughout the accrual pipeline.
var MoneyTolerance = decimal.NewFromFloat(0.01)

// Round2 rounds an amount to money precision (2 decimal places, half up).
// Every amount that leaves a calculator goes through this function so that
// rounding behaves identically across all four causation types.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// RoundTo rounds an amount to the given number of decimal places. Billing
// concepts carry their own configured precision; everything else uses Round2.
func RoundTo(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// IsNegligible reports whether an amount is too small to accrue.
func IsNegligible(d decimal.Decimal) bool {
	return d.Abs().Cmp(MoneyTolerance) <= 0
}

// DocumentCode derives the accounting document code for a run. The code is
// deterministic for a given (process type, run id) pair so that re-posting
// the same run groups its legs under the same document.
func DocumentCode(pt ProcessType, runID string) string {
	return fmt.Sprintf("%s-%s", pt.Code(), shortID(runID))
}

func shortID(id string) string {
	// run ids look like "run_<uuid>"; the first uuid block is enough to
	// keep document codes readable.
	if len(id) > 12 {
		return id[len(id)-12:]
	}
	return id
}
