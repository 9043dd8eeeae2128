package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryNature is the accounting side of a ledger leg. Amounts are always
// non-negative; the side carries the sign.
type EntryNature string

const (
	NatureDebit  EntryNature = "DEBIT"
	NatureCredit EntryNature = "CREDIT"
)

// Entry statuses. Causation always posts DRAFT entries; downstream
// accounting owns them after commit.
const (
	EntryStatusDraft  = "DRAFT"
	EntryStatusPosted = "POSTED"
)

// AccountingEntry is one leg (debit or credit) of a posted transaction.
// Legs of the same logical transaction share a sequence number within the
// run so audits can tie them back together.
type AccountingEntry struct {
	ID             int64           `json:"-"`
	EntryID        string          `json:"entry_id"`
	DocumentCode   string          `json:"document_code"`
	SequenceNo     int             `json:"sequence_no"`
	EntryDate      time.Time       `json:"entry_date"`
	AccountID      int64           `json:"account_id"`
	CostCenterID   int64           `json:"cost_center_id"`
	CounterpartyID int64           `json:"counterparty_id"`
	Nature         EntryNature     `json:"nature"`
	Amount         decimal.Decimal `json:"amount"`
	LoanID         int64           `json:"loan_id"`
	InstallmentNo  int             `json:"installment_no"`
	DueDate        time.Time       `json:"due_date"`
	Status         string          `json:"status"`
	RunID          string          `json:"run_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PortfolioDelta instructs the portfolio-ledger updater to move the open
// balance of a (loan, account, installment) triple. Charge components are
// always non-negative.
type PortfolioDelta struct {
	AccountID      int64           `json:"account_id"`
	CounterpartyID int64           `json:"counterparty_id"`
	LoanID         int64           `json:"loan_id"`
	InstallmentNo  int             `json:"installment_no"`
	DueDate        time.Time       `json:"due_date"`
	ChargeDelta    decimal.Decimal `json:"charge_delta"`
	PaymentDelta   decimal.Decimal `json:"payment_delta"`
}

// PortfolioMovement groups the deltas applied in one posting transaction.
type PortfolioMovement struct {
	MovementDate time.Time        `json:"movement_date"`
	Deltas       []PortfolioDelta `json:"deltas"`
}

// LoanPosting is everything written atomically for one loan in a run:
// the balanced entry legs, the portfolio deltas they imply, and the
// checkpoint advance. No causation write ever spans more than one loan.
type LoanPosting struct {
	RunID      string
	LoanID     int64
	Entries    []AccountingEntry
	Movement   PortfolioMovement
	Checkpoint LoanProcessState
}

// DebitTotal sums the debit legs of a set of entries.
func DebitTotal(entries []AccountingEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Nature == NatureDebit {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// CreditTotal sums the credit legs of a set of entries.
func CreditTotal(entries []AccountingEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Nature == NatureCredit {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// Balanced reports whether debits and credits agree within the money
// tolerance. This is the double-entry balance law checked before commit.
func Balanced(entries []AccountingEntry) bool {
	diff := DebitTotal(entries).Sub(CreditTotal(entries))
	return diff.Abs().Cmp(MoneyTolerance) <= 0
}
