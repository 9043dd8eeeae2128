package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ProcessType identifies which of the four causation variants a run executes.
type ProcessType string

const (
	ProcessCurrentInterest ProcessType = "CURRENT_INTEREST"
	ProcessLateInterest    ProcessType = "LATE_INTEREST"
	ProcessInsurance       ProcessType = "INSURANCE"
	ProcessOther           ProcessType = "OTHER" // ad-hoc billing concepts
)

// Code returns the short document-code prefix for the process type.
func (pt ProcessType) Code() string {
	switch pt {
	case ProcessCurrentInterest:
		return "CIN"
	case ProcessLateInterest:
		return "LIN"
	case ProcessInsurance:
		return "INS"
	case ProcessOther:
		return "OTR"
	}
	return "UNK"
}

// Valid reports whether the process type is one of the four known variants.
func (pt ProcessType) Valid() bool {
	switch pt {
	case ProcessCurrentInterest, ProcessLateInterest, ProcessInsurance, ProcessOther:
		return true
	}
	return false
}

// ScopeType narrows the loan population a run operates on.
type ScopeType string

const (
	ScopeGeneral       ScopeType = "GENERAL"
	ScopeCreditProduct ScopeType = "CREDIT_PRODUCT"
	ScopeLoan          ScopeType = "LOAN"
)

func (s ScopeType) Valid() bool {
	switch s {
	case ScopeGeneral, ScopeCreditProduct, ScopeLoan:
		return true
	}
	return false
}

// TriggerSource records who started a run.
type TriggerSource string

const (
	TriggerManual TriggerSource = "MANUAL"
	TriggerCron   TriggerSource = "CRON"
)

// ProcessRun is one causation batch execution.
type ProcessRun struct {
	ID              int64         `json:"-"`
	RunID           string        `json:"run_id"`
	ProcessType     ProcessType   `json:"process_type"`
	ProcessDate     time.Time     `json:"process_date"`
	TransactionDate time.Time     `json:"transaction_date"`
	ScopeType       ScopeType     `json:"scope_type"`
	ScopeID         int64         `json:"scope_id"`
	Status          string        `json:"status"`
	PeriodYear      int           `json:"period_year"`
	PeriodMonth     int           `json:"period_month"`
	TriggerSource   TriggerSource `json:"trigger_source"`
	TriggeredBy     string        `json:"triggered_by"`
	Note            string        `json:"note"`
	Summary         *RunSummary   `json:"summary,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	FinishedAt      *time.Time    `json:"finished_at,omitempty"`
}

// LoanError is a per-loan failure captured during a run without aborting it.
type LoanError struct {
	LoanID    int64  `json:"loan_id"`
	Reference string `json:"loan_reference"`
	Reason    string `json:"reason"`
}

// RunSummary is the aggregate result of a run. It is built incrementally
// while loans are processed and persisted once at completion.
type RunSummary struct {
	ReviewedCredits    int             `json:"reviewed_credits"`
	AccruedCredits     int             `json:"accrued_credits"`
	FailedCredits      int             `json:"failed_credits"`
	TotalAccruedAmount decimal.Decimal `json:"total_accrued_amount"`
	Errors             []LoanError     `json:"errors,omitempty"`
}

// AddAccrued records one successfully accrued loan.
func (s *RunSummary) AddAccrued(amount decimal.Decimal) {
	s.AccruedCredits++
	s.TotalAccruedAmount = s.TotalAccruedAmount.Add(amount)
}

// AddFailure records one failed loan without stopping the batch.
func (s *RunSummary) AddFailure(loanID int64, reference, reason string) {
	s.FailedCredits++
	s.Errors = append(s.Errors, LoanError{LoanID: loanID, Reference: reference, Reason: reason})
}

// ParseRunSummary decodes a stored summary blob, tolerating a null or
// partially written value by defaulting every field.
func ParseRunSummary(raw []byte) (*RunSummary, error) {
	summary := &RunSummary{TotalAccruedAmount: decimal.Zero}
	if len(raw) == 0 {
		return summary, nil
	}
	if err := json.Unmarshal(raw, summary); err != nil {
		return nil, err
	}
	if summary.Errors == nil {
		summary.Errors = []LoanError{}
	}
	return summary, nil
}

// LoanProcessState is the per (loan, process type) checkpoint recording the
// last date through which the loan has been successfully accrued. It only
// ever advances forward in time.
type LoanProcessState struct {
	LoanID            int64       `json:"loan_id"`
	ProcessType       ProcessType `json:"process_type"`
	LastProcessedDate time.Time   `json:"last_processed_date"`
	LastRunID         string      `json:"last_run_id"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Covers reports whether the checkpoint already covers the given date, in
// which case re-running the same process date is a guaranteed no-op.
func (st *LoanProcessState) Covers(date time.Time) bool {
	if st == nil {
		return false
	}
	return !st.LastProcessedDate.Before(date)
}
