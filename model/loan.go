package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Loan statuses eligible for causation.
const (
	LoanStatusActive    = "ACTIVE"
	LoanStatusAccounted = "ACCOUNTED"
)

// Loan is the snapshot of a credit needed by the accrual calculators.
type Loan struct {
	ID              int64           `json:"id"`
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	ProductID       int64           `json:"product_id"`
	CounterpartyID  int64           `json:"counterparty_id"`
	InsurerID       *int64          `json:"insurer_id,omitempty"`
	Principal       decimal.Decimal `json:"principal"`
	DisbursedAmount decimal.Decimal `json:"disbursed_amount"`
	TotalInsurance  decimal.Decimal `json:"total_insurance"`
	DisbursedAt     time.Time       `json:"disbursed_at"`
}

// Installment is one scheduled payment of a loan.
type Installment struct {
	LoanID          int64           `json:"loan_id"`
	Number          int             `json:"number"`
	DueDate         time.Time       `json:"due_date"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	InsuranceAmount decimal.Decimal `json:"insurance_amount"`
}

// Portfolio balance row statuses.
const (
	BalanceOpen   = "OPEN"
	BalanceClosed = "CLOSED"
)

// PortfolioBalance is the open amount a loan owes on a ledger account for a
// given installment. Charges increase it, payments decrease it.
type PortfolioBalance struct {
	ID            int64           `json:"id"`
	LoanID        int64           `json:"loan_id"`
	AccountID     int64           `json:"account_id"`
	InstallmentNo int             `json:"installment_no"`
	DueDate       time.Time       `json:"due_date"`
	Balance       decimal.Decimal `json:"balance"`
	Status        string          `json:"status"`
}

// AccrualMethod decides how a calculator converts the checkpoint gap into
// an accrual interval.
type AccrualMethod string

const (
	AccrualDaily   AccrualMethod = "DAILY"
	AccrualMonthly AccrualMethod = "MONTHLY"
)

// LateAgeBasis selects how late-interest rules are applied across a loan's
// overdue installments.
type LateAgeBasis string

const (
	// AgeOldestOverdue picks one rule from the oldest overdue installment
	// and re-splits the pooled charge across installments by balance.
	AgeOldestOverdue LateAgeBasis = "OLDEST_OVERDUE_INSTALLMENT"
	// AgeEachInstallment lets every overdue installment pick its own rule.
	AgeEachInstallment LateAgeBasis = "EACH_INSTALLMENT"
)

// CreditProduct carries the per-product accrual configuration.
type CreditProduct struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	InterestRate      decimal.Decimal `json:"interest_rate"` // percent
	RateType          RateType        `json:"rate_type"`
	DayCount          DayCount        `json:"day_count"`
	AccrualMethod     AccrualMethod   `json:"accrual_method"`
	CapitalAccountID  int64           `json:"capital_account_id"`
	InterestAccountID int64           `json:"interest_account_id"` // income side
	LateAccountID     int64           `json:"late_account_id"`     // income side
	LateAgeBasis      LateAgeBasis    `json:"late_age_basis"`
	LateCategory      string          `json:"late_category"`
}

// Account kinds relevant to posting validation.
const (
	AccountReceivable = "RECEIVABLE"
	AccountIncome     = "INCOME"
	AccountLiability  = "LIABILITY"
)

// DistributionLine is a configured rule for splitting a monetary total:
// which account and cost center receive which percentage, on which side.
type DistributionLine struct {
	ID           int64           `json:"id"`
	OwnerType    string          `json:"owner_type"` // PRODUCT | CONCEPT | INSURER
	OwnerID      int64           `json:"owner_id"`
	AccountID    int64           `json:"account_id"`
	AccountKind  string          `json:"account_kind"`
	CostCenterID int64           `json:"cost_center_id"`
	Percentage   decimal.Decimal `json:"percentage"`
	Nature       EntryNature     `json:"nature"`
}

// Distribution-line owner types.
const (
	OwnerProduct = "PRODUCT"
	OwnerConcept = "CONCEPT"
	OwnerInsurer = "INSURER"
)

// LateInterestRule maps a days-past-due range to a late rate for a
// (product, category) pair. A nil DaysTo means the range is open-ended.
type LateInterestRule struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Category  string          `json:"category"`
	Priority  int             `json:"priority"`
	DaysFrom  int             `json:"days_from"`
	DaysTo    *int            `json:"days_to,omitempty"`
	Rate      decimal.Decimal `json:"rate"` // percent
	RateType  RateType        `json:"rate_type"`
	DayCount  DayCount        `json:"day_count"`
}

// Matches reports whether the rule's [DaysFrom, DaysTo] range contains the
// given days-past-due value.
func (r LateInterestRule) Matches(daysPastDue int) bool {
	if daysPastDue < r.DaysFrom {
		return false
	}
	if r.DaysTo != nil && daysPastDue > *r.DaysTo {
		return false
	}
	return true
}

// Billing-concept financing modes and frequencies. Only concepts billed
// separately with a monthly or per-installment frequency are causable.
const (
	FinancingBilledSeparately = "BILLED_SEPARATELY"
	FinancingCapitalized      = "CAPITALIZED"

	FrequencyMonthly        = "MONTHLY"
	FrequencyPerInstallment = "PER_INSTALLMENT"
	FrequencyOneTime        = "ONE_TIME"
)

// BaseSelector picks the chargeable base for a billing concept.
type BaseSelector string

const (
	BaseDisbursedAmount    BaseSelector = "DISBURSED_AMOUNT"
	BasePrincipal          BaseSelector = "PRINCIPAL"
	BaseOutstandingBalance BaseSelector = "OUTSTANDING_BALANCE"
	BaseInstallmentTotal   BaseSelector = "INSTALLMENT_TOTAL"
)

// CalcMethod picks how a billing concept turns its base into a charge.
type CalcMethod string

const (
	CalcFixedAmount      CalcMethod = "FIXED_AMOUNT"
	CalcPercentage       CalcMethod = "PERCENTAGE"
	CalcTieredFixed      CalcMethod = "TIERED_FIXED"
	CalcTieredPercentage CalcMethod = "TIERED_PERCENTAGE"
)

// BillingConceptTier is one row of a tiered rule; the tier containing the
// base amount supplies the rate or fixed amount. A nil To is open-ended.
type BillingConceptTier struct {
	ID        int64            `json:"id"`
	ConceptID int64            `json:"concept_id"`
	From      decimal.Decimal  `json:"from"`
	To        *decimal.Decimal `json:"to,omitempty"`
	Rate      decimal.Decimal  `json:"rate"`   // percent, for TIERED_PERCENTAGE
	Amount    decimal.Decimal  `json:"amount"` // for TIERED_FIXED
}

// Contains reports whether the tier's range contains the base amount.
func (t BillingConceptTier) Contains(base decimal.Decimal) bool {
	if base.Cmp(t.From) < 0 {
		return false
	}
	if t.To != nil && base.Cmp(*t.To) > 0 {
		return false
	}
	return true
}

// BillingConcept is an ad-hoc charge configured on a credit product.
type BillingConcept struct {
	ID              int64                `json:"id"`
	ProductID       int64                `json:"product_id"`
	Name            string               `json:"name"`
	FinancingMode   string               `json:"financing_mode"`
	Frequency       string               `json:"frequency"`
	BaseSelector    BaseSelector         `json:"base_selector"`
	CalcMethod      CalcMethod           `json:"calc_method"`
	Rate            decimal.Decimal      `json:"rate"` // percent
	FixedAmount     decimal.Decimal      `json:"fixed_amount"`
	MinAmount       *decimal.Decimal     `json:"min_amount,omitempty"`
	MaxAmount       *decimal.Decimal     `json:"max_amount,omitempty"`
	RoundDecimals   int32                `json:"round_decimals"`
	IncomeAccountID int64                `json:"income_account_id"`
	Tiers           []BillingConceptTier `json:"tiers,omitempty"`
}

// Causable reports whether the concept is in scope for the billing-concepts
// causation run at all.
func (c BillingConcept) Causable() bool {
	if c.FinancingMode != FinancingBilledSeparately {
		return false
	}
	return c.Frequency == FrequencyMonthly || c.Frequency == FrequencyPerInstallment
}

// InsuranceCompany is the insurer configured on a loan.
type InsuranceCompany struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	IncomeAccountID int64  `json:"income_account_id"`
}

// AccountingPeriod gates run creation: a run's process date must fall in an
// open period.
type AccountingPeriod struct {
	ID     int64  `json:"id"`
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Status string `json:"status"`
}

// Accounting period statuses.
const (
	PeriodOpen   = "OPEN"
	PeriodClosed = "CLOSED"
)
