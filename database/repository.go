package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/crediflow/cartera/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	processRun // Process-run lifecycle operations
	loanState  // Per-loan checkpoint operations
	entries    // Accounting-entry posting and queries
	reference  // Read-only reference-data lookups
	PortfolioUpdater
}

// PortfolioUpdater is the portfolio-ledger collaborator contract. Deltas
// are applied inside the same transaction as the entry insert; the engine
// only guarantees non-negative charge components tied to a real open or
// newly opened balance row.
type PortfolioUpdater interface {
	ApplyPortfolioDeltas(ctx context.Context, tx *sql.Tx, movement *model.PortfolioMovement) error
}

// processRun defines methods for handling causation process runs.
type processRun interface {
	RecordProcessRun(ctx context.Context, run *model.ProcessRun) (*model.ProcessRun, error)
	GetProcessRun(ctx context.Context, runID string) (*model.ProcessRun, error)
	ActiveRunExists(ctx context.Context, pt model.ProcessType, processDate time.Time, scopeType model.ScopeType, scopeID int64) (bool, error)
	MarkRunRunning(ctx context.Context, runID string) error
	CompleteProcessRun(ctx context.Context, runID string, summary *model.RunSummary, note string) error
	FailProcessRun(ctx context.Context, runID string, reason string) error
	GetProcessRuns(ctx context.Context, limit int, offset int64) ([]*model.ProcessRun, error)
}

// loanState defines methods for the per-(loan, process type) checkpoint.
type loanState interface {
	GetLoanProcessState(ctx context.Context, loanID int64, pt model.ProcessType) (*model.LoanProcessState, error)
	UpsertLoanProcessState(ctx context.Context, st *model.LoanProcessState) error
}

// entries defines methods for posting and querying accounting entries.
type entries interface {
	PostLoanAccrual(ctx context.Context, posting *model.LoanPosting, updater PortfolioUpdater) error
	GetEntriesByRunID(ctx context.Context, runID string) ([]model.AccountingEntry, error)
	GetEntriesByDocumentCode(ctx context.Context, documentCode string) ([]model.AccountingEntry, error)
}

// reference defines read-only lookups into the surrounding system's
// reference data.
type reference interface {
	GetLoan(ctx context.Context, id int64) (*model.Loan, error)
	GetLoansForCausation(ctx context.Context, scopeType model.ScopeType, scopeID int64) ([]model.Loan, error)
	GetInstallments(ctx context.Context, loanID int64) ([]model.Installment, error)
	GetOpenBalances(ctx context.Context, loanID int64) ([]model.PortfolioBalance, error)
	GetCreditProduct(ctx context.Context, id int64) (*model.CreditProduct, error)
	GetDistributionLines(ctx context.Context, ownerType string, ownerID int64) ([]model.DistributionLine, error)
	GetLateInterestRules(ctx context.Context, productID int64, category string) ([]model.LateInterestRule, error)
	GetBillingConcepts(ctx context.Context, productID int64) ([]model.BillingConcept, error)
	GetInsuranceCompany(ctx context.Context, id int64) (*model.InsuranceCompany, error)
	GetOpenAccountingPeriod(ctx context.Context, date time.Time) (*model.AccountingPeriod, error)
}
