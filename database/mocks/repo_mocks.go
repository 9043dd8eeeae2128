package mocks

import (
	"context"
	"database/sql"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/crediflow/cartera/database"
	"github.com/crediflow/cartera/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Process-run methods

func (m *MockDataSource) RecordProcessRun(ctx context.Context, run *model.ProcessRun) (*model.ProcessRun, error) {
	args := m.Called(ctx, run)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProcessRun), args.Error(1)
}

func (m *MockDataSource) GetProcessRun(ctx context.Context, runID string) (*model.ProcessRun, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProcessRun), args.Error(1)
}

func (m *MockDataSource) ActiveRunExists(ctx context.Context, pt model.ProcessType, processDate time.Time, scopeType model.ScopeType, scopeID int64) (bool, error) {
	args := m.Called(ctx, pt, processDate, scopeType, scopeID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkRunRunning(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func (m *MockDataSource) CompleteProcessRun(ctx context.Context, runID string, summary *model.RunSummary, note string) error {
	args := m.Called(ctx, runID, summary, note)
	return args.Error(0)
}

func (m *MockDataSource) FailProcessRun(ctx context.Context, runID string, reason string) error {
	args := m.Called(ctx, runID, reason)
	return args.Error(0)
}

func (m *MockDataSource) GetProcessRuns(ctx context.Context, limit int, offset int64) ([]*model.ProcessRun, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*model.ProcessRun), args.Error(1)
}

// Checkpoint methods

func (m *MockDataSource) GetLoanProcessState(ctx context.Context, loanID int64, pt model.ProcessType) (*model.LoanProcessState, error) {
	args := m.Called(ctx, loanID, pt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LoanProcessState), args.Error(1)
}

func (m *MockDataSource) UpsertLoanProcessState(ctx context.Context, st *model.LoanProcessState) error {
	args := m.Called(ctx, st)
	return args.Error(0)
}

// Entry methods

func (m *MockDataSource) PostLoanAccrual(ctx context.Context, posting *model.LoanPosting, updater database.PortfolioUpdater) error {
	args := m.Called(ctx, posting, updater)
	return args.Error(0)
}

func (m *MockDataSource) GetEntriesByRunID(ctx context.Context, runID string) ([]model.AccountingEntry, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).([]model.AccountingEntry), args.Error(1)
}

func (m *MockDataSource) GetEntriesByDocumentCode(ctx context.Context, documentCode string) ([]model.AccountingEntry, error) {
	args := m.Called(ctx, documentCode)
	return args.Get(0).([]model.AccountingEntry), args.Error(1)
}

func (m *MockDataSource) ApplyPortfolioDeltas(ctx context.Context, tx *sql.Tx, movement *model.PortfolioMovement) error {
	args := m.Called(ctx, tx, movement)
	return args.Error(0)
}

// Reference methods

func (m *MockDataSource) GetLoan(ctx context.Context, id int64) (*model.Loan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Loan), args.Error(1)
}

func (m *MockDataSource) GetLoansForCausation(ctx context.Context, scopeType model.ScopeType, scopeID int64) ([]model.Loan, error) {
	args := m.Called(ctx, scopeType, scopeID)
	return args.Get(0).([]model.Loan), args.Error(1)
}

func (m *MockDataSource) GetInstallments(ctx context.Context, loanID int64) ([]model.Installment, error) {
	args := m.Called(ctx, loanID)
	return args.Get(0).([]model.Installment), args.Error(1)
}

func (m *MockDataSource) GetOpenBalances(ctx context.Context, loanID int64) ([]model.PortfolioBalance, error) {
	args := m.Called(ctx, loanID)
	return args.Get(0).([]model.PortfolioBalance), args.Error(1)
}

func (m *MockDataSource) GetCreditProduct(ctx context.Context, id int64) (*model.CreditProduct, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditProduct), args.Error(1)
}

func (m *MockDataSource) GetDistributionLines(ctx context.Context, ownerType string, ownerID int64) ([]model.DistributionLine, error) {
	args := m.Called(ctx, ownerType, ownerID)
	return args.Get(0).([]model.DistributionLine), args.Error(1)
}

func (m *MockDataSource) GetLateInterestRules(ctx context.Context, productID int64, category string) ([]model.LateInterestRule, error) {
	args := m.Called(ctx, productID, category)
	return args.Get(0).([]model.LateInterestRule), args.Error(1)
}

func (m *MockDataSource) GetBillingConcepts(ctx context.Context, productID int64) ([]model.BillingConcept, error) {
	args := m.Called(ctx, productID)
	return args.Get(0).([]model.BillingConcept), args.Error(1)
}

func (m *MockDataSource) GetInsuranceCompany(ctx context.Context, id int64) (*model.InsuranceCompany, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InsuranceCompany), args.Error(1)
}

func (m *MockDataSource) GetOpenAccountingPeriod(ctx context.Context, date time.Time) (*model.AccountingPeriod, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AccountingPeriod), args.Error(1)
}
