/*
Copyright 2024 Cartera Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cartera

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/crediflow/cartera/database"
	"github.com/crediflow/cartera/database/mocks"
	"github.com/crediflow/cartera/internal/apierror"
	"github.com/crediflow/cartera/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func openPeriod(y, m int) *model.AccountingPeriod {
	return &model.AccountingPeriod{ID: 1, Year: y, Month: m, Status: model.PeriodOpen}
}

func TestCreateRun_RejectsInvalidRequest(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	_, err := svc.CreateRun(context.Background(), RunRequest{
		ProcessType: "SOMETHING_ELSE",
		ProcessDate: date(2024, 1, 31),
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrBadRequest, apierror.CodeOf(err))

	_, err = svc.CreateRun(context.Background(), RunRequest{
		ProcessType: model.ProcessCurrentInterest,
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrBadRequest, apierror.CodeOf(err))
}

func TestCreateRun_RequiresScopeID(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	_, err := svc.CreateRun(context.Background(), RunRequest{
		ProcessType: model.ProcessCurrentInterest,
		ProcessDate: date(2024, 1, 31),
		ScopeType:   model.ScopeCreditProduct,
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrBadRequest, apierror.CodeOf(err))
}

func TestCreateRun_ClosedPeriod(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	mockDS.On("GetOpenAccountingPeriod", mock.Anything, date(2024, 1, 31)).Return(nil, nil)

	_, err := svc.CreateRun(context.Background(), RunRequest{
		ProcessType: model.ProcessCurrentInterest,
		ProcessDate: date(2024, 1, 31),
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrBadRequest, apierror.CodeOf(err))
	assert.Contains(t, err.Error(), "not open")
}

func TestCreateRun_PeriodGateUsesProcessDate(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	// Only the process date's period is consulted, even when the posting
	// lands in a later month.
	mockDS.On("GetOpenAccountingPeriod", mock.Anything, date(2024, 1, 31)).Return(nil, nil)

	_, err := svc.CreateRun(context.Background(), RunRequest{
		ProcessType:     model.ProcessCurrentInterest,
		ProcessDate:     date(2024, 1, 31),
		TransactionDate: date(2024, 2, 5),
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrBadRequest, apierror.CodeOf(err))
	assert.Contains(t, err.Error(), "2024-01")
}

func TestCreateRun_UnknownProductScope(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	mockDS.On("GetOpenAccountingPeriod", mock.Anything, date(2024, 1, 31)).Return(openPeriod(2024, 1), nil)
	mockDS.On("GetCreditProduct", mock.Anything, int64(99)).
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Credit product with ID '99' not found", nil))

	_, err := svc.CreateRun(context.Background(), RunRequest{
		ProcessType: model.ProcessCurrentInterest,
		ProcessDate: date(2024, 1, 31),
		ScopeType:   model.ScopeCreditProduct,
		ScopeID:     99,
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, apierror.CodeOf(err))
}

func TestCreateRun_DuplicateConflict(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	mockDS.On("GetOpenAccountingPeriod", mock.Anything, date(2024, 1, 31)).Return(openPeriod(2024, 1), nil)
	mockDS.On("ActiveRunExists", mock.Anything, model.ProcessCurrentInterest, date(2024, 1, 31), model.ScopeGeneral, int64(0)).
		Return(true, nil)

	_, err := svc.CreateRun(context.Background(), RunRequest{
		ProcessType: model.ProcessCurrentInterest,
		ProcessDate: date(2024, 1, 31),
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
	mockDS.AssertNotCalled(t, "RecordProcessRun", mock.Anything, mock.Anything)
}

func newTestRedis(t *testing.T) goredis.UniversalClient {
	mr := miniredis.RunT(t)
	return goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
}

func queuedRun(pt model.ProcessType) *model.ProcessRun {
	return &model.ProcessRun{
		RunID:           "run_test1",
		ProcessType:     pt,
		ProcessDate:     date(2024, 1, 31),
		TransactionDate: date(2024, 1, 31),
		ScopeType:       model.ScopeGeneral,
		Status:          database.RunStatusQueued,
		PeriodYear:      2024,
		PeriodMonth:     1,
		TriggerSource:   model.TriggerManual,
		TriggeredBy:     gofakeit.Email(),
	}
}

func TestExecuteRun_AlreadyCompletedIsNoOp(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	run := queuedRun(model.ProcessCurrentInterest)
	run.Status = database.RunStatusCompleted
	mockDS.On("GetProcessRun", mock.Anything, "run_test1").Return(run, nil)

	err := svc.ExecuteRun(context.Background(), "run_test1")
	assert.NoError(t, err)
	mockDS.AssertNotCalled(t, "MarkRunRunning", mock.Anything, mock.Anything)
}

func TestExecuteRun_PerLoanErrorIsolation(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS, redis: newTestRedis(t)}
	ctx := context.Background()

	run := queuedRun(model.ProcessCurrentInterest)
	mockDS.On("GetProcessRun", mock.Anything, "run_test1").Return(run, nil)
	mockDS.On("MarkRunRunning", mock.Anything, "run_test1").Return(nil)

	loans := []model.Loan{
		{ID: 1, Reference: "CR-0001", ProductID: 3, CounterpartyID: 55,
			Principal: decimal.RequireFromString("1000000"), DisbursedAmount: decimal.RequireFromString("1000000"),
			DisbursedAt: date(2024, 1, 1)},
		{ID: 2, Reference: "CR-0002", ProductID: 4, CounterpartyID: 56,
			Principal: decimal.RequireFromString("500000"), DisbursedAmount: decimal.RequireFromString("500000"),
			DisbursedAt: date(2024, 1, 1)},
	}
	mockDS.On("GetLoansForCausation", mock.Anything, model.ScopeGeneral, int64(0)).Return(loans, nil)

	product := &model.CreditProduct{
		ID: 3, InterestRate: decimal.RequireFromString("24"), RateType: model.RateNominalAnnual,
		DayCount: model.DayCountActual360, AccrualMethod: model.AccrualDaily,
		CapitalAccountID: 100, InterestAccountID: 400,
	}
	mockDS.On("GetCreditProduct", mock.Anything, int64(3)).Return(product, nil)
	mockDS.On("GetCreditProduct", mock.Anything, int64(4)).
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Credit product with ID '4' not found", nil))

	mockDS.On("GetLoanProcessState", mock.Anything, int64(1), model.ProcessCurrentInterest).Return(nil, nil)
	mockDS.On("GetOpenBalances", mock.Anything, int64(1)).Return([]model.PortfolioBalance{
		{LoanID: 1, AccountID: 100, InstallmentNo: 1, DueDate: date(2024, 2, 15),
			Balance: decimal.RequireFromString("1000000"), Status: model.BalanceOpen},
	}, nil)
	mockDS.On("GetDistributionLines", mock.Anything, model.OwnerProduct, int64(3)).Return([]model.DistributionLine{
		{ID: 1, OwnerType: model.OwnerProduct, OwnerID: 3, AccountID: 110, AccountKind: model.AccountReceivable,
			CostCenterID: 10, Percentage: decimal.RequireFromString("100"), Nature: model.NatureDebit},
	}, nil)
	mockDS.On("PostLoanAccrual", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var saved *model.RunSummary
	var note string
	mockDS.On("CompleteProcessRun", mock.Anything, "run_test1", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			saved = args.Get(2).(*model.RunSummary)
			note = args.Get(3).(string)
		}).Return(nil)

	err := svc.ExecuteRun(ctx, "run_test1")
	assert.NoError(t, err)
	assert.NotNil(t, saved)
	assert.Equal(t, 2, saved.ReviewedCredits)
	assert.Equal(t, 1, saved.AccruedCredits)
	assert.Equal(t, 1, saved.FailedCredits)
	assert.Equal(t, "20000", saved.TotalAccruedAmount.String())
	assert.Len(t, saved.Errors, 1)
	assert.Equal(t, int64(2), saved.Errors[0].LoanID)
	assert.Equal(t, "1 loans accrued, 1 failed of 2 reviewed", note)
}

func TestExecuteRun_EmptyScopedPopulationFails(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS, redis: newTestRedis(t)}

	run := queuedRun(model.ProcessCurrentInterest)
	run.ScopeType = model.ScopeCreditProduct
	run.ScopeID = 42
	mockDS.On("GetProcessRun", mock.Anything, "run_test1").Return(run, nil)
	mockDS.On("MarkRunRunning", mock.Anything, "run_test1").Return(nil)
	mockDS.On("GetLoansForCausation", mock.Anything, model.ScopeCreditProduct, int64(42)).
		Return([]model.Loan{}, nil)

	var reason string
	mockDS.On("FailProcessRun", mock.Anything, "run_test1", mock.Anything).
		Run(func(args mock.Arguments) { reason = args.Get(2).(string) }).Return(nil)

	// A scoped run over zero loans is a caller mistake, not a quiet success.
	err := svc.ExecuteRun(context.Background(), "run_test1")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, apierror.CodeOf(err))
	assert.Contains(t, reason, "42")
	mockDS.AssertNotCalled(t, "CompleteProcessRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteRun_RunLevelFailure(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS, redis: newTestRedis(t)}

	run := queuedRun(model.ProcessCurrentInterest)
	mockDS.On("GetProcessRun", mock.Anything, "run_test1").Return(run, nil)
	mockDS.On("MarkRunRunning", mock.Anything, "run_test1").Return(nil)
	mockDS.On("GetLoansForCausation", mock.Anything, model.ScopeGeneral, int64(0)).
		Return([]model.Loan{}, apierror.NewAPIError(apierror.ErrInternalServer, "db down", nil))
	mockDS.On("FailProcessRun", mock.Anything, "run_test1", mock.Anything).Return(nil)

	err := svc.ExecuteRun(context.Background(), "run_test1")
	assert.Error(t, err)
	mockDS.AssertCalled(t, "FailProcessRun", mock.Anything, "run_test1", mock.Anything)
	mockDS.AssertNotCalled(t, "CompleteProcessRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetRunStatus_Projection(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	started := date(2024, 1, 31).Add(2 * time.Hour)
	finished := started.Add(5 * time.Minute)
	run := queuedRun(model.ProcessLateInterest)
	run.Status = database.RunStatusCompleted
	run.StartedAt = &started
	run.FinishedAt = &finished
	run.Summary = &model.RunSummary{
		ReviewedCredits: 12, AccruedCredits: 10, FailedCredits: 2,
		TotalAccruedAmount: decimal.RequireFromString("1500"),
		Errors:             []model.LoanError{{LoanID: 9, Reference: "CR-0009", Reason: "no capital balance"}},
	}
	mockDS.On("GetProcessRun", mock.Anything, "run_test1").Return(run, nil)

	view, err := svc.GetRunStatus(context.Background(), "run_test1")
	assert.NoError(t, err)
	assert.Equal(t, "LATE_INTEREST", view.ProcessType)
	assert.Equal(t, "2024-01-31", view.ProcessDate)
	assert.Equal(t, database.RunStatusCompleted, view.Status)
	assert.Equal(t, 12, view.ReviewedCredits)
	assert.Equal(t, "1500.00", view.TotalAccrued)
	assert.NotNil(t, view.StartedAt)
	assert.NotNil(t, view.FinishedAt)
	assert.NotNil(t, view.Errors)
}

func TestGetRunStatus_NotFound(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	mockDS.On("GetProcessRun", mock.Anything, "missing").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Process run with ID 'missing' not found", nil))

	_, err := svc.GetRunStatus(context.Background(), "missing")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, apierror.CodeOf(err))
}
