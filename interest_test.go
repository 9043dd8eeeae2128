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

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/crediflow/cartera/database/mocks"
	"github.com/crediflow/cartera/model"
)

func interestProduct() *model.CreditProduct {
	return &model.CreditProduct{
		ID: 3, Name: "Consumer", InterestRate: decimal.RequireFromString("24"),
		RateType: model.RateNominalAnnual, DayCount: model.DayCountActual360,
		AccrualMethod: model.AccrualDaily, CapitalAccountID: 100, InterestAccountID: 400,
	}
}

func productLines() []model.DistributionLine {
	return []model.DistributionLine{
		{ID: 1, OwnerType: model.OwnerProduct, OwnerID: 3, AccountID: 110, AccountKind: model.AccountReceivable,
			CostCenterID: 10, Percentage: decimal.RequireFromString("100"), Nature: model.NatureDebit},
	}
}

func interestRun() *model.ProcessRun {
	run := queuedRun(model.ProcessCurrentInterest)
	return run
}

func interestLoan() model.Loan {
	return model.Loan{
		ID: 1, Reference: "CR-0001", Status: model.LoanStatusActive, ProductID: 3, CounterpartyID: 55,
		Principal:       decimal.RequireFromString("1000000"),
		DisbursedAmount: decimal.RequireFromString("1000000"),
		DisbursedAt:     date(2024, 1, 1),
	}
}

func TestAccrueCurrentInterest_ThirtyDayNominalAnnual(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}
	rc := newRunContext(interestRun(), mockDS)
	loan := interestLoan()

	mockDS.On("GetCreditProduct", mock.Anything, int64(3)).Return(interestProduct(), nil)
	mockDS.On("GetLoanProcessState", mock.Anything, int64(1), model.ProcessCurrentInterest).Return(nil, nil)
	mockDS.On("GetOpenBalances", mock.Anything, int64(1)).Return([]model.PortfolioBalance{
		{LoanID: 1, AccountID: 100, InstallmentNo: 1, DueDate: date(2024, 2, 15),
			Balance: decimal.RequireFromString("1000000"), Status: model.BalanceOpen},
	}, nil)
	mockDS.On("GetDistributionLines", mock.Anything, model.OwnerProduct, int64(3)).Return(productLines(), nil)

	// 1,000,000 at 24% nominal annual over 30 days on a 360 base: 20,000.
	posting, err := svc.accrueCurrentInterest(context.Background(), rc, loan)
	assert.NoError(t, err)
	assert.NotNil(t, posting)
	assert.Len(t, posting.Entries, 2)
	assert.Equal(t, "20000", model.DebitTotal(posting.Entries).String())
	assert.Equal(t, "20000", model.CreditTotal(posting.Entries).String())
	assert.True(t, model.Balanced(posting.Entries))

	assert.Equal(t, int64(110), posting.Entries[0].AccountID)
	assert.Equal(t, model.NatureDebit, posting.Entries[0].Nature)
	assert.Equal(t, int64(400), posting.Entries[1].AccountID)
	assert.Equal(t, model.NatureCredit, posting.Entries[1].Nature)
	assert.Contains(t, posting.Entries[0].DocumentCode, "CIN-")

	assert.Len(t, posting.Movement.Deltas, 1)
	assert.Equal(t, "20000", posting.Movement.Deltas[0].ChargeDelta.String())
	assert.Equal(t, date(2024, 1, 31), posting.Checkpoint.LastProcessedDate)
}

func TestAccrueCurrentInterest_CheckpointCovered(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}
	rc := newRunContext(interestRun(), mockDS)
	loan := interestLoan()

	mockDS.On("GetCreditProduct", mock.Anything, int64(3)).Return(interestProduct(), nil)
	mockDS.On("GetLoanProcessState", mock.Anything, int64(1), model.ProcessCurrentInterest).Return(&model.LoanProcessState{
		LoanID: 1, ProcessType: model.ProcessCurrentInterest,
		LastProcessedDate: date(2024, 1, 31), LastRunID: "run_prev",
	}, nil)

	posting, err := svc.accrueCurrentInterest(context.Background(), rc, loan)
	assert.NoError(t, err)
	assert.Nil(t, posting)
	mockDS.AssertNotCalled(t, "GetOpenBalances", mock.Anything, mock.Anything)
}

func TestAccrueCurrentInterest_FromCheckpoint(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}
	rc := newRunContext(interestRun(), mockDS)
	loan := interestLoan()

	mockDS.On("GetCreditProduct", mock.Anything, int64(3)).Return(interestProduct(), nil)
	mockDS.On("GetLoanProcessState", mock.Anything, int64(1), model.ProcessCurrentInterest).Return(&model.LoanProcessState{
		LoanID: 1, ProcessType: model.ProcessCurrentInterest,
		LastProcessedDate: date(2024, 1, 21), LastRunID: "run_prev",
	}, nil)
	mockDS.On("GetOpenBalances", mock.Anything, int64(1)).Return([]model.PortfolioBalance{
		{LoanID: 1, AccountID: 100, InstallmentNo: 1, DueDate: date(2024, 2, 15),
			Balance: decimal.RequireFromString("1000000"), Status: model.BalanceOpen},
	}, nil)
	mockDS.On("GetDistributionLines", mock.Anything, model.OwnerProduct, int64(3)).Return(productLines(), nil)

	// Ten days since the checkpoint: 1,000,000 * 0.24 * 10/360.
	posting, err := svc.accrueCurrentInterest(context.Background(), rc, loan)
	assert.NoError(t, err)
	assert.NotNil(t, posting)
	assert.Equal(t, "6666.67", model.DebitTotal(posting.Entries).StringFixed(2))
}

func TestAccrueCurrentInterest_MonthlyMethodGating(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	product := interestProduct()
	product.AccrualMethod = model.AccrualMonthly
	mockDS.On("GetCreditProduct", mock.Anything, int64(3)).Return(product, nil)
	mockDS.On("GetLoanProcessState", mock.Anything, int64(1), model.ProcessCurrentInterest).Return(nil, nil)

	run := interestRun()
	run.ProcessDate = date(2024, 1, 15) // not month end
	rc := newRunContext(run, mockDS)

	posting, err := svc.accrueCurrentInterest(context.Background(), rc, interestLoan())
	assert.NoError(t, err)
	assert.Nil(t, posting)
}

func TestAccrueCurrentInterest_NoCapitalBalanceAdvancesCheckpoint(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}
	rc := newRunContext(interestRun(), mockDS)

	mockDS.On("GetCreditProduct", mock.Anything, int64(3)).Return(interestProduct(), nil)
	mockDS.On("GetLoanProcessState", mock.Anything, int64(1), model.ProcessCurrentInterest).Return(nil, nil)
	mockDS.On("GetOpenBalances", mock.Anything, int64(1)).Return([]model.PortfolioBalance{}, nil)

	posting, err := svc.accrueCurrentInterest(context.Background(), rc, interestLoan())
	assert.NoError(t, err)
	assert.NotNil(t, posting)
	assert.Empty(t, posting.Entries)
	assert.Equal(t, date(2024, 1, 31), posting.Checkpoint.LastProcessedDate)
}

func TestAccrueCurrentInterest_SplitAcrossInstallmentsSumsExactly(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}
	rc := newRunContext(interestRun(), mockDS)

	mockDS.On("GetCreditProduct", mock.Anything, int64(3)).Return(interestProduct(), nil)
	mockDS.On("GetLoanProcessState", mock.Anything, int64(1), model.ProcessCurrentInterest).Return(nil, nil)
	mockDS.On("GetOpenBalances", mock.Anything, int64(1)).Return([]model.PortfolioBalance{
		{LoanID: 1, AccountID: 100, InstallmentNo: 1, DueDate: date(2024, 2, 15),
			Balance: decimal.RequireFromString("333333.33"), Status: model.BalanceOpen},
		{LoanID: 1, AccountID: 100, InstallmentNo: 2, DueDate: date(2024, 3, 15),
			Balance: decimal.RequireFromString("333333.33"), Status: model.BalanceOpen},
		{LoanID: 1, AccountID: 100, InstallmentNo: 3, DueDate: date(2024, 4, 15),
			Balance: decimal.RequireFromString("333333.34"), Status: model.BalanceOpen},
	}, nil)
	mockDS.On("GetDistributionLines", mock.Anything, model.OwnerProduct, int64(3)).Return(productLines(), nil)

	posting, err := svc.accrueCurrentInterest(context.Background(), rc, interestLoan())
	assert.NoError(t, err)
	assert.NotNil(t, posting)
	assert.True(t, model.Balanced(posting.Entries))
	assert.Equal(t, "20000", model.DebitTotal(posting.Entries).String())
	// Three installments, each a debit plus a credit leg.
	assert.Len(t, posting.Entries, 6)
}
