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

func insuredLoan() model.Loan {
	insurerID := int64(12)
	loan := interestLoan()
	loan.InsurerID = &insurerID
	loan.TotalInsurance = decimal.RequireFromString("36000")
	return loan
}

func insurerLines() []model.DistributionLine {
	return []model.DistributionLine{
		{ID: 5, OwnerType: model.OwnerInsurer, OwnerID: 12, AccountID: 120, AccountKind: model.AccountReceivable,
			CostCenterID: 11, Percentage: decimal.RequireFromString("100"), Nature: model.NatureDebit},
	}
}

func TestAccrueInsurance_MonthPremium(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	run := queuedRun(model.ProcessInsurance)
	rc := newRunContext(run, mockDS)
	loan := insuredLoan()

	mockDS.On("GetLoanProcessState", mock.Anything, int64(1), model.ProcessInsurance).Return(nil, nil)
	mockDS.On("GetInstallments", mock.Anything, int64(1)).Return([]model.Installment{
		{LoanID: 1, Number: 1, DueDate: date(2024, 1, 15), TotalAmount: decimal.RequireFromString("90000"),
			InsuranceAmount: decimal.RequireFromString("3000")},
		{LoanID: 1, Number: 2, DueDate: date(2024, 2, 15), TotalAmount: decimal.RequireFromString("90000"),
			InsuranceAmount: decimal.RequireFromString("3000")},
	}, nil)
	mockDS.On("GetInsuranceCompany", mock.Anything, int64(12)).
		Return(&model.InsuranceCompany{ID: 12, Name: "Seguros Uno", IncomeAccountID: 420}, nil)
	mockDS.On("GetDistributionLines", mock.Anything, model.OwnerInsurer, int64(12)).Return(insurerLines(), nil)

	// Only the January installment falls inside (disbursement, processDate].
	posting, err := svc.accrueInsurance(context.Background(), rc, loan)
	assert.NoError(t, err)
	assert.NotNil(t, posting)
	assert.Len(t, posting.Entries, 2)
	assert.Equal(t, "3000", model.DebitTotal(posting.Entries).String())
	assert.Equal(t, int64(120), posting.Entries[0].AccountID)
	assert.Equal(t, int64(420), posting.Entries[1].AccountID)
	assert.Contains(t, posting.Entries[0].DocumentCode, "INS-")
	assert.True(t, model.Balanced(posting.Entries))
}

func TestAccrueInsurance_SkippedMonthsStillCharged(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}

	run := queuedRun(model.ProcessInsurance)
	run.ProcessDate = date(2024, 8, 31)
	run.TransactionDate = date(2024, 8, 31)
	rc := newRunContext(run, mockDS)
	loan := insuredLoan()

	// No run happened in July; the checkpoint still sits at the end of June.
	mockDS.On("GetLoanProcessState", mock.Anything, int64(1), model.ProcessInsurance).Return(&model.LoanProcessState{
		LoanID: 1, ProcessType: model.ProcessInsurance,
		LastProcessedDate: date(2024, 6, 30), LastRunID: "run_prev",
	}, nil)
	mockDS.On("GetInstallments", mock.Anything, int64(1)).Return([]model.Installment{
		{LoanID: 1, Number: 7, DueDate: date(2024, 7, 15), TotalAmount: decimal.RequireFromString("90000"),
			InsuranceAmount: decimal.RequireFromString("3000")},
		{LoanID: 1, Number: 8, DueDate: date(2024, 8, 15), TotalAmount: decimal.RequireFromString("90000"),
			InsuranceAmount: decimal.RequireFromString("3000")},
		{LoanID: 1, Number: 9, DueDate: date(2024, 9, 15), TotalAmount: decimal.RequireFromString("90000"),
			InsuranceAmount: decimal.RequireFromString("3000")},
	}, nil)
	mockDS.On("GetInsuranceCompany", mock.Anything, int64(12)).
		Return(&model.InsuranceCompany{ID: 12, Name: "Seguros Uno", IncomeAccountID: 420}, nil)
	mockDS.On("GetDistributionLines", mock.Anything, model.OwnerInsurer, int64(12)).Return(insurerLines(), nil)

	// Both the July and August premiums fall in (checkpoint, processDate];
	// September stays out.
	posting, err := svc.accrueInsurance(context.Background(), rc, loan)
	assert.NoError(t, err)
	assert.NotNil(t, posting)
	assert.Len(t, posting.Entries, 4)
	assert.Equal(t, "6000", model.DebitTotal(posting.Entries).String())
	assert.True(t, model.Balanced(posting.Entries))
	assert.Equal(t, date(2024, 8, 31), posting.Checkpoint.LastProcessedDate)

	installments := map[int]bool{}
	for _, e := range posting.Entries {
		if e.Nature == model.NatureDebit {
			installments[e.InstallmentNo] = true
		}
	}
	assert.True(t, installments[7])
	assert.True(t, installments[8])
	assert.False(t, installments[9])
}

func TestAccrueInsurance_UninsuredLoanSkipped(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}
	rc := newRunContext(queuedRun(model.ProcessInsurance), mockDS)

	posting, err := svc.accrueInsurance(context.Background(), rc, interestLoan())
	assert.NoError(t, err)
	assert.Nil(t, posting)
	mockDS.AssertNotCalled(t, "GetInstallments", mock.Anything, mock.Anything)
}

func TestAccrueInsurance_AlreadyAccruedThisMonth(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}
	rc := newRunContext(queuedRun(model.ProcessInsurance), mockDS)

	mockDS.On("GetLoanProcessState", mock.Anything, int64(1), model.ProcessInsurance).Return(&model.LoanProcessState{
		LoanID: 1, ProcessType: model.ProcessInsurance,
		LastProcessedDate: date(2024, 1, 31), LastRunID: "run_prev",
	}, nil)

	posting, err := svc.accrueInsurance(context.Background(), rc, insuredLoan())
	assert.NoError(t, err)
	assert.Nil(t, posting)
}

func TestAccrueInsurance_NoInstallmentDueAdvancesCheckpoint(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	svc := &Cartera{datasource: mockDS}
	rc := newRunContext(queuedRun(model.ProcessInsurance), mockDS)

	mockDS.On("GetLoanProcessState", mock.Anything, int64(1), model.ProcessInsurance).Return(nil, nil)
	mockDS.On("GetInstallments", mock.Anything, int64(1)).Return([]model.Installment{
		{LoanID: 1, Number: 1, DueDate: date(2024, 3, 15), InsuranceAmount: decimal.RequireFromString("3000")},
	}, nil)
	mockDS.On("GetInsuranceCompany", mock.Anything, int64(12)).
		Return(&model.InsuranceCompany{ID: 12, Name: "Seguros Uno", IncomeAccountID: 420}, nil)
	mockDS.On("GetDistributionLines", mock.Anything, model.OwnerInsurer, int64(12)).Return(insurerLines(), nil)

	posting, err := svc.accrueInsurance(context.Background(), rc, insuredLoan())
	assert.NoError(t, err)
	assert.NotNil(t, posting)
	assert.Empty(t, posting.Entries)
	assert.Equal(t, date(2024, 1, 31), posting.Checkpoint.LastProcessedDate)
}
