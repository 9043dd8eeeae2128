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

	"github.com/crediflow/cartera/model"
)

// accrueInsurance posts the premium of the installments falling due since
// the loan's checkpoint, crediting the insurer's income account. Loans
// without an insurer or without insurance amounts are skipped outright.
func (s *Cartera) accrueInsurance(ctx context.Context, rc *runContext, loan model.Loan) (*model.LoanPosting, error) {
	if loan.InsurerID == nil || loan.TotalInsurance.Sign() <= 0 {
		return nil, nil
	}

	state, err := s.datasource.GetLoanProcessState(ctx, loan.ID, rc.run.ProcessType)
	if err != nil {
		return nil, err
	}
	if state.Covers(rc.run.ProcessDate) {
		return nil, nil
	}

	installments, err := s.datasource.GetInstallments(ctx, loan.ID)
	if err != nil {
		return nil, err
	}

	insurer, err := rc.insurer(ctx, *loan.InsurerID)
	if err != nil {
		return nil, err
	}
	lines, err := rc.distributionLines(ctx, model.OwnerInsurer, insurer.ID)
	if err != nil {
		return nil, err
	}
	lines = receivableLinesOrAll(lines)

	var charges []chargeLine
	for _, inst := range installments {
		if !model.AccrualWindowContains(state, loan.DisbursedAt, inst.DueDate, rc.run.ProcessDate) {
			continue
		}
		if inst.InsuranceAmount.Sign() <= 0 {
			continue
		}
		charges = append(charges, chargeLine{
			InstallmentNo:   inst.Number,
			DueDate:         inst.DueDate,
			Amount:          inst.InsuranceAmount,
			IncomeAccountID: insurer.IncomeAccountID,
			Lines:           lines,
		})
	}

	if len(charges) == 0 {
		// Nothing fell due since the checkpoint; advance it so replays stay
		// cheap.
		return buildPosting(rc, loan, nil)
	}
	return buildPosting(rc, loan, charges)
}
