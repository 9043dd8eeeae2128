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
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crediflow/cartera/internal/apierror"
	"github.com/crediflow/cartera/model"
)

// chargeLine is one computed charge against a loan installment, together
// with the configuration of where it posts: the receivable side is split
// across the owner's distribution lines, the income side credits a single
// account.
type chargeLine struct {
	InstallmentNo   int
	DueDate         time.Time
	Amount          decimal.Decimal
	IncomeAccountID int64
	CostCenterID    int64
	Lines           []model.DistributionLine
}

// buildPosting turns a loan's computed charges into a balanced posting with
// the portfolio deltas and checkpoint advance. Charges that round to less
// than a cent are dropped; a loan whose charges all vanish still gets its
// checkpoint advanced, just with nothing to post.
func buildPosting(rc *runContext, loan model.Loan, charges []chargeLine) (*model.LoanPosting, error) {
	posting := &model.LoanPosting{
		RunID:  rc.run.RunID,
		LoanID: loan.ID,
		Movement: model.PortfolioMovement{
			MovementDate: rc.run.TransactionDate,
		},
		Checkpoint: model.LoanProcessState{
			LoanID:            loan.ID,
			ProcessType:       rc.run.ProcessType,
			LastProcessedDate: rc.run.ProcessDate,
			LastRunID:         rc.run.RunID,
		},
	}

	seq := 0
	for _, charge := range charges {
		amount := model.Round2(charge.Amount)
		if model.IsNegligible(amount) {
			continue
		}
		if len(charge.Lines) == 0 {
			return nil, apierror.NewAPIError(apierror.ErrBadRequest,
				fmt.Sprintf("No distribution lines configured for loan %s", loan.Reference), nil)
		}
		seq++

		percentLines := make([]model.PercentLine, len(charge.Lines))
		byID := make(map[int64]model.DistributionLine, len(charge.Lines))
		for i, line := range charge.Lines {
			if line.Nature != model.NatureDebit || line.AccountKind != model.AccountReceivable {
				return nil, apierror.NewAPIError(apierror.ErrBadRequest,
					fmt.Sprintf("Distribution line %d must debit a receivable account", line.ID), nil)
			}
			percentLines[i] = model.PercentLine{ID: line.ID, Percentage: line.Percentage}
			byID[line.ID] = line
		}

		allocated := model.AllocateByPercentage(amount, percentLines)
		for _, pl := range percentLines {
			part := allocated[pl.ID]
			if part.Sign() == 0 {
				continue
			}
			line := byID[pl.ID]
			posting.Entries = append(posting.Entries, model.AccountingEntry{
				DocumentCode:   rc.documentCode,
				SequenceNo:     seq,
				EntryDate:      rc.run.TransactionDate,
				AccountID:      line.AccountID,
				CostCenterID:   line.CostCenterID,
				CounterpartyID: loan.CounterpartyID,
				Nature:         model.NatureDebit,
				Amount:         part,
				LoanID:         loan.ID,
				InstallmentNo:  charge.InstallmentNo,
				DueDate:        charge.DueDate,
				RunID:          rc.run.RunID,
			})
			posting.Movement.Deltas = append(posting.Movement.Deltas, model.PortfolioDelta{
				AccountID:      line.AccountID,
				CounterpartyID: loan.CounterpartyID,
				LoanID:         loan.ID,
				InstallmentNo:  charge.InstallmentNo,
				DueDate:        charge.DueDate,
				ChargeDelta:    part,
				PaymentDelta:   decimal.Zero,
			})
		}

		posting.Entries = append(posting.Entries, model.AccountingEntry{
			DocumentCode:   rc.documentCode,
			SequenceNo:     seq,
			EntryDate:      rc.run.TransactionDate,
			AccountID:      charge.IncomeAccountID,
			CostCenterID:   charge.CostCenterID,
			CounterpartyID: loan.CounterpartyID,
			Nature:         model.NatureCredit,
			Amount:         amount,
			LoanID:         loan.ID,
			InstallmentNo:  charge.InstallmentNo,
			DueDate:        charge.DueDate,
			RunID:          rc.run.RunID,
		})
	}

	if len(posting.Entries) > 0 && !model.Balanced(posting.Entries) {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer,
			fmt.Sprintf("Unbalanced posting computed for loan %s", loan.Reference), nil)
	}
	return posting, nil
}
