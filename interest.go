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

	"github.com/shopspring/decimal"

	"github.com/crediflow/cartera/model"
)

// accrueCurrentInterest computes the interest accrued by one loan since its
// checkpoint. The base is the open capital balance; the pooled amount is
// split back across open installments by balance weight so the per-line
// amounts sum exactly to the pooled charge.
func (s *Cartera) accrueCurrentInterest(ctx context.Context, rc *runContext, loan model.Loan) (*model.LoanPosting, error) {
	product, err := rc.product(ctx, loan.ProductID)
	if err != nil {
		return nil, err
	}

	state, err := s.datasource.GetLoanProcessState(ctx, loan.ID, rc.run.ProcessType)
	if err != nil {
		return nil, err
	}

	if product.AccrualMethod == model.AccrualMonthly && !model.MonthlyAccrualDue(state, rc.run.ProcessDate) {
		return nil, nil
	}
	days, due := model.AccrualInterval(state, loan.DisbursedAt, rc.run.ProcessDate)
	if !due {
		return nil, nil
	}

	balances, err := s.datasource.GetOpenBalances(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	capital := filterBalances(balances, product.CapitalAccountID)
	base := sumBalances(capital)
	if base.Sign() <= 0 {
		// Nothing left to accrue on; advance the checkpoint so the loan
		// is not re-reviewed every run.
		return buildPosting(rc, loan, nil)
	}

	rate := model.PeriodRate(product.InterestRate, days, product.RateType, product.DayCount)
	total := model.Round2(base.Mul(rate))

	lines, err := rc.distributionLines(ctx, model.OwnerProduct, product.ID)
	if err != nil {
		return nil, err
	}

	charges := splitAcrossBalances(total, capital, product.InterestAccountID, receivableLinesOrAll(lines))
	return buildPosting(rc, loan, charges)
}

func filterBalances(balances []model.PortfolioBalance, accountID int64) []model.PortfolioBalance {
	var out []model.PortfolioBalance
	for _, b := range balances {
		if b.AccountID == accountID {
			out = append(out, b)
		}
	}
	return out
}

func sumBalances(balances []model.PortfolioBalance) decimal.Decimal {
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b.Balance)
	}
	return total
}

// splitAcrossBalances distributes a pooled charge across balance rows in
// proportion to their open amounts, one charge line per installment. The
// last line absorbs the rounding remainder.
func splitAcrossBalances(total decimal.Decimal, balances []model.PortfolioBalance, incomeAccountID int64, lines []model.DistributionLine) []chargeLine {
	if len(balances) == 0 {
		return nil
	}
	weights := make([]decimal.Decimal, len(balances))
	for i, b := range balances {
		weights[i] = b.Balance
	}
	parts := model.AllocateByWeight(total, weights)

	charges := make([]chargeLine, 0, len(balances))
	for i, b := range balances {
		charges = append(charges, chargeLine{
			InstallmentNo:   b.InstallmentNo,
			DueDate:         b.DueDate,
			Amount:          parts[i],
			IncomeAccountID: incomeAccountID,
			Lines:           lines,
		})
	}
	return charges
}
