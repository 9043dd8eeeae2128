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
	"fmt"
	"time"

	"github.com/crediflow/cartera/internal/apierror"
	"github.com/crediflow/cartera/model"
)

// accrueLateInterest computes the penalty interest a loan owes on its
// overdue installments. Which rule applies, and whether one rule covers the
// whole loan or each installment ages independently, is product
// configuration.
func (s *Cartera) accrueLateInterest(ctx context.Context, rc *runContext, loan model.Loan) (*model.LoanPosting, error) {
	product, err := rc.product(ctx, loan.ProductID)
	if err != nil {
		return nil, err
	}

	state, err := s.datasource.GetLoanProcessState(ctx, loan.ID, rc.run.ProcessType)
	if err != nil {
		return nil, err
	}
	days, due := model.AccrualInterval(state, loan.DisbursedAt, rc.run.ProcessDate)
	if !due {
		return nil, nil
	}

	balances, err := s.datasource.GetOpenBalances(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	overdue := overdueBalances(balances, product.CapitalAccountID, rc.run.ProcessDate)
	if len(overdue) == 0 {
		// Loan is current; advance the checkpoint with nothing to post.
		return buildPosting(rc, loan, nil)
	}

	rules, err := rc.lateRules(ctx, product.ID, product.LateCategory)
	if err != nil {
		return nil, err
	}

	lines, err := rc.distributionLines(ctx, model.OwnerProduct, product.ID)
	if err != nil {
		return nil, err
	}
	lateLines := receivableLinesOrAll(lines)

	switch product.LateAgeBasis {
	case model.AgeEachInstallment:
		return s.lateInterestPerInstallment(rc, loan, product, rules, overdue, days, lateLines)
	default: // OLDEST_OVERDUE_INSTALLMENT
		return s.lateInterestPooled(rc, loan, product, rules, overdue, days, lateLines)
	}
}

// lateInterestPooled ages the whole loan by its oldest overdue installment:
// one rule, one pooled base, re-split across the overdue installments by
// balance weight.
func (s *Cartera) lateInterestPooled(rc *runContext, loan model.Loan, product *model.CreditProduct, rules []model.LateInterestRule, overdue []model.PortfolioBalance, days int, lines []model.DistributionLine) (*model.LoanPosting, error) {
	oldestDPD := model.DaysBetween(overdue[0].DueDate, rc.run.ProcessDate)
	rule := selectLateRule(rules, oldestDPD)
	if rule == nil {
		return nil, noLateRuleError(loan, oldestDPD)
	}

	base := sumBalances(overdue)
	rate := model.PeriodRate(rule.Rate, days, rule.RateType, rule.DayCount)
	total := model.Round2(base.Mul(rate))

	charges := splitAcrossBalances(total, overdue, product.LateAccountID, lines)
	return buildPosting(rc, loan, charges)
}

// lateInterestPerInstallment lets every overdue installment pick its own
// rule from its own days past due.
func (s *Cartera) lateInterestPerInstallment(rc *runContext, loan model.Loan, product *model.CreditProduct, rules []model.LateInterestRule, overdue []model.PortfolioBalance, days int, lines []model.DistributionLine) (*model.LoanPosting, error) {
	var charges []chargeLine
	for _, b := range overdue {
		dpd := model.DaysBetween(b.DueDate, rc.run.ProcessDate)
		rule := selectLateRule(rules, dpd)
		if rule == nil {
			return nil, noLateRuleError(loan, dpd)
		}
		rate := model.PeriodRate(rule.Rate, days, rule.RateType, rule.DayCount)
		charges = append(charges, chargeLine{
			InstallmentNo:   b.InstallmentNo,
			DueDate:         b.DueDate,
			Amount:          b.Balance.Mul(rate),
			IncomeAccountID: product.LateAccountID,
			Lines:           lines,
		})
	}
	return buildPosting(rc, loan, charges)
}

// noLateRuleError flags a days-past-due value the product's rule table does
// not cover. The rule table is configuration, so the gap is an error the
// run surfaces per loan rather than a quiet skip.
func noLateRuleError(loan model.Loan, daysPastDue int) error {
	return apierror.NewAPIError(apierror.ErrBadRequest,
		fmt.Sprintf("No late interest rule covers %d days past due for loan '%s'", daysPastDue, loan.Reference), nil)
}

// overdueBalances returns the open capital balances due on or before the
// process date, oldest first.
func overdueBalances(balances []model.PortfolioBalance, capitalAccountID int64, processDate time.Time) []model.PortfolioBalance {
	var out []model.PortfolioBalance
	for _, b := range balances {
		if b.AccountID == capitalAccountID && !b.DueDate.After(processDate) && b.Balance.Sign() > 0 {
			out = append(out, b)
		}
	}
	return out
}

// receivableLinesOrAll narrows distribution lines to debit receivable legs.
func receivableLinesOrAll(lines []model.DistributionLine) []model.DistributionLine {
	var out []model.DistributionLine
	for _, l := range lines {
		if l.Nature == model.NatureDebit && l.AccountKind == model.AccountReceivable {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return lines
	}
	return out
}
