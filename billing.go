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

	"github.com/shopspring/decimal"

	"github.com/crediflow/cartera/internal/apierror"
	"github.com/crediflow/cartera/model"
)

// accrueBillingConcepts charges a loan the ad-hoc billing concepts its
// product carries. Only concepts billed separately with a monthly or
// per-installment frequency participate; capitalized and one-time concepts
// are settled at disbursement, outside causation.
func (s *Cartera) accrueBillingConcepts(ctx context.Context, rc *runContext, loan model.Loan) (*model.LoanPosting, error) {
	product, err := rc.product(ctx, loan.ProductID)
	if err != nil {
		return nil, err
	}

	state, err := s.datasource.GetLoanProcessState(ctx, loan.ID, rc.run.ProcessType)
	if err != nil {
		return nil, err
	}
	if state.Covers(rc.run.ProcessDate) {
		return nil, nil
	}

	concepts, err := rc.billingConcepts(ctx, product.ID)
	if err != nil {
		return nil, err
	}

	var causable []model.BillingConcept
	for _, c := range concepts {
		if c.Causable() {
			causable = append(causable, c)
		}
	}
	if len(causable) == 0 {
		return nil, nil
	}

	installments, err := s.datasource.GetInstallments(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	balances, err := s.datasource.GetOpenBalances(ctx, loan.ID)
	if err != nil {
		return nil, err
	}

	var charges []chargeLine
	for _, concept := range causable {
		conceptCharges, err := s.conceptCharges(ctx, rc, loan, product, concept, state, installments, balances)
		if err != nil {
			return nil, err
		}
		charges = append(charges, conceptCharges...)
	}

	return buildPosting(rc, loan, charges)
}

// conceptCharges resolves one concept into zero or more charge lines,
// honoring frequency gating. PER_INSTALLMENT concepts charge every
// installment falling due since the checkpoint; MONTHLY concepts charge
// once, at month end only, against a reference installment.
func (s *Cartera) conceptCharges(ctx context.Context, rc *runContext, loan model.Loan, product *model.CreditProduct, concept model.BillingConcept, state *model.LoanProcessState, installments []model.Installment, balances []model.PortfolioBalance) ([]chargeLine, error) {
	lines, err := rc.distributionLines(ctx, model.OwnerConcept, concept.ID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		// Concepts without their own split fall back to the product's.
		lines, err = rc.distributionLines(ctx, model.OwnerProduct, product.ID)
		if err != nil {
			return nil, err
		}
	}
	lines = receivableLinesOrAll(lines)

	switch concept.Frequency {
	case model.FrequencyPerInstallment:
		var charges []chargeLine
		for _, inst := range installments {
			if !model.AccrualWindowContains(state, loan.DisbursedAt, inst.DueDate, rc.run.ProcessDate) {
				continue
			}
			base := conceptBase(concept.BaseSelector, loan, balances, &inst)
			amount, err := conceptAmount(concept, base)
			if err != nil {
				return nil, err
			}
			charges = append(charges, chargeLine{
				InstallmentNo:   inst.Number,
				DueDate:         inst.DueDate,
				Amount:          amount,
				IncomeAccountID: concept.IncomeAccountID,
				Lines:           lines,
			})
		}
		return charges, nil

	default: // MONTHLY
		if !model.IsLastDayOfMonth(rc.run.ProcessDate) {
			return nil, nil
		}
		inst := referenceInstallment(installments, rc.run.ProcessDate)
		if inst == nil {
			return nil, nil
		}
		base := conceptBase(concept.BaseSelector, loan, balances, inst)
		amount, err := conceptAmount(concept, base)
		if err != nil {
			return nil, err
		}
		return []chargeLine{{
			InstallmentNo:   inst.Number,
			DueDate:         inst.DueDate,
			Amount:          amount,
			IncomeAccountID: concept.IncomeAccountID,
			Lines:           lines,
		}}, nil
	}
}

// conceptBase resolves the chargeable base for a concept.
func conceptBase(selector model.BaseSelector, loan model.Loan, balances []model.PortfolioBalance, inst *model.Installment) decimal.Decimal {
	switch selector {
	case model.BasePrincipal:
		return loan.Principal
	case model.BaseOutstandingBalance:
		return sumBalances(balances)
	case model.BaseInstallmentTotal:
		if inst != nil {
			return inst.TotalAmount
		}
		return decimal.Zero
	default: // DISBURSED_AMOUNT
		return loan.DisbursedAmount
	}
}

// conceptAmount applies the concept's calculation method, min/max clamp and
// configured rounding to a base amount.
func conceptAmount(concept model.BillingConcept, base decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch concept.CalcMethod {
	case model.CalcFixedAmount:
		amount = concept.FixedAmount
	case model.CalcPercentage:
		amount = base.Mul(concept.Rate).Div(decimal.NewFromInt(100))
	case model.CalcTieredFixed, model.CalcTieredPercentage:
		tier := matchTier(concept.Tiers, base)
		if tier == nil {
			return decimal.Zero, apierror.NewAPIError(apierror.ErrBadRequest,
				fmt.Sprintf("No tier of concept %q covers base %s", concept.Name, base), nil)
		}
		if concept.CalcMethod == model.CalcTieredFixed {
			amount = tier.Amount
		} else {
			amount = base.Mul(tier.Rate).Div(decimal.NewFromInt(100))
		}
	default:
		return decimal.Zero, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("Unknown calculation method %q on concept %q", concept.CalcMethod, concept.Name), nil)
	}

	if concept.MinAmount != nil && amount.Cmp(*concept.MinAmount) < 0 {
		amount = *concept.MinAmount
	}
	if concept.MaxAmount != nil && amount.Cmp(*concept.MaxAmount) > 0 {
		amount = *concept.MaxAmount
	}
	return model.RoundTo(amount, concept.RoundDecimals), nil
}

func matchTier(tiers []model.BillingConceptTier, base decimal.Decimal) *model.BillingConceptTier {
	for i := range tiers {
		if tiers[i].Contains(base) {
			return &tiers[i]
		}
	}
	return nil
}

// referenceInstallment picks the installment a MONTHLY concept charges
// against: the latest one due on or before the process date, or the first
// installment when none has fallen due yet.
func referenceInstallment(installments []model.Installment, processDate time.Time) *model.Installment {
	var ref *model.Installment
	for i := range installments {
		if installments[i].DueDate.After(processDate) {
			continue
		}
		if ref == nil || installments[i].DueDate.After(ref.DueDate) {
			ref = &installments[i]
		}
	}
	if ref == nil && len(installments) > 0 {
		ref = &installments[0]
	}
	return ref
}
