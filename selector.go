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

	"github.com/crediflow/cartera/database"
	"github.com/crediflow/cartera/model"
)

// calculatorFunc computes one loan's accrual for a run. A nil posting with a
// nil error means the loan is not due on this process date.
type calculatorFunc func(ctx context.Context, rc *runContext, loan model.Loan) (*model.LoanPosting, error)

// calculatorFor dispatches a process type to its accrual calculator.
func (s *Cartera) calculatorFor(pt model.ProcessType) calculatorFunc {
	switch pt {
	case model.ProcessCurrentInterest:
		return s.accrueCurrentInterest
	case model.ProcessLateInterest:
		return s.accrueLateInterest
	case model.ProcessInsurance:
		return s.accrueInsurance
	case model.ProcessOther:
		return s.accrueBillingConcepts
	}
	return nil
}

// runContext carries one run's shared state across its loans: the run row,
// the document code, and memoized reference reads. Products, distribution
// lines, rules and concepts are fetched once per run, not once per loan.
type runContext struct {
	run          *model.ProcessRun
	documentCode string
	ds           database.IDataSource

	products map[int64]*model.CreditProduct
	lines    map[string][]model.DistributionLine
	rules    map[string][]model.LateInterestRule
	concepts map[int64][]model.BillingConcept
	insurers map[int64]*model.InsuranceCompany
}

func newRunContext(run *model.ProcessRun, ds database.IDataSource) *runContext {
	return &runContext{
		run:          run,
		documentCode: model.DocumentCode(run.ProcessType, run.RunID),
		ds:           ds,
		products:     make(map[int64]*model.CreditProduct),
		lines:        make(map[string][]model.DistributionLine),
		rules:        make(map[string][]model.LateInterestRule),
		concepts:     make(map[int64][]model.BillingConcept),
		insurers:     make(map[int64]*model.InsuranceCompany),
	}
}

func (rc *runContext) product(ctx context.Context, id int64) (*model.CreditProduct, error) {
	if p, ok := rc.products[id]; ok {
		return p, nil
	}
	p, err := rc.ds.GetCreditProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	rc.products[id] = p
	return p, nil
}

func (rc *runContext) distributionLines(ctx context.Context, ownerType string, ownerID int64) ([]model.DistributionLine, error) {
	key := fmt.Sprintf("%s:%d", ownerType, ownerID)
	if l, ok := rc.lines[key]; ok {
		return l, nil
	}
	l, err := rc.ds.GetDistributionLines(ctx, ownerType, ownerID)
	if err != nil {
		return nil, err
	}
	rc.lines[key] = l
	return l, nil
}

func (rc *runContext) lateRules(ctx context.Context, productID int64, category string) ([]model.LateInterestRule, error) {
	key := fmt.Sprintf("%d:%s", productID, category)
	if r, ok := rc.rules[key]; ok {
		return r, nil
	}
	r, err := rc.ds.GetLateInterestRules(ctx, productID, category)
	if err != nil {
		return nil, err
	}
	rc.rules[key] = r
	return r, nil
}

func (rc *runContext) billingConcepts(ctx context.Context, productID int64) ([]model.BillingConcept, error) {
	if c, ok := rc.concepts[productID]; ok {
		return c, nil
	}
	c, err := rc.ds.GetBillingConcepts(ctx, productID)
	if err != nil {
		return nil, err
	}
	rc.concepts[productID] = c
	return c, nil
}

func (rc *runContext) insurer(ctx context.Context, id int64) (*model.InsuranceCompany, error) {
	if i, ok := rc.insurers[id]; ok {
		return i, nil
	}
	i, err := rc.ds.GetInsuranceCompany(ctx, id)
	if err != nil {
		return nil, err
	}
	rc.insurers[id] = i
	return i, nil
}

// selectLateRule picks the applicable rule for a days-past-due value. Rules
// arrive ordered by priority then days_from descending, so the first match
// is the most specific one.
func selectLateRule(rules []model.LateInterestRule, daysPastDue int) *model.LateInterestRule {
	for i := range rules {
		if rules[i].Matches(daysPastDue) {
			return &rules[i]
		}
	}
	return nil
}
