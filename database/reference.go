package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/crediflow/cartera/internal/apierror"
	"github.com/crediflow/cartera/model"
)

func decimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// GetLoan retrieves a single loan by id.
func (d Datasource) GetLoan(ctx context.Context, id int64) (*model.Loan, error) {
	loan := &model.Loan{}
	var insurerID sql.NullInt64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, reference, status, product_id, counterparty_id, insurer_id, principal, disbursed_amount, total_insurance, disbursed_at
		FROM cartera.loans
		WHERE id = $1
	`, id).Scan(&loan.ID, &loan.Reference, &loan.Status, &loan.ProductID, &loan.CounterpartyID,
		&insurerID, &loan.Principal, &loan.DisbursedAmount, &loan.TotalInsurance, &loan.DisbursedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Loan with ID '%d' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve loan", err)
	}
	if insurerID.Valid {
		loan.InsurerID = &insurerID.Int64
	}
	return loan, nil
}

// GetLoansForCausation selects the eligible loan population for a run
// scope. Only loans with accounted disbursements in an active state
// participate in causation.
func (d Datasource) GetLoansForCausation(ctx context.Context, scopeType model.ScopeType, scopeID int64) ([]model.Loan, error) {
	query := `
		SELECT id, reference, status, product_id, counterparty_id, insurer_id, principal, disbursed_amount, total_insurance, disbursed_at
		FROM cartera.loans
		WHERE status IN ($1, $2)
	`
	args := []interface{}{model.LoanStatusActive, model.LoanStatusAccounted}

	switch scopeType {
	case model.ScopeCreditProduct:
		query += " AND product_id = $3"
		args = append(args, scopeID)
	case model.ScopeLoan:
		query += " AND id = $3"
		args = append(args, scopeID)
	}
	query += " ORDER BY id"

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve loans", err)
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		loan := model.Loan{}
		var insurerID sql.NullInt64
		err := rows.Scan(&loan.ID, &loan.Reference, &loan.Status, &loan.ProductID, &loan.CounterpartyID,
			&insurerID, &loan.Principal, &loan.DisbursedAmount, &loan.TotalInsurance, &loan.DisbursedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan loan", err)
		}
		if insurerID.Valid {
			loan.InsurerID = &insurerID.Int64
		}
		loans = append(loans, loan)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over loans", err)
	}
	return loans, nil
}

// GetInstallments returns a loan's payment schedule ordered by number.
func (d Datasource) GetInstallments(ctx context.Context, loanID int64) ([]model.Installment, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT loan_id, number, due_date, total_amount, insurance_amount
		FROM cartera.installments
		WHERE loan_id = $1
		ORDER BY number
	`, loanID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve installments", err)
	}
	defer rows.Close()

	var installments []model.Installment
	for rows.Next() {
		inst := model.Installment{}
		if err := rows.Scan(&inst.LoanID, &inst.Number, &inst.DueDate, &inst.TotalAmount, &inst.InsuranceAmount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan installment", err)
		}
		installments = append(installments, inst)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over installments", err)
	}
	return installments, nil
}

// GetOpenBalances returns the open portfolio-balance rows for a loan,
// oldest due date first. Late interest ages installments from this order.
func (d Datasource) GetOpenBalances(ctx context.Context, loanID int64) ([]model.PortfolioBalance, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, loan_id, account_id, installment_no, due_date, balance, status
		FROM cartera.portfolio_balances
		WHERE loan_id = $1 AND status = $2 AND balance > 0
		ORDER BY due_date, installment_no
	`, loanID, model.BalanceOpen)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve portfolio balances", err)
	}
	defer rows.Close()

	var balances []model.PortfolioBalance
	for rows.Next() {
		b := model.PortfolioBalance{}
		if err := rows.Scan(&b.ID, &b.LoanID, &b.AccountID, &b.InstallmentNo, &b.DueDate, &b.Balance, &b.Status); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan portfolio balance", err)
		}
		balances = append(balances, b)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over portfolio balances", err)
	}
	return balances, nil
}

// GetCreditProduct retrieves a product's accrual configuration, served from
// the reference cache when warm. Product config changes rarely; a short TTL
// keeps a run from re-reading it for every loan.
func (d Datasource) GetCreditProduct(ctx context.Context, id int64) (*model.CreditProduct, error) {
	cacheKey := fmt.Sprintf("product:%d", id)
	product := &model.CreditProduct{}
	if d.Cache != nil {
		if err := d.Cache.Get(ctx, cacheKey, product); err == nil && product.ID != 0 {
			return product, nil
		}
	}

	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, name, interest_rate, rate_type, day_count, accrual_method,
			capital_account_id, interest_account_id, late_account_id, late_age_basis, late_category
		FROM cartera.credit_products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.InterestRate, &product.RateType, &product.DayCount,
		&product.AccrualMethod, &product.CapitalAccountID, &product.InterestAccountID,
		&product.LateAccountID, &product.LateAgeBasis, &product.LateCategory)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Credit product with ID '%d' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credit product", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, cacheKey, product, 5*time.Minute); err != nil {
			logrus.Error("failed to cache credit product", err)
		}
	}
	return product, nil
}

// GetDistributionLines returns the configured split for an owner, ordered
// so allocation is deterministic and the last line absorbs rounding.
func (d Datasource) GetDistributionLines(ctx context.Context, ownerType string, ownerID int64) ([]model.DistributionLine, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, owner_type, owner_id, account_id, account_kind, cost_center_id, percentage, nature
		FROM cartera.distribution_lines
		WHERE owner_type = $1 AND owner_id = $2
		ORDER BY id
	`, ownerType, ownerID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve distribution lines", err)
	}
	defer rows.Close()

	var lines []model.DistributionLine
	for rows.Next() {
		line := model.DistributionLine{}
		err := rows.Scan(&line.ID, &line.OwnerType, &line.OwnerID, &line.AccountID, &line.AccountKind,
			&line.CostCenterID, &line.Percentage, &line.Nature)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan distribution line", err)
		}
		lines = append(lines, line)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over distribution lines", err)
	}
	return lines, nil
}

// GetLateInterestRules returns the rule table for a (product, category)
// pair ordered by priority then days_from descending, which is the
// selection order the late-interest calculator applies.
func (d Datasource) GetLateInterestRules(ctx context.Context, productID int64, category string) ([]model.LateInterestRule, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, product_id, category, priority, days_from, days_to, rate, rate_type, day_count
		FROM cartera.late_interest_rules
		WHERE product_id = $1 AND category = $2
		ORDER BY priority, days_from DESC
	`, productID, category)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve late interest rules", err)
	}
	defer rows.Close()

	var rules []model.LateInterestRule
	for rows.Next() {
		rule := model.LateInterestRule{}
		var daysTo sql.NullInt64
		err := rows.Scan(&rule.ID, &rule.ProductID, &rule.Category, &rule.Priority, &rule.DaysFrom,
			&daysTo, &rule.Rate, &rule.RateType, &rule.DayCount)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan late interest rule", err)
		}
		if daysTo.Valid {
			v := int(daysTo.Int64)
			rule.DaysTo = &v
		}
		rules = append(rules, rule)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over late interest rules", err)
	}
	return rules, nil
}

// GetBillingConcepts returns a product's billing concepts with their tiers.
func (d Datasource) GetBillingConcepts(ctx context.Context, productID int64) ([]model.BillingConcept, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, product_id, name, financing_mode, frequency, base_selector, calc_method,
			rate, fixed_amount, min_amount, max_amount, round_decimals, income_account_id
		FROM cartera.billing_concepts
		WHERE product_id = $1
		ORDER BY id
	`, productID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve billing concepts", err)
	}
	defer rows.Close()

	var concepts []model.BillingConcept
	for rows.Next() {
		c := model.BillingConcept{}
		var minAmount, maxAmount sql.NullString
		err := rows.Scan(&c.ID, &c.ProductID, &c.Name, &c.FinancingMode, &c.Frequency, &c.BaseSelector,
			&c.CalcMethod, &c.Rate, &c.FixedAmount, &minAmount, &maxAmount, &c.RoundDecimals, &c.IncomeAccountID)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan billing concept", err)
		}
		if minAmount.Valid {
			v, err := decimalFromString(minAmount.String)
			if err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Invalid min amount on billing concept", err)
			}
			c.MinAmount = &v
		}
		if maxAmount.Valid {
			v, err := decimalFromString(maxAmount.String)
			if err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Invalid max amount on billing concept", err)
			}
			c.MaxAmount = &v
		}
		concepts = append(concepts, c)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over billing concepts", err)
	}

	for i := range concepts {
		tiers, err := d.getConceptTiers(ctx, concepts[i].ID)
		if err != nil {
			return nil, err
		}
		concepts[i].Tiers = tiers
	}
	return concepts, nil
}

func (d Datasource) getConceptTiers(ctx context.Context, conceptID int64) ([]model.BillingConceptTier, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, concept_id, tier_from, tier_to, rate, amount
		FROM cartera.billing_concept_tiers
		WHERE concept_id = $1
		ORDER BY tier_from
	`, conceptID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve billing concept tiers", err)
	}
	defer rows.Close()

	var tiers []model.BillingConceptTier
	for rows.Next() {
		t := model.BillingConceptTier{}
		var to sql.NullString
		if err := rows.Scan(&t.ID, &t.ConceptID, &t.From, &to, &t.Rate, &t.Amount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan billing concept tier", err)
		}
		if to.Valid {
			v, err := decimalFromString(to.String)
			if err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Invalid tier bound", err)
			}
			t.To = &v
		}
		tiers = append(tiers, t)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over billing concept tiers", err)
	}
	return tiers, nil
}

// GetInsuranceCompany retrieves an insurer by id.
func (d Datasource) GetInsuranceCompany(ctx context.Context, id int64) (*model.InsuranceCompany, error) {
	insurer := &model.InsuranceCompany{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, name, income_account_id
		FROM cartera.insurance_companies
		WHERE id = $1
	`, id).Scan(&insurer.ID, &insurer.Name, &insurer.IncomeAccountID)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Insurance company with ID '%d' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve insurance company", err)
	}
	return insurer, nil
}

// GetOpenAccountingPeriod returns the open period containing the date, or
// (nil, nil) when the period is closed or missing. Callers turn that into a
// validation error; a closed book is not a database fault.
func (d Datasource) GetOpenAccountingPeriod(ctx context.Context, date time.Time) (*model.AccountingPeriod, error) {
	period := &model.AccountingPeriod{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, year, month, status
		FROM cartera.accounting_periods
		WHERE year = $1 AND month = $2 AND status = $3
	`, date.Year(), int(date.Month()), model.PeriodOpen).Scan(&period.ID, &period.Year, &period.Month, &period.Status)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve accounting period", err)
	}
	return period, nil
}
