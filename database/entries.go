package database

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/crediflow/cartera/internal/apierror"
	"github.com/crediflow/cartera/model"
)

// PostLoanAccrual writes one loan's accrual atomically: the balanced entry
// legs, the portfolio-balance deltas they imply, and the checkpoint advance.
// Either all of it commits or none of it does, so a crashed run leaves no
// partially posted loan behind.
func (d Datasource) PostLoanAccrual(ctx context.Context, posting *model.LoanPosting, updater PortfolioUpdater) error {
	ctx, span := otel.Tracer("Causation run").Start(ctx, "Posting loan accrual")
	defer span.End()

	if !model.Balanced(posting.Entries) {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Entries are not balanced", nil)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	now := time.Now()
	for i := range posting.Entries {
		e := &posting.Entries[i]
		if e.EntryID == "" {
			e.EntryID = model.GenerateUUIDWithSuffix("ent")
		}
		if e.Status == "" {
			e.Status = model.EntryStatusDraft
		}
		e.CreatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO cartera.accounting_entries(entry_id,document_code,sequence_no,entry_date,account_id,cost_center_id,counterparty_id,nature,amount,loan_id,installment_no,due_date,status,run_id,created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			e.EntryID, e.DocumentCode, e.SequenceNo, e.EntryDate, e.AccountID, e.CostCenterID,
			e.CounterpartyID, e.Nature, e.Amount, e.LoanID, e.InstallmentNo, e.DueDate,
			e.Status, e.RunID, e.CreatedAt,
		)
		if err != nil {
			tx.Rollback()
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert accounting entry", err)
		}
	}

	if updater != nil && len(posting.Movement.Deltas) > 0 {
		if err := updater.ApplyPortfolioDeltas(ctx, tx, &posting.Movement); err != nil {
			tx.Rollback()
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply portfolio deltas", err)
		}
	}

	posting.Checkpoint.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cartera.loan_process_states(loan_id, process_type, last_processed_date, last_run_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (loan_id, process_type) DO UPDATE
		SET last_processed_date = EXCLUDED.last_processed_date,
			last_run_id = EXCLUDED.last_run_id,
			updated_at = EXCLUDED.updated_at
		WHERE cartera.loan_process_states.last_processed_date < EXCLUDED.last_processed_date
	`, posting.Checkpoint.LoanID, posting.Checkpoint.ProcessType, posting.Checkpoint.LastProcessedDate,
		posting.Checkpoint.LastRunID, posting.Checkpoint.UpdatedAt)
	if err != nil {
		tx.Rollback()
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to advance loan checkpoint", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit loan accrual", err)
	}
	return nil
}

// GetEntriesByRunID returns every entry posted by a run, in posting order.
func (d Datasource) GetEntriesByRunID(ctx context.Context, runID string) ([]model.AccountingEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, entry_id, document_code, sequence_no, entry_date, account_id, cost_center_id, counterparty_id,
			nature, amount, loan_id, installment_no, due_date, status, run_id, created_at
		FROM cartera.accounting_entries
		WHERE run_id = $1
		ORDER BY loan_id, sequence_no, nature
	`, runID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve entries", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetEntriesByDocumentCode returns the entries sharing a document code,
// which groups one process type's legs within a run.
func (d Datasource) GetEntriesByDocumentCode(ctx context.Context, documentCode string) ([]model.AccountingEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, entry_id, document_code, sequence_no, entry_date, account_id, cost_center_id, counterparty_id,
			nature, amount, loan_id, installment_no, due_date, status, run_id, created_at
		FROM cartera.accounting_entries
		WHERE document_code = $1
		ORDER BY loan_id, sequence_no, nature
	`, documentCode)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve entries", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]model.AccountingEntry, error) {
	var entries []model.AccountingEntry
	for rows.Next() {
		e := model.AccountingEntry{}
		err := rows.Scan(&e.ID, &e.EntryID, &e.DocumentCode, &e.SequenceNo, &e.EntryDate,
			&e.AccountID, &e.CostCenterID, &e.CounterpartyID, &e.Nature, &e.Amount,
			&e.LoanID, &e.InstallmentNo, &e.DueDate, &e.Status, &e.RunID, &e.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over entries", err)
	}
	return entries, nil
}

// ApplyPortfolioDeltas is the default portfolio updater: it adjusts the open
// balance of each (loan, account, installment) triple inside the posting
// transaction and closes balances that reach zero.
func (d Datasource) ApplyPortfolioDeltas(ctx context.Context, tx *sql.Tx, movement *model.PortfolioMovement) error {
	for _, delta := range movement.Deltas {
		net := delta.ChargeDelta.Sub(delta.PaymentDelta)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cartera.portfolio_balances(loan_id, account_id, counterparty_id, installment_no, due_date, balance, status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'OPEN', $7)
			ON CONFLICT (loan_id, account_id, installment_no) DO UPDATE
			SET balance = cartera.portfolio_balances.balance + EXCLUDED.balance,
				status = CASE WHEN cartera.portfolio_balances.balance + EXCLUDED.balance <= 0 THEN 'CLOSED' ELSE 'OPEN' END,
				updated_at = EXCLUDED.updated_at
		`, delta.LoanID, delta.AccountID, delta.CounterpartyID, delta.InstallmentNo, delta.DueDate, net, movement.MovementDate)
		if err != nil {
			return err
		}
	}
	return nil
}
