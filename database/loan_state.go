package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/crediflow/cartera/internal/apierror"
	"github.com/crediflow/cartera/model"
)

// GetLoanProcessState fetches the accrual checkpoint for a loan and process
// type. A missing checkpoint is not an error; it returns (nil, nil) and the
// caller anchors on the loan's disbursement date instead.
func (d Datasource) GetLoanProcessState(ctx context.Context, loanID int64, pt model.ProcessType) (*model.LoanProcessState, error) {
	state := &model.LoanProcessState{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT loan_id, process_type, last_processed_date, last_run_id, updated_at
		FROM cartera.loan_process_states
		WHERE loan_id = $1 AND process_type = $2
	`, loanID, pt).Scan(&state.LoanID, &state.ProcessType, &state.LastProcessedDate, &state.LastRunID, &state.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve loan process state", err)
	}
	return state, nil
}

// UpsertLoanProcessState advances a checkpoint. The WHERE clause on the
// conflict branch keeps the checkpoint monotonic: an older date never
// overwrites a newer one, so replayed runs cannot move a loan backwards.
func (d Datasource) UpsertLoanProcessState(ctx context.Context, state *model.LoanProcessState) error {
	state.UpdatedAt = time.Now()
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO cartera.loan_process_states(loan_id, process_type, last_processed_date, last_run_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (loan_id, process_type) DO UPDATE
		SET last_processed_date = EXCLUDED.last_processed_date,
			last_run_id = EXCLUDED.last_run_id,
			updated_at = EXCLUDED.updated_at
		WHERE cartera.loan_process_states.last_processed_date < EXCLUDED.last_processed_date
	`, state.LoanID, state.ProcessType, state.LastProcessedDate, state.LastRunID, state.UpdatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to upsert loan process state", err)
	}
	return nil
}
