package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/crediflow/cartera/internal/apierror"
	"github.com/crediflow/cartera/model"
)

// Run statuses as persisted.
const (
	RunStatusQueued    = "QUEUED"
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// RecordProcessRun inserts a new causation run in QUEUED status.
func (d Datasource) RecordProcessRun(ctx context.Context, run *model.ProcessRun) (*model.ProcessRun, error) {
	ctx, span := otel.Tracer("Causation run").Start(ctx, "Saving process run to db")
	defer span.End()

	if run.RunID == "" {
		run.RunID = model.GenerateUUIDWithSuffix("run")
	}
	if run.Status == "" {
		run.Status = RunStatusQueued
	}
	run.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO cartera.process_runs(run_id,process_type,process_date,transaction_date,scope_type,scope_id,status,period_year,period_month,trigger_source,triggered_by,note,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		run.RunID, run.ProcessType, run.ProcessDate, run.TransactionDate, run.ScopeType, run.ScopeID,
		run.Status, run.PeriodYear, run.PeriodMonth, run.TriggerSource, run.TriggeredBy, run.Note, run.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record process run", err)
	}

	return run, nil
}

// GetProcessRun retrieves a run by its id, including the parsed summary.
func (d Datasource) GetProcessRun(ctx context.Context, runID string) (*model.ProcessRun, error) {
	ctx, span := otel.Tracer("Causation run").Start(ctx, "Fetching process run from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, run_id, process_type, process_date, transaction_date, scope_type, scope_id, status,
			period_year, period_month, trigger_source, triggered_by, note, summary, created_at, started_at, finished_at
		FROM cartera.process_runs
		WHERE run_id = $1
	`, runID)

	run, err := scanProcessRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Process run with ID '%s' not found", runID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve process run", err)
	}
	return run, nil
}

// ActiveRunExists checks the duplicate-run invariant: at most one
// non-failed run per (type, date, scope type, scope id) tuple.
func (d Datasource) ActiveRunExists(ctx context.Context, pt model.ProcessType, processDate time.Time, scopeType model.ScopeType, scopeID int64) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM cartera.process_runs
			WHERE process_type = $1 AND process_date = $2 AND scope_type = $3 AND scope_id = $4
			AND status != $5
		)
	`, pt, processDate, scopeType, scopeID, RunStatusFailed).Scan(&exists)

	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check for duplicate run", err)
	}
	return exists, nil
}

// MarkRunRunning transitions a queued run to RUNNING and stamps started_at.
func (d Datasource) MarkRunRunning(ctx context.Context, runID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE cartera.process_runs
		SET status = $2, started_at = NOW()
		WHERE run_id = $1
	`, runID, RunStatusRunning)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark run running", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Process run with ID '%s' not found", runID), nil)
	}
	return nil
}

// CompleteProcessRun stores the aggregated summary and finishes the run.
// A run completes even when individual loans failed; those failures live
// inside the summary.
func (d Datasource) CompleteProcessRun(ctx context.Context, runID string, summary *model.RunSummary, note string) error {
	ctx, span := otel.Tracer("Causation run").Start(ctx, "Completing process run")
	defer span.End()

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal run summary", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		UPDATE cartera.process_runs
		SET status = $2, summary = $3, note = $4, finished_at = NOW()
		WHERE run_id = $1
	`, runID, RunStatusCompleted, summaryJSON, note)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete process run", err)
	}
	return nil
}

// FailProcessRun flips a run to FAILED recording the reason verbatim. The
// run row stays behind as a permanent failure record.
func (d Datasource) FailProcessRun(ctx context.Context, runID string, reason string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE cartera.process_runs
		SET status = $2, note = $3, finished_at = NOW()
		WHERE run_id = $1
	`, runID, RunStatusFailed, reason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fail process run", err)
	}
	return nil
}

// GetProcessRuns lists runs most recent first, for operator tooling.
func (d Datasource) GetProcessRuns(ctx context.Context, limit int, offset int64) ([]*model.ProcessRun, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, run_id, process_type, process_date, transaction_date, scope_type, scope_id, status,
			period_year, period_month, trigger_source, triggered_by, note, summary, created_at, started_at, finished_at
		FROM cartera.process_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve process runs", err)
	}
	defer rows.Close()

	var runs []*model.ProcessRun
	for rows.Next() {
		run, err := scanProcessRun(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan process run", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over process runs", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProcessRun(row rowScanner) (*model.ProcessRun, error) {
	run := &model.ProcessRun{}
	var summaryJSON []byte
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&run.ID, &run.RunID, &run.ProcessType, &run.ProcessDate, &run.TransactionDate,
		&run.ScopeType, &run.ScopeID, &run.Status, &run.PeriodYear, &run.PeriodMonth,
		&run.TriggerSource, &run.TriggeredBy, &run.Note, &summaryJSON,
		&run.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	summary, err := model.ParseRunSummary(summaryJSON)
	if err != nil {
		return nil, err
	}
	run.Summary = summary
	return run, nil
}
