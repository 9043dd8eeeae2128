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

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/crediflow/cartera/database"
	"github.com/crediflow/cartera/internal/apierror"
	redlock "github.com/crediflow/cartera/internal/lock"
	"github.com/crediflow/cartera/internal/notification"
	"github.com/crediflow/cartera/model"
)

const runLockDuration = 30 * time.Minute

// RunRequest is the input for creating a causation run.
type RunRequest struct {
	ProcessType     model.ProcessType   `json:"process_type"`
	ProcessDate     time.Time           `json:"process_date"`
	TransactionDate time.Time           `json:"transaction_date"`
	ScopeType       model.ScopeType     `json:"scope_type"`
	ScopeID         int64               `json:"scope_id"`
	TriggerSource   model.TriggerSource `json:"trigger_source"`
	TriggeredBy     string              `json:"triggered_by"`
}

func (r RunRequest) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProcessType, validation.Required, validation.By(func(interface{}) error {
			if !r.ProcessType.Valid() {
				return fmt.Errorf("unknown process type %q", r.ProcessType)
			}
			return nil
		})),
		validation.Field(&r.ProcessDate, validation.Required),
		validation.Field(&r.ScopeType, validation.By(func(interface{}) error {
			if r.ScopeType != "" && !r.ScopeType.Valid() {
				return fmt.Errorf("unknown scope type %q", r.ScopeType)
			}
			return nil
		})),
		validation.Field(&r.ScopeID, validation.By(func(interface{}) error {
			if r.ScopeType != "" && r.ScopeType != model.ScopeGeneral && r.ScopeID == 0 {
				return fmt.Errorf("scope id is required for %s scope", r.ScopeType)
			}
			return nil
		})),
	)
}

// CreateRun validates a run request, enforces the open-period and
// single-active-run invariants, persists the run and queues it for
// execution. The returned run is in QUEUED status.
func (s *Cartera) CreateRun(ctx context.Context, req RunRequest) (*model.ProcessRun, error) {
	ctx, span := otel.Tracer("Causation run").Start(ctx, "Creating process run")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, err.Error(), err)
	}

	if req.ScopeType == "" {
		req.ScopeType = model.ScopeGeneral
	}
	if req.TransactionDate.IsZero() {
		req.TransactionDate = req.ProcessDate
	}
	if req.TriggerSource == "" {
		req.TriggerSource = model.TriggerManual
	}

	period, err := s.datasource.GetOpenAccountingPeriod(ctx, req.ProcessDate)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("Accounting period %d-%02d is not open", req.ProcessDate.Year(), int(req.ProcessDate.Month())), nil)
	}

	if err := s.checkRunScope(ctx, req); err != nil {
		return nil, err
	}

	exists, err := s.datasource.ActiveRunExists(ctx, req.ProcessType, req.ProcessDate, req.ScopeType, req.ScopeID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("A %s run for %s already exists for this scope", req.ProcessType, req.ProcessDate.Format(time.DateOnly)), nil)
	}

	run := &model.ProcessRun{
		ProcessType:     req.ProcessType,
		ProcessDate:     req.ProcessDate,
		TransactionDate: req.TransactionDate,
		ScopeType:       req.ScopeType,
		ScopeID:         req.ScopeID,
		PeriodYear:      period.Year,
		PeriodMonth:     period.Month,
		TriggerSource:   req.TriggerSource,
		TriggeredBy:     req.TriggeredBy,
	}

	run, err = s.datasource.RecordProcessRun(ctx, run)
	if err != nil {
		return nil, err
	}

	if err := s.queue.EnqueueRun(ctx, run); err != nil {
		notification.NotifyError(err)
		if failErr := s.datasource.FailProcessRun(ctx, run.RunID, fmt.Sprintf("failed to enqueue: %s", err)); failErr != nil {
			logrus.Error("failed to mark run as failed after enqueue error", failErr)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to queue run for execution", err)
	}

	return run, nil
}

// checkRunScope verifies the scoped entity exists before a run is accepted.
func (s *Cartera) checkRunScope(ctx context.Context, req RunRequest) error {
	switch req.ScopeType {
	case model.ScopeCreditProduct:
		if _, err := s.datasource.GetCreditProduct(ctx, req.ScopeID); err != nil {
			return err
		}
	case model.ScopeLoan:
		if _, err := s.datasource.GetLoan(ctx, req.ScopeID); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteRun runs a queued causation batch. It is safe to call more than
// once for the same run: finished runs return immediately, a distributed
// lock serializes concurrent deliveries, and per-loan checkpoints make the
// loan-level work a no-op on replay.
func (s *Cartera) ExecuteRun(ctx context.Context, runID string) error {
	ctx, span := otel.Tracer("Causation run").Start(ctx, "Executing process run")
	defer span.End()

	run, err := s.datasource.GetProcessRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == database.RunStatusCompleted || run.Status == database.RunStatusFailed {
		logrus.Infof("run %s already %s, skipping", runID, run.Status)
		return nil
	}

	locker := redlock.NewLocker(s.redis, fmt.Sprintf("run:%s", runID), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.Lock(ctx, runLockDuration); err != nil {
		return fmt.Errorf("failed to acquire lock for run %s: %w", runID, err)
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Error("failed to release run lock", err)
		}
	}()

	if err := s.datasource.MarkRunRunning(ctx, runID); err != nil {
		return err
	}

	loans, err := s.datasource.GetLoansForCausation(ctx, run.ScopeType, run.ScopeID)
	if err != nil {
		return s.failRun(ctx, run, apierror.ErrInternalServer, fmt.Sprintf("failed to load loan population: %s", err))
	}
	if run.ScopeType != model.ScopeGeneral && len(loans) == 0 {
		return s.failRun(ctx, run, apierror.ErrNotFound,
			fmt.Sprintf("No loans match scope %s '%d'", run.ScopeType, run.ScopeID))
	}

	accrue := s.calculatorFor(run.ProcessType)
	if accrue == nil {
		return s.failRun(ctx, run, apierror.ErrInternalServer, fmt.Sprintf("no calculator for process type %s", run.ProcessType))
	}

	rc := newRunContext(run, s.datasource)
	summary := &model.RunSummary{TotalAccruedAmount: decimal.Zero, Errors: []model.LoanError{}}

	for _, loan := range loans {
		summary.ReviewedCredits++
		if err := s.processLoan(ctx, rc, accrue, loan, summary); err != nil {
			logrus.Errorf("loan %s failed in run %s: %s", loan.Reference, runID, err)
			summary.AddFailure(loan.ID, loan.Reference, err.Error())
		}
	}

	note := fmt.Sprintf("%d loans accrued, %d failed of %d reviewed",
		summary.AccruedCredits, summary.FailedCredits, summary.ReviewedCredits)
	if err := s.datasource.CompleteProcessRun(ctx, runID, summary, note); err != nil {
		return err
	}
	span.AddEvent("Causation run completed", trace.WithAttributes(
		attribute.Int("loans.reviewed", summary.ReviewedCredits),
		attribute.Int("loans.accrued", summary.AccruedCredits),
		attribute.Int("loans.failed", summary.FailedCredits),
		attribute.String("total_accrued", summary.TotalAccruedAmount.String()),
	))
	if summary.FailedCredits > 0 {
		notification.NotifyError(fmt.Errorf("run %s completed with %d failed loans", runID, summary.FailedCredits))
	}
	logrus.Infof("run %s completed: %d reviewed, %d accrued, %d failed, total %s",
		runID, summary.ReviewedCredits, summary.AccruedCredits, summary.FailedCredits, summary.TotalAccruedAmount)
	return nil
}

// processLoan runs the calculator for one loan and posts its result. A nil
// posting means the loan is not due; a posting without entries advances the
// checkpoint with a zero charge.
func (s *Cartera) processLoan(ctx context.Context, rc *runContext, accrue calculatorFunc, loan model.Loan, summary *model.RunSummary) error {
	posting, err := accrue(ctx, rc, loan)
	if err != nil {
		return err
	}
	if posting == nil {
		return nil
	}

	if len(posting.Entries) == 0 {
		if err := s.datasource.UpsertLoanProcessState(ctx, &posting.Checkpoint); err != nil {
			return err
		}
		summary.AddAccrued(decimal.Zero)
		return nil
	}

	if err := s.datasource.PostLoanAccrual(ctx, posting, s.datasource); err != nil {
		return err
	}
	summary.AddAccrued(model.DebitTotal(posting.Entries))
	return nil
}

func (s *Cartera) failRun(ctx context.Context, run *model.ProcessRun, code apierror.ErrorCode, reason string) error {
	notification.NotifyError(fmt.Errorf("run %s failed: %s", run.RunID, reason))
	if err := s.datasource.FailProcessRun(ctx, run.RunID, reason); err != nil {
		logrus.Error("failed to mark run as failed", err)
	}
	return apierror.NewAPIError(code, reason, nil)
}

// RunStatusView is the operator-facing projection of a run.
type RunStatusView struct {
	RunID           string      `json:"run_id"`
	ProcessType     string      `json:"process_type"`
	ProcessDate     string      `json:"process_date"`
	ScopeType       string      `json:"scope_type"`
	ScopeID         int64       `json:"scope_id,omitempty"`
	Status          string      `json:"status"`
	TriggerSource   string      `json:"trigger_source"`
	TriggeredBy     string      `json:"triggered_by,omitempty"`
	Note            string      `json:"note,omitempty"`
	ReviewedCredits int         `json:"reviewed_credits"`
	AccruedCredits  int         `json:"accrued_credits"`
	FailedCredits   int         `json:"failed_credits"`
	TotalAccrued    string      `json:"total_accrued_amount"`
	Errors          interface{} `json:"errors,omitempty"`
	StartedAt       *string     `json:"started_at,omitempty"`
	FinishedAt      *string     `json:"finished_at,omitempty"`
}

// GetRunStatus returns the projection of a run for status polling.
func (s *Cartera) GetRunStatus(ctx context.Context, runID string) (*RunStatusView, error) {
	run, err := s.datasource.GetProcessRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	view := &RunStatusView{
		RunID:         run.RunID,
		ProcessType:   string(run.ProcessType),
		ProcessDate:   run.ProcessDate.Format(time.DateOnly),
		ScopeType:     string(run.ScopeType),
		ScopeID:       run.ScopeID,
		Status:        run.Status,
		TriggerSource: string(run.TriggerSource),
		TriggeredBy:   run.TriggeredBy,
		Note:          run.Note,
		TotalAccrued:  decimal.Zero.StringFixed(2),
	}
	if run.Summary != nil {
		view.ReviewedCredits = run.Summary.ReviewedCredits
		view.AccruedCredits = run.Summary.AccruedCredits
		view.FailedCredits = run.Summary.FailedCredits
		view.TotalAccrued = run.Summary.TotalAccruedAmount.StringFixed(2)
		if len(run.Summary.Errors) > 0 {
			view.Errors = run.Summary.Errors
		}
	}
	if run.StartedAt != nil {
		view.StartedAt = ptr.String(run.StartedAt.Format(time.RFC3339))
	}
	if run.FinishedAt != nil {
		view.FinishedAt = ptr.String(run.FinishedAt.Format(time.RFC3339))
	}
	return view, nil
}

// ListRuns returns recent runs for operator tooling.
func (s *Cartera) ListRuns(ctx context.Context, limit int, offset int64) ([]*model.ProcessRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.datasource.GetProcessRuns(ctx, limit, offset)
}

// GetRunEntries returns the accounting entries posted by a run.
func (s *Cartera) GetRunEntries(ctx context.Context, runID string) ([]model.AccountingEntry, error) {
	if _, err := s.datasource.GetProcessRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.datasource.GetEntriesByRunID(ctx, runID)
}

// GetDocumentEntries returns the entries grouped under one document code.
func (s *Cartera) GetDocumentEntries(ctx context.Context, documentCode string) ([]model.AccountingEntry, error) {
	return s.datasource.GetEntriesByDocumentCode(ctx, documentCode)
}
