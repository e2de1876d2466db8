package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/duka-ledger/duka/internal/jobs"
	"github.com/duka-ledger/duka/internal/reconcile"
)

// Reconciler is satisfied by reconcile.Checker.
type Reconciler interface {
	Check(ctx context.Context) (reconcile.Report, error)
	CheckOwner(ctx context.Context, owner string) ([]reconcile.Drift, error)
}

// ReconcileJob runs the ledger reconciliation and reports drift.
type ReconcileJob struct {
	Checker Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(checker Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle executes TaskLedgerReconcile.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Checker == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	if payload.Owner != "" {
		logger = logger.With(slog.String("owner", payload.Owner))
	}
	start := time.Now()
	logger.Info("starting ledger reconciliation")

	report, err := j.run(ctx, payload)
	if err != nil {
		logger.Error("reconciliation failed", slog.Any("error", err))
		return err
	}

	counts := map[string]int{}
	for _, d := range report.Drifts {
		counts[d.Ledger]++
	}
	for ledgerName, n := range counts {
		j.Metrics.AddDrift(ledgerName, n)
	}

	logger.Info("completed ledger reconciliation",
		slog.Int("owners", report.Owners),
		slog.Int("drifts", len(report.Drifts)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *ReconcileJob) run(ctx context.Context, payload ReconcilePayload) (reconcile.Report, error) {
	if payload.Owner == "" {
		return j.Checker.Check(ctx)
	}
	drifts, err := j.Checker.CheckOwner(ctx, payload.Owner)
	if err != nil {
		return reconcile.Report{}, err
	}
	return reconcile.Report{Owners: 1, Drifts: drifts}, nil
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerReconcile))
	}
	return slog.Default().With(slog.String("job", TaskLedgerReconcile))
}
