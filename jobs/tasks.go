package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile recomputes the derived ledgers and reports drift.
	TaskLedgerReconcile = "ledger:reconcile"
)

// ReconcilePayload scopes a reconciliation run. An empty owner checks everyone.
type ReconcilePayload struct {
	Owner string `json:"owner,omitempty"`
}

// NewReconcileTask constructs an Asynq task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	), nil
}
