package models

import "time"

type ReconcileOp string

const (
	ReconcileCreate ReconcileOp = "create"
	ReconcileUpdate ReconcileOp = "update"
)

// ReconcileTask asks the reconciler to copy ByAlias onto ByOwner for Alias.
// At most one task exists per (Op, Alias).
type ReconcileTask struct {
	ID        string      `json:"id" db:"id"`
	Op        ReconcileOp `json:"op" db:"op"`
	Alias     string      `json:"alias" db:"alias"`
	OwnerID   int64       `json:"owner_id" db:"owner_id"`
	Attempts  int         `json:"attempts" db:"attempts"`
	LastError string      `json:"last_error,omitempty" db:"last_error"`
	NextRunAt time.Time   `json:"next_run_at" db:"next_run_at"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
