package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Siddarth2230/url-shortener/internal/models"
)

// ReconcileRepository is the durable outbox of pending ByOwner repairs.
type ReconcileRepository struct {
	db *sql.DB
}

func NewReconcileRepository(db *sql.DB) *ReconcileRepository {
	return &ReconcileRepository{db: db}
}

// Enqueue records a task. A pending task for the same (op, alias) is made
// due immediately instead of duplicated.
func (r *ReconcileRepository) Enqueue(ctx context.Context, task models.ReconcileTask) error {
	defer observe("reconcile_enqueue")()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	query := `
		INSERT INTO reconcile_tasks (id, op, alias, owner_id, attempts, last_error, next_run_at, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $6)
		ON CONFLICT (op, alias) DO UPDATE SET
			next_run_at = EXCLUDED.next_run_at,
			last_error  = EXCLUDED.last_error
	`
	if _, err := r.db.ExecContext(ctx, query, task.ID, string(task.Op), task.Alias, task.OwnerID, task.LastError, task.NextRunAt); err != nil {
		return fmt.Errorf("enqueue %s %s: %w", task.Op, task.Alias, err)
	}
	return nil
}

// Claim leases up to limit due tasks until now+lease so that concurrent
// reconcilers skip them. The returned NextRunAt identifies the claim.
func (r *ReconcileRepository) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.ReconcileTask, error) {
	defer observe("reconcile_claim")()

	query := `
		UPDATE reconcile_tasks SET next_run_at = $2
		WHERE id IN (
			SELECT id FROM reconcile_tasks
			WHERE next_run_at <= $1
			ORDER BY next_run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, op, alias, owner_id, attempts, last_error, next_run_at, created_at
	`
	rows, err := r.db.QueryContext(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim reconcile tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.ReconcileTask
	for rows.Next() {
		var (
			t  models.ReconcileTask
			op string
		)
		if err := rows.Scan(&t.ID, &op, &t.Alias, &t.OwnerID, &t.Attempts, &t.LastError, &t.NextRunAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reconcile task: %w", err)
		}
		t.Op = models.ReconcileOp(op)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Done removes a claimed task. If the task was re-enqueued after the claim,
// its NextRunAt no longer matches and it stays for another pass.
func (r *ReconcileRepository) Done(ctx context.Context, task models.ReconcileTask) error {
	defer observe("reconcile_done")()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM reconcile_tasks WHERE id = $1 AND next_run_at = $2`, task.ID, task.NextRunAt); err != nil {
		return fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	return nil
}

// Reschedule records a failed attempt and pushes the task to next.
func (r *ReconcileRepository) Reschedule(ctx context.Context, task models.ReconcileTask, next time.Time, cause error) error {
	defer observe("reconcile_reschedule")()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query := `
		UPDATE reconcile_tasks
		SET attempts = attempts + 1, last_error = $3, next_run_at = $4
		WHERE id = $1 AND next_run_at = $2
	`
	if _, err := r.db.ExecContext(ctx, query, task.ID, task.NextRunAt, msg, next); err != nil {
		return fmt.Errorf("reschedule task %s: %w", task.ID, err)
	}
	return nil
}

// Pending counts tasks still in the outbox.
func (r *ReconcileRepository) Pending(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reconcile_tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reconcile tasks: %w", err)
	}
	return n, nil
}
