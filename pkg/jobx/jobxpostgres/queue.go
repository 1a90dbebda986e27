package jobxpostgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/jmoiron/sqlx"
)

// Queue implements jobx.Queue on the jobx_queue table. Pop polls, so it
// suits deployments that already run PostgreSQL and nothing else.
type Queue struct {
	db           *sqlx.DB
	name         string
	pollInterval time.Duration
}

// NewQueue creates a queue named name polling every pollInterval.
func NewQueue(db *sqlx.DB, name string, pollInterval time.Duration) *Queue {
	if name == "" {
		name = "default"
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Queue{db: db, name: name, pollInterval: pollInterval}
}

func (q *Queue) Push(ctx context.Context, jobID string) error {
	if _, err := q.db.ExecContext(ctx, `INSERT INTO jobx_queue (queue, job_id) VALUES ($1, $2)`, q.name, jobID); err != nil {
		return pgErrors.NewWithCause(ErrEnqueue, err).WithDetail("queue", q.name)
	}
	return nil
}

func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	query := `
		DELETE FROM jobx_queue
		WHERE id = (
			SELECT id FROM jobx_queue
			WHERE queue = $1
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING job_id`

	deadline := time.Now().Add(timeout)
	for {
		var jobID string
		err := q.db.GetContext(ctx, &jobID, query, q.name)
		if err == nil {
			return jobID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", pgErrors.NewWithCause(ErrDequeue, err).WithDetail("queue", q.name)
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return "", nil
		}
		wait = min(wait, q.pollInterval)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
}

var _ jobx.Queue = (*Queue)(nil)
