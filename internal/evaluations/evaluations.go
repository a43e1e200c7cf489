// Package evaluations records post-hoc quality scores against completed
// tasks, for external analytics. Nothing in the execution pipeline reads
// these back; this package is write-only from the pipeline's perspective.
package evaluations

import (
	"context"
	"time"

	"github.com/orchestra-run/controlplane/internal/common/database"
	"github.com/orchestra-run/controlplane/internal/ids"
)

// Evaluation is one scored judgment against a completed task.
type Evaluation struct {
	TaskID      ids.TaskID
	Rubric      string
	Score       float64
	Notes       string
	EvaluatedAt time.Time
}

// Recorder persists evaluations into conversation_evaluations.
type Recorder struct {
	db *database.DB
}

// NewRecorder constructs a Recorder over the shared database pool.
func NewRecorder(db *database.DB) *Recorder {
	return &Recorder{db: db}
}

// Record inserts one evaluation row.
func (r *Recorder) Record(ctx context.Context, eval Evaluation) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO conversation_evaluations (task_id, rubric, score, notes, evaluated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, eval.TaskID, eval.Rubric, eval.Score, eval.Notes, eval.EvaluatedAt)
	return err
}
