package taskrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/common/database"
	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/platform/apperr"
	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// Postgres is the pgx-backed TaskRepository. Writes to a single aggregate
// (a task's messages and their parts, or an artifact and its parts) are
// wrapped in one transaction; GetTaskWithHistory issues one query per table
// and assembles the result in memory, rather than joining, to keep the row
// count linear in history size instead of the cross-product of messages and
// parts.
type Postgres struct {
	db *database.DB
}

// NewPostgres wraps db as a TaskRepository.
func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) CreateTask(ctx context.Context, task Task) error {
	artifactIDs := make([]string, len(task.Metadata.ArtifactIDs))
	for i, a := range task.Metadata.ArtifactIDs {
		artifactIDs[i] = string(a)
	}

	_, err := p.db.Exec(ctx, `
		INSERT INTO agent_tasks (task_id, context_id, state, started_at, completed_at,
			agent_name, model, tokens, step_count, artifact_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.TaskID, task.ContextID, task.State, task.StartedAt, task.CompletedAt,
		task.Metadata.AgentName, task.Metadata.Model, task.Metadata.Tokens, task.Metadata.StepCount, artifactIDs)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "inserting task", err)
	}
	return nil
}

func (p *Postgres) GetTask(ctx context.Context, taskID ids.TaskID) (*Task, error) {
	row := p.db.QueryRow(ctx, `
		SELECT task_id, context_id, state, started_at, completed_at,
			agent_name, model, tokens, step_count, artifact_ids
		FROM agent_tasks WHERE task_id = $1`, taskID)

	t, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
		}
		return nil, apperr.Wrap(apperr.KindPersistence, "loading task", err)
	}
	return t, nil
}

// UpdateTaskState advances taskID to state, unless the task's current state
// is already terminal (completed/failed/canceled/rejected), in which case
// the transition is rejected rather than silently overwriting history. The
// guard is enforced in the UPDATE's WHERE clause so the check-then-set is
// atomic under concurrent writers; a 0-row result is disambiguated with a
// follow-up read to tell "task not found" from "task already terminal".
func (p *Postgres) UpdateTaskState(ctx context.Context, taskID ids.TaskID, state TaskState) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE agent_tasks SET state = $2
		WHERE task_id = $1 AND state NOT IN ($3, $4, $5, $6)`,
		taskID, state, TaskCompleted, TaskFailed, TaskCanceled, TaskRejected)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "updating task state", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current TaskState
	err = p.db.QueryRow(ctx, `SELECT state FROM agent_tasks WHERE task_id = $1`, taskID).Scan(&current)
	if err == pgx.ErrNoRows {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "updating task state", err)
	}
	if current == state {
		return nil
	}
	return apperr.New(apperr.KindValidation,
		fmt.Sprintf("task %s is in terminal state %q, cannot transition to %q", taskID, current, state))
}

func (p *Postgres) UpdateTaskMetadata(ctx context.Context, taskID ids.TaskID, metadata TaskMetadata) error {
	artifactIDs := make([]string, len(metadata.ArtifactIDs))
	for i, a := range metadata.ArtifactIDs {
		artifactIDs[i] = string(a)
	}

	tag, err := p.db.Exec(ctx, `
		UPDATE agent_tasks
		SET agent_name = $2, model = $3, tokens = $4, step_count = $5, artifact_ids = $6
		WHERE task_id = $1`,
		taskID, metadata.AgentName, metadata.Model, metadata.Tokens, metadata.StepCount, artifactIDs)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "updating task metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	return nil
}

func (p *Postgres) CompleteTask(ctx context.Context, taskID ids.TaskID, at time.Time) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE agent_tasks SET state = $2, completed_at = $3 WHERE task_id = $1`,
		taskID, TaskCompleted, at)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "completing task", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	return nil
}

func (p *Postgres) AppendMessage(ctx context.Context, taskID ids.TaskID, contextID ids.ContextID, input NewMessageInput) (*Message, error) {
	msg := &Message{
		MessageID:       ids.MessageID(uuid.NewString()),
		TaskID:          taskID,
		ContextID:       contextID,
		Role:            input.Role,
		Parts:           input.Parts,
		ClientMessageID: input.ClientMessageID,
		CreatedAt:       time.Now().UTC(),
	}

	metadataJSON, err := json.Marshal(input.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling message metadata: %w", err)
	}

	err = p.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO task_messages (message_id, task_id, context_id, role, client_message_id, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			msg.MessageID, taskID, contextID, msg.Role, msg.ClientMessageID, metadataJSON, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		return insertParts(ctx, tx, "message_parts", "message_id", string(msg.MessageID), input.Parts)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "appending message", err)
	}
	return msg, nil
}

func (p *Postgres) PublishArtifact(ctx context.Context, taskID ids.TaskID, contextID ids.ContextID, input NewArtifactInput) (*Artifact, error) {
	artifact := &Artifact{
		ArtifactID:  ids.ArtifactID(uuid.NewString()),
		TaskID:      taskID,
		ContextID:   contextID,
		Kind:        input.Kind,
		Name:        input.Name,
		Description: input.Description,
		Parts:       input.Parts,
		Metadata:    input.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	err := p.db.WithTx(ctx, func(tx pgx.Tx) error {
		metadata := artifact.Metadata
		if metadata.MCPExecutionID != nil {
			var exists bool
			err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM mcp_tool_executions WHERE tool_call_id = $1)`,
				*metadata.MCPExecutionID).Scan(&exists)
			if err != nil {
				return fmt.Errorf("checking mcp execution reference: %w", err)
			}
			if !exists {
				// Referenced execution row is gone: clear the FK instead of
				// failing the publish.
				metadata.MCPExecutionID = nil
			}
		}
		artifact.Metadata = metadata

		_, err := tx.Exec(ctx, `
			INSERT INTO artifacts (artifact_id, task_id, context_id, kind, name, description,
				artifact_type, source, mcp_execution_id, fingerprint, skill_id, tool_name, extensions, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			artifact.ArtifactID, taskID, contextID, artifact.Kind, artifact.Name, artifact.Description,
			metadata.ArtifactType, metadata.Source, metadata.MCPExecutionID, metadata.Fingerprint,
			metadata.SkillID, metadata.ToolName, metadata.Extensions, artifact.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting artifact: %w", err)
		}
		return insertParts(ctx, tx, "artifact_parts", "artifact_id", string(artifact.ArtifactID), input.Parts)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "publishing artifact", err)
	}
	return artifact, nil
}

func (p *Postgres) AppendStep(ctx context.Context, taskID ids.TaskID, step ExecutionStep) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO execution_steps (step_id, task_id, kind, status, content, started_at, completed_at, duration_ms, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		step.StepID, taskID, step.Kind, step.Status, step.Content, step.StartedAt, step.CompletedAt, step.DurationMS, step.ErrorMessage)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "appending execution step", err)
	}
	return nil
}

func (p *Postgres) UpdateStepStatus(ctx context.Context, stepID ids.StepID, status StepStatus, completedAt *time.Time, durationMS *int64, errMsg *string) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE execution_steps SET status = $2, completed_at = $3, duration_ms = $4, error_message = $5
		WHERE step_id = $1`,
		stepID, status, completedAt, durationMS, errMsg)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "updating step status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("step %s not found", stepID))
	}
	return nil
}

// GetTaskWithHistory issues one query per table (task, messages, parts by
// message_id, artifacts, artifact parts, execution steps) and assembles the
// result with an in-memory grouping dictionary keyed by parent id, rather
// than a join that would duplicate parent rows across their child parts.
func (p *Postgres) GetTaskWithHistory(ctx context.Context, taskID ids.TaskID) (*TaskWithHistory, error) {
	task, err := p.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	messages, err := p.loadMessages(ctx, taskID)
	if err != nil {
		return nil, err
	}

	messagePartsByID, err := p.loadParts(ctx, "message_parts", "message_id")
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Parts = messagePartsByID[string(messages[i].MessageID)]
	}

	artifacts, err := p.loadArtifacts(ctx, taskID)
	if err != nil {
		return nil, err
	}

	artifactPartsByID, err := p.loadParts(ctx, "artifact_parts", "artifact_id")
	if err != nil {
		return nil, err
	}
	for i := range artifacts {
		artifacts[i].Parts = artifactPartsByID[string(artifacts[i].ArtifactID)]
	}

	steps, err := p.loadSteps(ctx, taskID)
	if err != nil {
		return nil, err
	}

	return &TaskWithHistory{Task: *task, Messages: messages, Artifacts: artifacts, Steps: steps}, nil
}

func (p *Postgres) loadMessages(ctx context.Context, taskID ids.TaskID) ([]Message, error) {
	rows, err := p.db.Query(ctx, `
		SELECT message_id, task_id, context_id, role, client_message_id, metadata, created_at
		FROM task_messages WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "loading messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var metadataRaw []byte
		if err := rows.Scan(&m.MessageID, &m.TaskID, &m.ContextID, &m.Role, &m.ClientMessageID, &metadataRaw, &m.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, "scanning message", err)
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &m.Metadata)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) loadArtifacts(ctx context.Context, taskID ids.TaskID) ([]Artifact, error) {
	rows, err := p.db.Query(ctx, `
		SELECT artifact_id, task_id, context_id, kind, name, description,
			artifact_type, source, mcp_execution_id, fingerprint, skill_id, tool_name, extensions, created_at
		FROM artifacts WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "loading artifacts", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ArtifactID, &a.TaskID, &a.ContextID, &a.Kind, &a.Name, &a.Description,
			&a.Metadata.ArtifactType, &a.Metadata.Source, &a.Metadata.MCPExecutionID, &a.Metadata.Fingerprint,
			&a.Metadata.SkillID, &a.Metadata.ToolName, &a.Metadata.Extensions, &a.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, "scanning artifact", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) loadSteps(ctx context.Context, taskID ids.TaskID) ([]ExecutionStep, error) {
	rows, err := p.db.Query(ctx, `
		SELECT step_id, task_id, kind, status, content, started_at, completed_at, duration_ms, error_message
		FROM execution_steps WHERE task_id = $1 ORDER BY started_at`, taskID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "loading execution steps", err)
	}
	defer rows.Close()

	var out []ExecutionStep
	for rows.Next() {
		var s ExecutionStep
		if err := rows.Scan(&s.StepID, &s.TaskID, &s.Kind, &s.Status, &s.Content, &s.StartedAt, &s.CompletedAt, &s.DurationMS, &s.ErrorMessage); err != nil {
			// A malformed step row (e.g. unparsable content) is dropped with a
			// warning rather than failing the whole history fetch.
			logger.Default().Warn("taskrepo: dropping malformed execution step row",
				zap.String("task_id", string(taskID)), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// loadParts loads every part row from table and groups it by its parent id
// (parentCol), preserving sequence order within each parent.
func (p *Postgres) loadParts(ctx context.Context, table, parentCol string) (map[string][]Part, error) {
	query := fmt.Sprintf(`
		SELECT %s, kind, text, file_name, mime_type, bytes, data, sequence_number
		FROM %s ORDER BY %s, sequence_number`, parentCol, table, parentCol)

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, fmt.Sprintf("loading %s", table), err)
	}
	defer rows.Close()

	out := make(map[string][]Part)
	for rows.Next() {
		var parentID string
		var part Part
		var dataRaw []byte
		var seq int
		if err := rows.Scan(&parentID, &part.Kind, &part.Text, &part.FileName, &part.MimeType, &part.Bytes, &dataRaw, &seq); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, fmt.Sprintf("scanning %s row", table), err)
		}
		if len(dataRaw) > 0 {
			_ = json.Unmarshal(dataRaw, &part.Data)
		}
		out[parentID] = append(out[parentID], part)
	}
	return out, rows.Err()
}

func (p *Postgres) FindStaleRunningTasks(ctx context.Context, startedBefore time.Time) ([]ids.TaskID, error) {
	rows, err := p.db.Query(ctx, `
		SELECT task_id FROM agent_tasks
		WHERE started_at < $1 AND state NOT IN ($2, $3, $4, $5)`,
		startedBefore, TaskCompleted, TaskFailed, TaskCanceled, TaskRejected)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "finding stale tasks", err)
	}
	defer rows.Close()

	var out []ids.TaskID
	for rows.Next() {
		var id ids.TaskID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, "scanning stale task id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Postgres) FailTask(ctx context.Context, taskID ids.TaskID, reason string) error {
	now := time.Now().UTC()
	tag, err := p.db.Exec(ctx, `
		UPDATE agent_tasks SET state = $2, completed_at = $3 WHERE task_id = $1`,
		taskID, TaskFailed, now)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "force-failing task", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	return nil
}

func insertParts(ctx context.Context, tx pgx.Tx, table, parentCol, parentID string, parts []Part) error {
	for i, part := range parts {
		var dataRaw []byte
		if part.Data != nil {
			raw, err := json.Marshal(part.Data)
			if err != nil {
				return fmt.Errorf("marshaling part data: %w", err)
			}
			dataRaw = raw
		}

		query := fmt.Sprintf(`
			INSERT INTO %s (%s, sequence_number, kind, text, file_name, mime_type, bytes, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, table, parentCol)
		_, err := tx.Exec(ctx, query, parentID, i, part.Kind, part.Text, part.FileName, part.MimeType, part.Bytes, dataRaw)
		if err != nil {
			return fmt.Errorf("inserting %s row: %w", table, err)
		}
	}
	return nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var artifactIDs []string
	if err := row.Scan(&t.TaskID, &t.ContextID, &t.State, &t.StartedAt, &t.CompletedAt,
		&t.Metadata.AgentName, &t.Metadata.Model, &t.Metadata.Tokens, &t.Metadata.StepCount, &artifactIDs); err != nil {
		return nil, err
	}
	for _, a := range artifactIDs {
		t.Metadata.ArtifactIDs = append(t.Metadata.ArtifactIDs, ids.ArtifactID(a))
	}
	return &t, nil
}

var _ TaskRepository = (*Postgres)(nil)
