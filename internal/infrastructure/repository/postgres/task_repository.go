package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, user_id, title, priority, completed, source, origin_scan_job_id, created_at, updated_at, deleted_at`

// CreateTasks inserts the batch in one transaction.
func (r *TaskRepository) CreateTasks(ctx context.Context, tasks []domain.TaskItem) error {
	if len(tasks) == 0 {
		return nil
	}
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return domain.WrapError(domain.ErrValidation, "create tasks", err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tasks tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO tasks (id, user_id, title, priority, completed, source, origin_scan_job_id, created_at, updated_at, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`)
	if err != nil {
		return fmt.Errorf("prepare task insert: %w", err)
	}
	defer stmt.Close()

	for _, task := range tasks {
		if _, err := stmt.ExecContext(ctx,
			task.ID, task.UserID, task.Title, string(task.Priority), task.Completed, string(task.Source),
			nullableString(task.OriginScanJobID), task.CreatedAt, task.UpdatedAt, task.DeletedAt,
		); err != nil {
			return fmt.Errorf("insert task %s: %w", task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tasks tx: %w", err)
	}
	return nil
}

func (r *TaskRepository) ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.TaskItem, error) {
	query := `
SELECT ` + taskColumns + `
FROM tasks
WHERE user_id = $1
`
	args := []any{filter.UserID}
	if !filter.IncludeDeleted {
		query += "AND deleted_at IS NULL\n"
	}
	if filter.Source != nil {
		args = append(args, string(*filter.Source))
		query += fmt.Sprintf("AND source = $%d\n", len(args))
	}
	query += "ORDER BY created_at DESC, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TaskItem, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

func (r *TaskRepository) GetTaskByID(ctx context.Context, userID, taskID string) (*domain.TaskItem, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE user_id = $1 AND id = $2 AND deleted_at IS NULL
`, userID, taskID)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrTaskNotFound, "get task", fmt.Errorf("id=%s", taskID))
		}
		return nil, fmt.Errorf("get task by id: %w", err)
	}
	return &task, nil
}

func (r *TaskRepository) SetCompleted(ctx context.Context, userID, taskID string, completed bool, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET completed = $3, updated_at = $4
WHERE user_id = $1 AND id = $2 AND deleted_at IS NULL
`, userID, taskID, completed, updatedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireAffected(result, "update task", taskID)
}

func (r *TaskRepository) SoftDeleteTask(ctx context.Context, userID, taskID string) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET deleted_at = $3, updated_at = $3
WHERE user_id = $1 AND id = $2 AND deleted_at IS NULL
`, userID, taskID, now)
	if err != nil {
		return fmt.Errorf("soft delete task: %w", err)
	}
	return requireAffected(result, "soft delete task", taskID)
}

func requireAffected(result sql.Result, op, taskID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrTaskNotFound, op, fmt.Errorf("id=%s", taskID))
	}
	return nil
}

func scanTask(row rowScanner) (domain.TaskItem, error) {
	var (
		task     domain.TaskItem
		priority string
		source   string
		origin   sql.NullString
	)
	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&priority,
		&task.Completed,
		&source,
		&origin,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.DeletedAt,
	)
	if err != nil {
		return domain.TaskItem{}, err
	}
	task.Priority = domain.NormalizePriority(priority)
	task.Source = domain.TaskSource(source)
	task.OriginScanJobID = origin.String
	return task, nil
}
