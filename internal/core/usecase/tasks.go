package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/core/ports"
)

const maxTaskTitleLen = 500

// TaskListUseCase manages the to-do list. It never touches scan jobs.
type TaskListUseCase struct {
	store    ports.TaskStore
	exporter ports.TaskExporter
	now      func() time.Time
	newID    func() string
}

func NewTaskListUseCase(store ports.TaskStore, exporter ports.TaskExporter) *TaskListUseCase {
	return &TaskListUseCase{
		store:    store,
		exporter: exporter,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (uc *TaskListUseCase) CreateManual(ctx context.Context, userID, title, priority string) (*domain.TaskItem, error) {
	userID, err := requireUser(userID, "create task")
	if err != nil {
		return nil, err
	}
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return nil, domain.WrapError(domain.ErrValidation, "create task", errors.New("title is required"))
	}
	if len(title) > maxTaskTitleLen {
		return nil, domain.WrapError(domain.ErrValidation, "create task", fmt.Errorf("title longer than %d characters", maxTaskTitleLen))
	}

	now := uc.now()
	task := domain.TaskItem{
		ID:        uc.newID(),
		UserID:    userID,
		Title:     title,
		Priority:  domain.NormalizePriority(priority),
		Source:    domain.TaskSourceManual,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.store.CreateTasks(ctx, []domain.TaskItem{task}); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &task, nil
}

func (uc *TaskListUseCase) List(ctx context.Context, userID string, source *domain.TaskSource) ([]domain.TaskItem, error) {
	userID, err := requireUser(userID, "list tasks")
	if err != nil {
		return nil, err
	}
	tasks, err := uc.store.ListTasks(ctx, domain.TaskFilter{UserID: userID, Source: source})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (uc *TaskListUseCase) SetCompleted(ctx context.Context, userID, taskID string, completed bool) (*domain.TaskItem, error) {
	userID, err := requireUser(userID, "update task")
	if err != nil {
		return nil, err
	}
	if err := uc.store.SetCompleted(ctx, userID, taskID, completed, uc.now()); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	task, err := uc.store.GetTaskByID(ctx, userID, taskID)
	if err != nil {
		return nil, fmt.Errorf("fetch task: %w", err)
	}
	return task, nil
}

func (uc *TaskListUseCase) Delete(ctx context.Context, userID, taskID string) error {
	userID, err := requireUser(userID, "delete task")
	if err != nil {
		return err
	}
	if err := uc.store.SoftDeleteTask(ctx, userID, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (uc *TaskListUseCase) ExportXLSX(ctx context.Context, userID string) ([]byte, error) {
	tasks, err := uc.List(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	if uc.exporter == nil {
		return nil, errors.New("task exporter is not configured")
	}
	data, err := uc.exporter.ExportTasks(ctx, tasks)
	if err != nil {
		return nil, fmt.Errorf("export tasks: %w", err)
	}
	return data, nil
}

func requireUser(userID, op string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", domain.WrapError(domain.ErrUnauthorized, op, errors.New("user identity is required"))
	}
	return userID, nil
}
