package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]*domain.TaskItem
	order []string
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*domain.TaskItem)}
}

// CreateTasks validates the whole batch before inserting any of it.
func (s *TaskStore) CreateTasks(_ context.Context, tasks []domain.TaskItem) error {
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return domain.WrapError(domain.ErrValidation, "create tasks", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range tasks {
		if _, exists := s.tasks[task.ID]; exists {
			return domain.WrapError(domain.ErrConflict, "create tasks", fmt.Errorf("id=%s already exists", task.ID))
		}
	}
	for _, task := range tasks {
		stored := copyTask(task)
		s.tasks[task.ID] = &stored
		s.order = append(s.order, task.ID)
	}
	return nil
}

func (s *TaskStore) ListTasks(_ context.Context, filter domain.TaskFilter) ([]domain.TaskItem, error) {
	s.mu.Lock()
	out := make([]domain.TaskItem, 0)
	for _, id := range s.order {
		task := s.tasks[id]
		if task.UserID != filter.UserID {
			continue
		}
		if task.DeletedAt != nil && !filter.IncludeDeleted {
			continue
		}
		if filter.Source != nil && task.Source != *filter.Source {
			continue
		}
		out = append(out, copyTask(*task))
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *TaskStore) GetTaskByID(_ context.Context, userID, taskID string) (*domain.TaskItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.liveTask(userID, taskID, "get task")
	if err != nil {
		return nil, err
	}
	out := copyTask(*task)
	return &out, nil
}

func (s *TaskStore) SetCompleted(_ context.Context, userID, taskID string, completed bool, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.liveTask(userID, taskID, "update task")
	if err != nil {
		return err
	}
	task.Completed = completed
	task.UpdatedAt = updatedAt
	return nil
}

func (s *TaskStore) SoftDeleteTask(_ context.Context, userID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.liveTask(userID, taskID, "soft delete task")
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	task.DeletedAt = &now
	task.UpdatedAt = now
	return nil
}

func (s *TaskStore) liveTask(userID, taskID, op string) (*domain.TaskItem, error) {
	task, ok := s.tasks[taskID]
	if !ok || task.UserID != userID || task.DeletedAt != nil {
		return nil, domain.WrapError(domain.ErrTaskNotFound, op, fmt.Errorf("id=%s", taskID))
	}
	return task, nil
}

func copyTask(task domain.TaskItem) domain.TaskItem {
	if task.DeletedAt != nil {
		t := *task.DeletedAt
		task.DeletedAt = &t
	}
	return task
}
