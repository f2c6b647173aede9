package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/core/ports"
)

// TaskGenerator turns a completed scan into ocr-sourced to-do items.
type TaskGenerator struct {
	policy   ports.TaskDerivationPolicy
	store    ports.TaskStore
	maxTasks int
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewTaskGenerator(policy ports.TaskDerivationPolicy, store ports.TaskStore, maxTasks int, logger *slog.Logger) *TaskGenerator {
	if maxTasks <= 0 {
		maxTasks = DefaultScanConfig().MaxTasksPerJob
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskGenerator{
		policy:   policy,
		store:    store,
		maxTasks: maxTasks,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Generate derives and persists tasks for job. A policy panic is recovered
// and reported as an error.
func (g *TaskGenerator) Generate(ctx context.Context, job domain.ScanJob) (tasks []domain.TaskItem, err error) {
	if job.Status != domain.ScanStatusCompleted || job.Result == nil {
		return nil, domain.WrapError(domain.ErrValidation, "generate tasks", fmt.Errorf("job %s is not completed", job.ID))
	}

	drafts, err := g.derive(ctx, job)
	if err != nil {
		return nil, err
	}

	tasks = g.build(job, drafts)
	if len(tasks) == 0 {
		g.logger.Debug("no tasks derived from scan", "job_id", job.ID)
		return nil, nil
	}
	if err := g.store.CreateTasks(ctx, tasks); err != nil {
		return nil, fmt.Errorf("persist generated tasks: %w", err)
	}

	g.logger.Info("tasks generated from scan", "job_id", job.ID, "owner_id", job.OwnerID, "count", len(tasks))
	return tasks, nil
}

func (g *TaskGenerator) derive(ctx context.Context, job domain.ScanJob) (drafts []domain.TaskDraft, err error) {
	defer func() {
		if r := recover(); r != nil {
			drafts = nil
			err = fmt.Errorf("task derivation panic: %v", r)
		}
	}()
	if g.policy == nil {
		return nil, errors.New("task derivation policy is not configured")
	}
	drafts, err = g.policy.Derive(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("derive tasks: %w", err)
	}
	return drafts, nil
}

func (g *TaskGenerator) build(job domain.ScanJob, drafts []domain.TaskDraft) []domain.TaskItem {
	now := g.now()
	seen := make(map[string]struct{}, len(drafts))
	out := make([]domain.TaskItem, 0, min(len(drafts), g.maxTasks))

	for _, draft := range drafts {
		if len(out) >= g.maxTasks {
			break
		}
		title := strings.Join(strings.Fields(draft.Title), " ")
		if title == "" {
			continue
		}
		dedupKey := strings.ToLower(title)
		if _, ok := seen[dedupKey]; ok {
			continue
		}
		seen[dedupKey] = struct{}{}

		out = append(out, domain.TaskItem{
			ID:              g.newID(),
			UserID:          job.OwnerID,
			Title:           title,
			Priority:        domain.NormalizePriority(string(draft.Priority)),
			Completed:       false,
			Source:          domain.TaskSourceOCR,
			OriginScanJobID: job.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return out
}
