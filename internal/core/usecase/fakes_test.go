package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

type jobRepoFake struct {
	mu        sync.Mutex
	jobs      map[string]domain.ScanJob
	createErr error
	getErr    error
	failErr   error
	completes int
	fails     int
}

func newJobRepoFake() *jobRepoFake {
	return &jobRepoFake{jobs: map[string]domain.ScanJob{}}
}

func (f *jobRepoFake) Create(_ context.Context, job *domain.ScanJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.jobs[job.ID] = *job
	return nil
}

func (f *jobRepoFake) GetByID(_ context.Context, id string) (*domain.ScanJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrScanJobNotFound, "get scan job", fmt.Errorf("id=%s", id))
	}
	return &job, nil
}

func (f *jobRepoFake) List(_ context.Context, filter domain.ScanJobFilter) ([]domain.ScanJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ScanJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *jobRepoFake) Complete(_ context.Context, id string, result domain.ScanResult, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrScanJobNotFound, "complete scan job", fmt.Errorf("id=%s", id))
	}
	if job.Status != domain.ScanStatusProcessing {
		return domain.WrapError(domain.ErrAlreadyResolved, "complete scan job", fmt.Errorf("id=%s", id))
	}
	job.Status = domain.ScanStatusCompleted
	job.Result = &result
	job.CompletedAt = &completedAt
	f.jobs[id] = job
	f.completes++
	return nil
}

func (f *jobRepoFake) Fail(_ context.Context, id string, reason domain.FailureReason, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	job, ok := f.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrScanJobNotFound, "fail scan job", fmt.Errorf("id=%s", id))
	}
	if job.Status != domain.ScanStatusProcessing {
		return domain.WrapError(domain.ErrAlreadyResolved, "fail scan job", fmt.Errorf("id=%s", id))
	}
	job.Status = domain.ScanStatusFailed
	job.FailureReason = &reason
	job.CompletedAt = &completedAt
	f.jobs[id] = job
	f.fails++
	return nil
}

func (f *jobRepoFake) ListStale(_ context.Context, before time.Time, limit int) ([]domain.ScanJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.ScanJob{}
	for _, job := range f.jobs {
		if job.Status == domain.ScanStatusProcessing && job.SubmittedAt.Before(before) {
			out = append(out, job)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *jobRepoFake) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs), nil
}

func (f *jobRepoFake) job(id string) domain.ScanJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr   error
	saveDelay time.Duration
	openErr   error
	deleted   []string
}

func newStorageFake() *storageFake {
	return &storageFake{objects: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	if f.saveDelay > 0 {
		time.Sleep(f.saveDelay)
	}
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = raw
	return int64(len(raw)), nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type queueFake struct {
	mu         sync.Mutex
	publishErr error
	submitted  []string
	resolved   []domain.ScanResolvedEvent
}

func (f *queueFake) PublishScanSubmitted(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.submitted = append(f.submitted, jobID)
	return nil
}

func (f *queueFake) SubscribeScanSubmitted(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

func (f *queueFake) PublishScanResolved(_ context.Context, event domain.ScanResolvedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, event)
	return nil
}

type processorFake struct {
	mu     sync.Mutex
	calls  int
	result domain.ScanResult
	err    error
	fn     func(ctx context.Context, content []byte) (domain.ScanResult, error)
}

func (f *processorFake) Process(ctx context.Context, content []byte, _ string) (domain.ScanResult, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, content)
	}
	return f.result, f.err
}

func (f *processorFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type policyFake struct {
	drafts []domain.TaskDraft
	err    error
	panics bool
}

func (f *policyFake) Derive(context.Context, domain.ScanJob) ([]domain.TaskDraft, error) {
	if f.panics {
		panic("policy exploded")
	}
	return f.drafts, f.err
}

type taskStoreFake struct {
	mu        sync.Mutex
	tasks     []domain.TaskItem
	createErr error
	batches   int
}

func (f *taskStoreFake) CreateTasks(_ context.Context, tasks []domain.TaskItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.batches++
	f.tasks = append(f.tasks, tasks...)
	return nil
}

func (f *taskStoreFake) ListTasks(_ context.Context, filter domain.TaskFilter) ([]domain.TaskItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.TaskItem{}
	for _, task := range f.tasks {
		if task.UserID != filter.UserID {
			continue
		}
		if filter.Source != nil && task.Source != *filter.Source {
			continue
		}
		if task.DeletedAt != nil && !filter.IncludeDeleted {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

func (f *taskStoreFake) GetTaskByID(_ context.Context, userID, taskID string) (*domain.TaskItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.ID == taskID && task.UserID == userID && task.DeletedAt == nil {
			out := task
			return &out, nil
		}
	}
	return nil, domain.WrapError(domain.ErrTaskNotFound, "get task", fmt.Errorf("id=%s", taskID))
}

func (f *taskStoreFake) SetCompleted(_ context.Context, userID, taskID string, completed bool, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tasks {
		if f.tasks[i].ID == taskID && f.tasks[i].UserID == userID && f.tasks[i].DeletedAt == nil {
			f.tasks[i].Completed = completed
			f.tasks[i].UpdatedAt = updatedAt
			return nil
		}
	}
	return domain.WrapError(domain.ErrTaskNotFound, "set completed", fmt.Errorf("id=%s", taskID))
}

func (f *taskStoreFake) SoftDeleteTask(_ context.Context, userID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tasks {
		if f.tasks[i].ID == taskID && f.tasks[i].UserID == userID && f.tasks[i].DeletedAt == nil {
			now := time.Now().UTC()
			f.tasks[i].DeletedAt = &now
			return nil
		}
	}
	return domain.WrapError(domain.ErrTaskNotFound, "delete task", fmt.Errorf("id=%s", taskID))
}

func (f *taskStoreFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type generatorFake struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *generatorFake) Generate(context.Context, domain.ScanJob) ([]domain.TaskItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, f.err
}

type idempotencyFake struct {
	mu       sync.Mutex
	keys     map[string]string
	released []string
}

func (f *idempotencyFake) Reserve(_ context.Context, ownerID, key, jobID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = map[string]string{}
	}
	if holder, ok := f.keys[ownerID+"/"+key]; ok {
		return holder, holder == jobID, nil
	}
	f.keys[ownerID+"/"+key] = jobID
	return jobID, true, nil
}

func (f *idempotencyFake) Release(_ context.Context, ownerID, key, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[ownerID+"/"+key] == jobID {
		delete(f.keys, ownerID+"/"+key)
		f.released = append(f.released, jobID)
	}
	return nil
}

type metricsFake struct {
	mu       sync.Mutex
	outcomes []string
	kinds    []domain.FailureKind
	tasks    int
	stale    int
}

func (f *metricsFake) StartScan() {}

func (f *metricsFake) FinishScan(outcome string, kind domain.FailureKind, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	f.kinds = append(f.kinds, kind)
}

func (f *metricsFake) ObserveQueueLag(time.Duration) {}

func (f *metricsFake) AddGeneratedTasks(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks += n
}

func (f *metricsFake) AddStaleFailed(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale += n
}

type exporterFake struct {
	exported []domain.TaskItem
}

func (f *exporterFake) ExportTasks(_ context.Context, tasks []domain.TaskItem) ([]byte, error) {
	f.exported = tasks
	return []byte("xlsx"), nil
}
