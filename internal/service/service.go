// Package service is the single entry point other layers use for task
// operations. Writes commit to the local store before the call returns;
// network sync is a background, best-effort overlay that callers never
// wait on.
package service

import (
	"context"
	"errors"
	"strings"
	stdsync "sync"

	"github.com/quietgrid/tasksync/internal/logger"
	"github.com/quietgrid/tasksync/internal/model"
	"github.com/quietgrid/tasksync/internal/netmon"
	"github.com/quietgrid/tasksync/internal/store"
	"github.com/quietgrid/tasksync/internal/sync"
)

var (
	ErrTitleRequired   = errors.New("title is required")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrInvalidPriority = errors.New("invalid priority")
)

// Filters narrows a task listing. Empty fields match everything; Search is
// a case-insensitive substring match over title and description.
type Filters struct {
	Status   string
	Priority string
	Search   string
}

// Stats summarizes the local snapshot - no network involved.
type Stats struct {
	Total     int
	Completed int
	Pending   int
	Offline   int
	ByStatus  map[string]int
}

// TaskService coordinates the local store and the sync engine.
type TaskService struct {
	store   store.Store
	engine  *sync.Engine
	monitor netmon.Monitor

	mu       stdsync.Mutex
	onChange func()
}

// New creates a task service. A sync pass that moved data also counts as a
// change for OnChange subscribers.
func New(st store.Store, engine *sync.Engine, monitor netmon.Monitor) *TaskService {
	s := &TaskService{store: st, engine: engine, monitor: monitor}
	engine.OnComplete(func(r *sync.Result) {
		if r.SyncedActions > 0 || r.DownloadedTasks > 0 {
			s.notify()
		}
	})
	return s
}

// OnChange registers a callback invoked after any local mutation. The UI
// layer subscribes here instead of watching store state.
func (s *TaskService) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *TaskService) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// backgroundSync fires a detached sync attempt when online. The preceding
// store write has already committed by the time this runs.
func (s *TaskService) backgroundSync(ctx context.Context) {
	if !s.monitor.Status().Connected {
		return
	}
	s.engine.TriggerSync(context.WithoutCancel(ctx))
}

// Create validates the draft, writes it to the local store and kicks off a
// background sync.
func (s *TaskService) Create(ctx context.Context, draft model.Draft) (*model.Task, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return nil, ErrTitleRequired
	}
	if draft.Status != "" && !model.ValidStatus(draft.Status) {
		return nil, ErrInvalidStatus
	}
	if draft.Priority != "" && !model.ValidPriority(draft.Priority) {
		return nil, ErrInvalidPriority
	}

	task, err := s.store.InsertTask(ctx, draft)
	if err != nil {
		return nil, err
	}
	logger.Info("Task created",
		logger.F("localID", task.LocalID),
		logger.F("title", task.Title),
		logger.F("online", s.monitor.Status().Connected))

	s.notify()
	s.backgroundSync(ctx)
	return task, nil
}

// Update applies a partial update and kicks off a background sync.
func (s *TaskService) Update(ctx context.Context, localID string, patch model.Patch) (*model.Task, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, ErrTitleRequired
	}
	if patch.Status != nil && !model.ValidStatus(*patch.Status) {
		return nil, ErrInvalidStatus
	}
	if patch.Priority != nil && !model.ValidPriority(*patch.Priority) {
		return nil, ErrInvalidPriority
	}

	task, err := s.store.UpdateTask(ctx, localID, patch)
	if err != nil {
		return nil, err
	}
	logger.Info("Task updated", logger.F("localID", localID))

	s.notify()
	s.backgroundSync(ctx)
	return task, nil
}

// Delete removes a task (outright when it never synced, otherwise marked
// pending-delete) and kicks off a background sync.
func (s *TaskService) Delete(ctx context.Context, localID string) error {
	if err := s.store.DeleteTask(ctx, localID); err != nil {
		return err
	}
	logger.Info("Task deleted", logger.F("localID", localID))

	s.notify()
	s.backgroundSync(ctx)
	return nil
}

// Get returns one task by local id.
func (s *TaskService) Get(ctx context.Context, localID string) (*model.Task, error) {
	return s.store.GetTaskByLocalID(ctx, localID)
}

// List reads tasks from the local store. When online it runs a
// best-effort sync pass first so the result reflects the latest merge, but
// a failed sync never fails the read.
func (s *TaskService) List(ctx context.Context, filters Filters) ([]model.Task, error) {
	if s.monitor.Status().Connected {
		if _, err := s.engine.AttemptSync(ctx); err != nil &&
			!errors.Is(err, sync.ErrAlreadyInProgress) &&
			!errors.Is(err, sync.ErrNoSuitableConnection) {
			logger.Warn("Pre-read sync failed, serving local data", logger.F("error", err))
		}
	}

	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	return applyFilters(tasks, filters), nil
}

// Stats derives counts from the current local snapshot.
func (s *TaskService) Stats(ctx context.Context) (Stats, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(tasks), ByStatus: make(map[string]int)}
	for _, t := range tasks {
		stats.ByStatus[t.Status]++
		if t.Status == model.StatusCompleted {
			stats.Completed++
		} else {
			stats.Pending++
		}
		if t.NeedsSync || t.IsOffline {
			stats.Offline++
		}
	}
	return stats, nil
}

// PendingSyncCount reports how many journal entries await upload.
func (s *TaskService) PendingSyncCount(ctx context.Context) (int, error) {
	return s.store.CountPendingJournalEntries(ctx)
}

func applyFilters(tasks []model.Task, filters Filters) []model.Task {
	if filters.Status == "" && filters.Priority == "" && filters.Search == "" {
		return tasks
	}

	search := strings.ToLower(filters.Search)
	filtered := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if filters.Status != "" && t.Status != filters.Status {
			continue
		}
		if filters.Priority != "" && t.Priority != filters.Priority {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered
}
