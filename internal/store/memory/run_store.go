package memory

import (
	"context"
	"sync"
	"time"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/store"
)

type taskKey struct {
	runID    string
	sourceID string
}

// RunStore is an in-memory news.RunStore.
type RunStore struct {
	mu    sync.Mutex
	runs  map[string]news.CrawlRun
	tasks map[taskKey]news.CrawlTask
}

// NewRunStore constructs an empty store.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[string]news.CrawlRun),
		tasks: make(map[taskKey]news.CrawlTask),
	}
}

// CreateRun persists the run and its tasks.
func (s *RunStore) CreateRun(_ context.Context, run news.CrawlRun, tasks []news.CrawlTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	for _, t := range tasks {
		s.tasks[taskKey{runID: t.RunID, sourceID: t.SourceID}] = t
	}
	return nil
}

// MarkTaskDone transitions the task and bumps the completed counter.
func (s *RunStore) MarkTaskDone(_ context.Context, runID, sourceID string) (news.CrawlRun, error) {
	return s.finishTask(runID, sourceID, news.TaskStateDone)
}

// MarkTaskFailed transitions the task and bumps the failed counter.
func (s *RunStore) MarkTaskFailed(_ context.Context, runID, sourceID string) (news.CrawlRun, error) {
	return s.finishTask(runID, sourceID, news.TaskStateFailed)
}

func (s *RunStore) finishTask(runID, sourceID string, state news.TaskState) (news.CrawlRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return news.CrawlRun{}, store.ErrNotFound
	}

	key := taskKey{runID: runID, sourceID: sourceID}
	task, ok := s.tasks[key]
	if !ok {
		return news.CrawlRun{}, store.ErrNotFound
	}

	// Idempotent on redelivery: terminal tasks bump nothing.
	if task.State == news.TaskStatePending || task.State == news.TaskStateInFlight {
		task.State = state
		s.tasks[key] = task
		if state == news.TaskStateDone {
			run.CompletedTasks++
		} else {
			run.FailedTasks++
		}
		s.runs[runID] = run
	}
	return run, nil
}

// CompleteRun records the terminal state once.
func (s *RunStore) CompleteRun(_ context.Context, runID string, state news.RunState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	if run.State == news.RunStateRunning {
		run.State = state
		run.FinishedAt = &at
		s.runs[runID] = run
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(_ context.Context, runID string) (news.CrawlRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return news.CrawlRun{}, store.ErrNotFound
	}
	return run, nil
}

// ActiveRun returns the running run for the slot, if any.
func (s *RunStore) ActiveRun(_ context.Context, scheduleSlot string) (news.CrawlRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if run.ScheduleSlot == scheduleSlot && run.State == news.RunStateRunning {
			return run, nil
		}
	}
	return news.CrawlRun{}, store.ErrNotFound
}

// LatestCompletedRun returns the most recently finished run.
func (s *RunStore) LatestCompletedRun(_ context.Context) (news.CrawlRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest news.CrawlRun
	found := false
	for _, run := range s.runs {
		if run.State == news.RunStateRunning || run.FinishedAt == nil {
			continue
		}
		if !found || run.FinishedAt.After(*latest.FinishedAt) {
			latest = run
			found = true
		}
	}
	if !found {
		return news.CrawlRun{}, store.ErrNotFound
	}
	return latest, nil
}

// PendingTasks lists non-terminal tasks for resume.
func (s *RunStore) PendingTasks(_ context.Context, runID string) ([]news.CrawlTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []news.CrawlTask
	for key, t := range s.tasks {
		if key.runID != runID {
			continue
		}
		if t.State == news.TaskStatePending || t.State == news.TaskStateInFlight {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}
