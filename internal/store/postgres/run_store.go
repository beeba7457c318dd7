package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/store"
)

// RunStore checkpoints crawl runs and tasks in Postgres. Fan-in counters are
// bumped with single-statement increments so concurrent workers never race a
// read-modify-write.
type RunStore struct {
	db DB
}

// NewRunStore wires the store to a pool.
func NewRunStore(db DB) *RunStore {
	return &RunStore{db: db}
}

const runColumns = `id, schedule_slot, state, total_tasks, completed_tasks, failed_tasks, started_at, finished_at`

// CreateRun persists the run and all its tasks in one transaction, before
// anything touches the network.
func (s *RunStore) CreateRun(ctx context.Context, run news.CrawlRun, tasks []news.CrawlTask) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertRun = `
		INSERT INTO crawl_runs (id, schedule_slot, state, total_tasks, completed_tasks, failed_tasks, started_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5);
	`
	if _, err := tx.Exec(ctx, insertRun, run.ID, run.ScheduleSlot, run.State, run.TotalTasks, run.StartedAt); err != nil {
		return fmt.Errorf("insert crawl run: %w", err)
	}

	const insertTask = `
		INSERT INTO crawl_tasks (run_id, source_id, fetch_uri, kind, attempt, state)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	for _, task := range tasks {
		if _, err := tx.Exec(ctx, insertTask, task.RunID, task.SourceID, task.FetchURI, task.Kind, task.Attempt, task.State); err != nil {
			return fmt.Errorf("insert crawl task %s: %w", task.SourceID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

// MarkTaskDone records a task success and bumps the run's completed counter.
func (s *RunStore) MarkTaskDone(ctx context.Context, runID, sourceID string) (news.CrawlRun, error) {
	return s.finishTask(ctx, runID, sourceID, news.TaskStateDone)
}

// MarkTaskFailed records a permanent task failure and bumps the failed counter.
func (s *RunStore) MarkTaskFailed(ctx context.Context, runID, sourceID string) (news.CrawlRun, error) {
	return s.finishTask(ctx, runID, sourceID, news.TaskStateFailed)
}

// finishTask transitions the task and increments the matching run counter.
// The task-state guard makes the transition idempotent: a redelivered task
// that already reached a terminal state bumps nothing.
func (s *RunStore) finishTask(ctx context.Context, runID, sourceID string, state news.TaskState) (news.CrawlRun, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return news.CrawlRun{}, fmt.Errorf("begin finish task: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const updateTask = `
		UPDATE crawl_tasks
		SET state = $3
		WHERE run_id = $1 AND source_id = $2 AND state IN ('pending', 'in_flight');
	`
	tag, err := tx.Exec(ctx, updateTask, runID, sourceID, state)
	if err != nil {
		return news.CrawlRun{}, fmt.Errorf("update crawl task: %w", err)
	}

	var counterSQL string
	if state == news.TaskStateDone {
		counterSQL = `UPDATE crawl_runs SET completed_tasks = completed_tasks + $2 WHERE id = $1 RETURNING ` + runColumns + `;`
	} else {
		counterSQL = `UPDATE crawl_runs SET failed_tasks = failed_tasks + $2 WHERE id = $1 RETURNING ` + runColumns + `;`
	}

	// Increment by zero when the task was already terminal so the returned
	// run snapshot stays accurate without double counting.
	delta := 0
	if tag.RowsAffected() > 0 {
		delta = 1
	}

	run, err := scanRun(tx.QueryRow(ctx, counterSQL, runID, delta))
	if err != nil {
		return news.CrawlRun{}, fmt.Errorf("bump run counter: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return news.CrawlRun{}, fmt.Errorf("commit finish task: %w", err)
	}
	return run, nil
}

// CompleteRun records the terminal state. The state guard keeps the
// transition monotone when two workers observe the final task at once.
func (s *RunStore) CompleteRun(ctx context.Context, runID string, state news.RunState, at time.Time) error {
	const query = `
		UPDATE crawl_runs
		SET state = $2, finished_at = $3
		WHERE id = $1 AND state = 'running';
	`
	if _, err := s.db.Exec(ctx, query, runID, state, at); err != nil {
		return fmt.Errorf("complete crawl run: %w", err)
	}
	return nil
}

// GetRun loads one run by id.
func (s *RunStore) GetRun(ctx context.Context, runID string) (news.CrawlRun, error) {
	query := `SELECT ` + runColumns + ` FROM crawl_runs WHERE id = $1;`
	run, err := scanRun(s.db.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return news.CrawlRun{}, store.ErrNotFound
	}
	if err != nil {
		return news.CrawlRun{}, fmt.Errorf("get crawl run: %w", err)
	}
	return run, nil
}

// ActiveRun returns the non-terminal run for a schedule slot.
func (s *RunStore) ActiveRun(ctx context.Context, scheduleSlot string) (news.CrawlRun, error) {
	query := `SELECT ` + runColumns + ` FROM crawl_runs WHERE schedule_slot = $1 AND state = 'running' LIMIT 1;`
	run, err := scanRun(s.db.QueryRow(ctx, query, scheduleSlot))
	if errors.Is(err, pgx.ErrNoRows) {
		return news.CrawlRun{}, store.ErrNotFound
	}
	if err != nil {
		return news.CrawlRun{}, fmt.Errorf("get active run: %w", err)
	}
	return run, nil
}

// LatestCompletedRun returns the most recently finished run.
func (s *RunStore) LatestCompletedRun(ctx context.Context) (news.CrawlRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM crawl_runs
		WHERE state IN ('completed', 'completed_with_errors')
		ORDER BY finished_at DESC
		LIMIT 1;
	`
	run, err := scanRun(s.db.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return news.CrawlRun{}, store.ErrNotFound
	}
	if err != nil {
		return news.CrawlRun{}, fmt.Errorf("get latest completed run: %w", err)
	}
	return run, nil
}

// PendingTasks lists tasks that have not reached a terminal state, used to
// resume an interrupted run.
func (s *RunStore) PendingTasks(ctx context.Context, runID string) ([]news.CrawlTask, error) {
	const query = `
		SELECT run_id, source_id, fetch_uri, kind, attempt, state
		FROM crawl_tasks
		WHERE run_id = $1 AND state IN ('pending', 'in_flight');
	`
	rows, err := s.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []news.CrawlTask
	for rows.Next() {
		var t news.CrawlTask
		if err := rows.Scan(&t.RunID, &t.SourceID, &t.FetchURI, &t.Kind, &t.Attempt, &t.State); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, nil
}

func scanRun(row pgx.Row) (news.CrawlRun, error) {
	var run news.CrawlRun
	err := row.Scan(
		&run.ID,
		&run.ScheduleSlot,
		&run.State,
		&run.TotalTasks,
		&run.CompletedTasks,
		&run.FailedTasks,
		&run.StartedAt,
		&run.FinishedAt,
	)
	return run, err
}
