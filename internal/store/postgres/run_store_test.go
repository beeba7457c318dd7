package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/store"
)

func runRows(run news.CrawlRun) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "schedule_slot", "state", "total_tasks", "completed_tasks", "failed_tasks", "started_at", "finished_at",
	}).AddRow(
		run.ID, run.ScheduleSlot, run.State, run.TotalTasks, run.CompletedTasks, run.FailedTasks, run.StartedAt, run.FinishedAt,
	)
}

func TestRunStoreCreateRunPersistsTasks(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	run := news.CrawlRun{ID: "run-1", ScheduleSlot: "2023-11-14", State: news.RunStateRunning, TotalTasks: 2, StartedAt: now}
	tasks := []news.CrawlTask{
		{RunID: "run-1", SourceID: "src-a", FetchURI: "https://a.example/feed", Kind: news.SourceKindFeed, State: news.TaskStatePending},
		{RunID: "run-1", SourceID: "src-b", FetchURI: "https://b.example/api", Kind: news.SourceKindAPI, State: news.TaskStatePending},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs("run-1", "2023-11-14", news.RunStateRunning, 2, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO crawl_tasks").
		WithArgs("run-1", "src-a", "https://a.example/feed", news.SourceKindFeed, 0, news.TaskStatePending).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO crawl_tasks").
		WithArgs("run-1", "src-b", "https://b.example/api", news.SourceKindAPI, 0, news.TaskStatePending).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.CreateRun(context.Background(), run, tasks))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreMarkTaskDoneIncrementsCounter(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE crawl_tasks").
		WithArgs("run-1", "src-a", news.TaskStateDone).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE crawl_runs SET completed_tasks = completed_tasks").
		WithArgs("run-1", 1).
		WillReturnRows(runRows(news.CrawlRun{
			ID: "run-1", ScheduleSlot: "slot", State: news.RunStateRunning,
			TotalTasks: 2, CompletedTasks: 1, FailedTasks: 0, StartedAt: now,
		}))
	mock.ExpectCommit()

	run, err := s.MarkTaskDone(context.Background(), "run-1", "src-a")
	require.NoError(t, err)
	require.Equal(t, 1, run.CompletedTasks)
	require.False(t, run.Terminal())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreMarkTaskDoneIdempotentOnRedelivery(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	// Task already terminal: the guard matches no rows and the counter
	// increment degrades to +0.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE crawl_tasks").
		WithArgs("run-1", "src-a", news.TaskStateDone).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("UPDATE crawl_runs SET completed_tasks = completed_tasks").
		WithArgs("run-1", 0).
		WillReturnRows(runRows(news.CrawlRun{
			ID: "run-1", ScheduleSlot: "slot", State: news.RunStateRunning,
			TotalTasks: 2, CompletedTasks: 1, StartedAt: now,
		}))
	mock.ExpectCommit()

	run, err := s.MarkTaskDone(context.Background(), "run-1", "src-a")
	require.NoError(t, err)
	require.Equal(t, 1, run.CompletedTasks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreMarkTaskFailedTerminalRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE crawl_tasks").
		WithArgs("run-1", "src-b", news.TaskStateFailed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE crawl_runs SET failed_tasks = failed_tasks").
		WithArgs("run-1", 1).
		WillReturnRows(runRows(news.CrawlRun{
			ID: "run-1", ScheduleSlot: "slot", State: news.RunStateRunning,
			TotalTasks: 2, CompletedTasks: 1, FailedTasks: 1, StartedAt: now,
		}))
	mock.ExpectCommit()

	run, err := s.MarkTaskFailed(context.Background(), "run-1", "src-b")
	require.NoError(t, err)
	require.True(t, run.Terminal())
	require.Equal(t, news.RunStateCompletedWithErrors, run.FinalState())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreActiveRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStore(mock)

	mock.ExpectQuery("SELECT (.+) FROM crawl_runs").
		WithArgs("2023-11-14").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "schedule_slot", "state", "total_tasks", "completed_tasks", "failed_tasks", "started_at", "finished_at",
		}))

	_, err = s.ActiveRun(context.Background(), "2023-11-14")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStorePendingTasks(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStore(mock)

	mock.ExpectQuery("SELECT (.+) FROM crawl_tasks").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"run_id", "source_id", "fetch_uri", "kind", "attempt", "state"}).
			AddRow("run-1", "src-a", "https://a.example/feed", news.SourceKindFeed, 1, news.TaskStateInFlight))

	tasks, err := s.PendingTasks(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, news.TaskStateInFlight, tasks[0].State)
	require.NoError(t, mock.ExpectationsWereMet())
}
