package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	notify "adalerts/internal/notifications/core"
	"adalerts/internal/types"
)

const (
	defaultLockSlot = time.Minute
	defaultLockTTL  = 10 * time.Minute

	// jobLockRetention keeps expired lock rows for a day so overlapping
	// deliveries can still be diagnosed.
	jobLockRetention = 24 * time.Hour
)

// Engine is the subset of the notification engine run by scheduled tasks.
type Engine interface {
	RetrySweep(ctx context.Context, opts notify.SweepOptions) (types.SweepResult, error)
	ReclaimStale(ctx context.Context) (int, error)
}

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Multiplexer runs one maintenance task per invocation.
//
// The lock ID is "task:slot" where slot is the reference time truncated to
// LockSlot, so duplicate deliveries of the same schedule tick collide while
// consecutive ticks do not. The lock only saves work: two concurrent sweeps
// are still safe because every item transition is a compare-and-swap.
type Multiplexer struct {
	Engine     Engine
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	LockSlot   time.Duration
	LockTTL    time.Duration
	Clock      types.Clock
	Logger     *slog.Logger
}

// Handle processes a MaintenancePayload.
//
//  1. Determine the reference time.
//  2. Acquire the slot lock; a held lock skips the run.
//  3. Record job start (failures here are logged, not fatal).
//  4. Run the task.
//  5. Record job completion with status and item count.
func (m *Multiplexer) Handle(ctx context.Context, payload MaintenancePayload) (string, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := m.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}
	if !payload.Task.Valid() {
		return "", fmt.Errorf("unknown task type: %q", payload.Task)
	}

	now := clock.Now()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}
	task := string(payload.Task)

	logger.InfoContext(ctx, "maintenance task invoked",
		"task", task,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", m.WorkerID,
	)

	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(m.lockSlot()).Format("2006-01-02T15:04"))
	acquired, err := m.JobLock.Acquire(ctx, lockID, m.WorkerID, m.lockTTL())
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock", "lock_id", lockID, "error", err)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock held by another worker, skipping", "lock_id", lockID)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	jobID, err := m.JobHistory.Start(ctx, task)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history", "task", task, "error", err)
		jobID = 0
	}

	items, execErr := m.dispatch(ctx, payload, now)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := m.JobHistory.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "job_id", jobID, "error", finishErr)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "maintenance task failed",
			"task", task,
			"error", execErr,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", task, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", task, items)
	logger.InfoContext(ctx, result, "task", task, "items", items)
	return result, nil
}

// dispatch routes a task to the engine. The item count for a sweep is the
// number of FAILED items retried.
func (m *Multiplexer) dispatch(ctx context.Context, payload MaintenancePayload, now time.Time) (int, error) {
	switch payload.Task {
	case TaskRetrySweep:
		res, err := m.Engine.RetrySweep(ctx, notify.SweepOptions{Limit: payload.Limit})
		return res.Count, err

	case TaskReclaimStale:
		return m.Engine.ReclaimStale(ctx)

	case TaskPurgeJobLocks:
		return m.JobLock.PurgeExpired(ctx, now.Add(-jobLockRetention))

	default:
		return 0, fmt.Errorf("unknown task type: %q", payload.Task)
	}
}

func (m *Multiplexer) lockSlot() time.Duration {
	if m.LockSlot > 0 {
		return m.LockSlot
	}
	return defaultLockSlot
}

func (m *Multiplexer) lockTTL() time.Duration {
	if m.LockTTL > 0 {
		return m.LockTTL
	}
	return defaultLockTTL
}
