// Package scheduler routes the scheduled maintenance events of the
// notification engine: the retry sweep, the stale-SENDING reclaim and the
// housekeeping of expired job locks.
//
// EventBridge rules send a MaintenancePayload naming the task; the
// Multiplexer takes a distributed lock for the schedule slot, records the run
// in job_history and calls the engine.
package scheduler

import "time"

// TaskType identifies which maintenance task an EventBridge event runs.
type TaskType string

const (
	TaskRetrySweep    TaskType = "retry_sweep"
	TaskReclaimStale  TaskType = "reclaim_stale"
	TaskPurgeJobLocks TaskType = "purge_job_locks"
)

// Valid reports whether t names a known task.
func (t TaskType) Valid() bool {
	switch t {
	case TaskRetrySweep, TaskReclaimStale, TaskPurgeJobLocks:
		return true
	default:
		return false
	}
}

// MaintenancePayload is the JSON body sent by EventBridge:
//
//	{
//	  "task": "retry_sweep",
//	  "limit": 200,                              // optional, retry_sweep only
//	  "reference_time": "2026-03-01T12:05:00Z"   // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`

	// Limit overrides the configured sweep batch size for one run.
	Limit int `json:"limit,omitempty"`

	// ReferenceTime replaces "now" for the lock slot and housekeeping cutoffs,
	// which makes manual re-invocation deterministic.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
