package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"adalerts/internal/types"
)

// mockClock implements types.Clock for deterministic testing.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// mockLogger implements types.Logger as a no-op for tests.
type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// memQueueRepo is an in-memory QueueRepository honouring the same
// conditional semantics as the SQL implementation.
type memQueueRepo struct {
	mu     sync.Mutex
	clock  types.Clock
	nextID int64
	items  map[int64]*types.QueueItem
	byKey  map[[2]int64]int64
	due    map[int64]time.Time

	insertErr error
	casErr    error
	casCalls  int
}

func newMemQueueRepo(clock types.Clock) *memQueueRepo {
	return &memQueueRepo{
		clock: clock,
		items: make(map[int64]*types.QueueItem),
		byKey: make(map[[2]int64]int64),
		due:   make(map[int64]time.Time),
	}
}

func (r *memQueueRepo) InsertIfNotExists(_ context.Context, adID int64, userIDs []int64) ([]types.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return nil, r.insertErr
	}

	var created []types.QueueItem
	for _, uid := range userIDs {
		key := [2]int64{uid, adID}
		if _, ok := r.byKey[key]; ok {
			continue
		}
		r.nextID++
		now := r.clock.Now()
		item := &types.QueueItem{
			ID:        r.nextID,
			UserID:    uid,
			AdID:      adID,
			Status:    types.QueuePending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.items[item.ID] = item
		r.byKey[key] = item.ID
		created = append(created, *item)
	}
	return created, nil
}

func (r *memQueueRepo) CompareAndSetStatus(_ context.Context, id int64, expected, next types.QueueStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	if r.casErr != nil {
		return false, r.casErr
	}
	item, ok := r.items[id]
	if !ok || item.Status != expected {
		return false, nil
	}
	item.Status = next
	item.UpdatedAt = r.clock.Now()
	return true, nil
}

func (r *memQueueRepo) MarkSent(_ context.Context, id int64, sentAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok || item.Status != types.QueueSending {
		return false, nil
	}
	item.Status = types.QueueSent
	item.SentAt = &sentAt
	item.UpdatedAt = r.clock.Now()
	return true, nil
}

func (r *memQueueRepo) MarkFailed(_ context.Context, id int64, status types.QueueStatus, errMsg string, nextAttemptAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok || item.Status != types.QueueSending {
		return false, nil
	}
	item.Status = status
	item.RetryCount++
	item.ErrorMessage = errMsg
	item.UpdatedAt = r.clock.Now()
	delete(r.due, id)
	if nextAttemptAt != nil {
		r.due[id] = *nextAttemptAt
	}
	return true, nil
}

func (r *memQueueRepo) ReclaimStale(_ context.Context, cutoff time.Time, errMsg string, maxAttempts int, nextAttemptAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, item := range r.items {
		if item.Status == types.QueueSending && item.UpdatedAt.Before(cutoff) {
			item.RetryCount++
			item.ErrorMessage = errMsg
			item.UpdatedAt = r.clock.Now()
			if item.RetryCount >= maxAttempts {
				item.Status = types.QueueDeadLetter
				delete(r.due, id)
			} else {
				item.Status = types.QueueFailed
				r.due[id] = nextAttemptAt
			}
			n++
		}
	}
	return n, nil
}

func (r *memQueueRepo) ListFailed(_ context.Context, maxRetryCount int, now time.Time, limit int) ([]types.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.QueueItem
	for id, item := range r.items {
		due, ok := r.due[id]
		if item.Status == types.QueueFailed && item.RetryCount < maxRetryCount && ok && !due.After(now) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		da, db := r.due[out[a].ID], r.due[out[b].ID]
		if !da.Equal(db) {
			return da.Before(db)
		}
		return out[a].ID < out[b].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memQueueRepo) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]types.QueueItem, error) {
	return r.list(limit, func(i *types.QueueItem) bool {
		return i.Status == types.QueuePending && i.UpdatedAt.Before(cutoff)
	}), nil
}

func (r *memQueueRepo) CountByStatus(_ context.Context) (map[types.QueueStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[types.QueueStatus]int)
	for _, item := range r.items {
		out[item.Status]++
	}
	return out, nil
}

func (r *memQueueRepo) list(limit int, keep func(*types.QueueItem) bool) []types.QueueItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.QueueItem
	for _, item := range r.items {
		if keep(item) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *memQueueRepo) get(userID, adID int64) (types.QueueItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[[2]int64{userID, adID}]
	if !ok {
		return types.QueueItem{}, false
	}
	return *r.items[id], true
}

func (r *memQueueRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// setStatus forces an item into a state for test setup. A FAILED item is
// due from updatedAt.
func (r *memQueueRepo) setStatus(userID, adID int64, status types.QueueStatus, retryCount int, updatedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.byKey[[2]int64{userID, adID}]
	item := r.items[id]
	item.Status = status
	item.RetryCount = retryCount
	item.UpdatedAt = updatedAt
	delete(r.due, id)
	if status == types.QueueFailed {
		r.due[id] = updatedAt
	}
}

// setDue overrides when a FAILED item becomes due.
func (r *memQueueRepo) setDue(userID, adID int64, due time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.due[r.byKey[[2]int64{userID, adID}]] = due
}

func (r *memQueueRepo) dueAt(userID, adID int64) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due, ok := r.due[r.byKey[[2]int64{userID, adID}]]
	return due, ok
}

// recordingSender records every Send call and returns per-user results.
type recordingSender struct {
	mu     sync.Mutex
	calls  []int64
	errs   map[int64]error
	panics map[int64]bool
}

func (s *recordingSender) Send(_ context.Context, userID, _ int64) error {
	s.mu.Lock()
	s.calls = append(s.calls, userID)
	err := s.errs[userID]
	boom := s.panics[userID]
	s.mu.Unlock()

	if boom {
		panic("sender exploded")
	}
	return err
}

func (s *recordingSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// recordingMetrics counts outcomes per result.
type recordingMetrics struct {
	mu        sync.Mutex
	outcomes  map[MetricResult]int
	matched   []int
	reclaimed int
	latencies int
	// doneCtx counts observations made with an already-cancelled context.
	doneCtx int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: make(map[MetricResult]int)}
}

func (m *recordingMetrics) RecordOutcome(ctx context.Context, _ TriggerKind, result MetricResult) {
	m.mu.Lock()
	m.outcomes[result]++
	if ctx.Err() != nil {
		m.doneCtx++
	}
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordSendLatency(ctx context.Context, _ time.Duration) {
	m.mu.Lock()
	m.latencies++
	if ctx.Err() != nil {
		m.doneCtx++
	}
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordMatched(_ context.Context, n int) {
	m.mu.Lock()
	m.matched = append(m.matched, n)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordReclaimed(_ context.Context, n int) {
	m.mu.Lock()
	m.reclaimed += n
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordPublishLag(context.Context, time.Duration) {}
