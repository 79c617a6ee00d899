package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"adalerts/internal/types"
)

var repoNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func queueRow(id, userID, adID int64, status string, retry int) []any {
	return []any{id, userID, adID, status, retry, "", nil, repoNow, repoNow}
}

func TestQueueRepository_InsertIfNotExists_ReturnsCreatedOnly(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	rows := newMockRows([][]any{
		queueRow(10, 1, 100, "PENDING", 0),
		queueRow(11, 3, 100, "PENDING", 0),
	})

	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT (user_id, ad_id) DO NOTHING")
	}), []any{int64(100), []int64{1, 2, 3}}).Return(rows, nil)

	items, err := repo.InsertIfNotExists(ctx, 100, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(10), items[0].ID)
	assert.Equal(t, int64(3), items[1].UserID)
	assert.Equal(t, types.QueuePending, items[1].Status)
	assert.Nil(t, items[0].SentAt)
	assert.True(t, rows.closed)
	db.AssertExpectations(t)
}

func TestQueueRepository_InsertIfNotExists_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)

	items, err := repo.InsertIfNotExists(context.Background(), 100, nil)
	require.NoError(t, err)
	assert.Nil(t, items)
	db.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueRepository_InsertIfNotExists_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.InsertIfNotExists(context.Background(), 100, []int64{1})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestQueueRepository_CompareAndSetStatus(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		want bool
	}{
		{"claimed", "UPDATE 1", true},
		{"lost race", "UPDATE 0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewQueueRepository(db)
			ctx := context.Background()

			db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
				return strings.Contains(sql, "WHERE id = $1 AND status = $2")
			}), []any{int64(7), "FAILED", "SENDING"}).Return(pgconn.NewCommandTag(tt.tag), nil)

			ok, err := repo.CompareAndSetStatus(ctx, 7, types.QueueFailed, types.QueueSending)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			db.AssertExpectations(t)
		})
	}
}

func TestQueueRepository_CompareAndSetStatus_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("deadlock detected"))

	ok, err := repo.CompareAndSetStatus(context.Background(), 7, types.QueuePending, types.QueueSending)
	assert.False(t, ok)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestQueueRepository_MarkSent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "status = 'SENT'") && strings.Contains(sql, "status = 'SENDING'")
	}), []any{int64(7), repoNow}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	ok, err := repo.MarkSent(ctx, 7, repoNow)
	require.NoError(t, err)
	assert.True(t, ok)
	db.AssertExpectations(t)
}

func TestQueueRepository_MarkFailed(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	due := repoNow.Add(4 * time.Minute)

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "retry_count = retry_count + 1") &&
			strings.Contains(sql, "next_attempt_at = $4")
	}), []any{int64(7), "FAILED", "gateway returned 503", &due}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	ok, err := repo.MarkFailed(ctx, 7, types.QueueFailed, "gateway returned 503", &due)
	require.NoError(t, err)
	assert.True(t, ok)
	db.AssertExpectations(t)
}

func TestQueueRepository_MarkFailed_DeadLetterClearsSchedule(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"),
		[]any{int64(7), "DEAD_LETTER", "invalid recipient", (*time.Time)(nil)}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	ok, err := repo.MarkFailed(ctx, 7, types.QueueDeadLetter, "invalid recipient", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	db.AssertExpectations(t)
}

func TestQueueRepository_ReclaimStale(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	cutoff := repoNow.Add(-15 * time.Minute)
	due := repoNow.Add(time.Minute)

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "WHERE status = 'SENDING' AND updated_at < $1")
	}), []any{cutoff, "stale", 5, due}).Return(pgconn.NewCommandTag("UPDATE 4"), nil)

	n, err := repo.ReclaimStale(ctx, cutoff, "stale", 5, due)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	db.AssertExpectations(t)
}

func TestQueueRepository_ReclaimStale_DeadLettersAtCap(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	cutoff := repoNow.Add(-15 * time.Minute)
	due := repoNow.Add(time.Minute)

	// The cap check runs in the same statement, so no reclaimed row can
	// stay FAILED with retry_count at the cap.
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "CASE WHEN retry_count + 1 >= $3 THEN 'DEAD_LETTER' ELSE 'FAILED' END") &&
			strings.Contains(sql, "CASE WHEN retry_count + 1 >= $3 THEN NULL ELSE $4::timestamptz END")
	}), []any{cutoff, "stale", 5, due}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	n, err := repo.ReclaimStale(ctx, cutoff, "stale", 5, due)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	db.AssertExpectations(t)
}

func TestQueueRepository_ListFailed(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	sent := repoNow.Add(-time.Hour)
	rows := newMockRows([][]any{
		{int64(5), int64(2), int64(100), "FAILED", 2, "gateway returned 503", &sent, repoNow, repoNow},
	})
	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "status = 'FAILED' AND retry_count < $1 AND next_attempt_at <= $2") &&
			strings.Contains(sql, "ORDER BY next_attempt_at ASC")
	}), []any{5, repoNow, 50}).Return(rows, nil)

	items, err := repo.ListFailed(ctx, 5, repoNow, 50)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, types.QueueFailed, items[0].Status)
	assert.Equal(t, 2, items[0].RetryCount)
	assert.Equal(t, "gateway returned 503", items[0].ErrorMessage)
	db.AssertExpectations(t)
}

func TestQueueRepository_ListPendingBefore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	cutoff := repoNow.Add(-15 * time.Minute)

	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "status = 'PENDING' AND updated_at < $1")
	}), []any{cutoff, 10}).Return(newMockRows([][]any{queueRow(1, 1, 100, "PENDING", 0)}), nil)

	items, err := repo.ListPendingBefore(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	db.AssertExpectations(t)
}

func TestQueueRepository_ListFailed_ScanError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)

	rows := newMockRows([][]any{queueRow(1, 1, 100, "FAILED", 1)})
	rows.scanErr = errors.New("type mismatch")
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.ListFailed(context.Background(), 5, repoNow, 10)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestQueueRepository_CountByStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)

	rows := newMockRows([][]any{
		{"PENDING", 3},
		{"SENT", 40},
		{"DEAD_LETTER", 1},
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[types.QueueStatus]int{
		types.QueuePending:    3,
		types.QueueSent:       40,
		types.QueueDeadLetter: 1,
	}, counts)
}
