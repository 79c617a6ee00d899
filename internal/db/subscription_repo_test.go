package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"adalerts/internal/types"
)

func TestSubscriptionRepository_Get(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, &mockLogger{})
	ctx := context.Background()

	filter := []byte(`{"category_ids":[1,2],"max_price":100000,"publisher_types":["OWNER"]}`)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{int64(7)}).
		Return(rowOf(int64(7), true, filter, repoNow))

	sub, err := repo.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, sub.NotifyEnabled)
	assert.Equal(t, []int64{1, 2}, sub.Filter.CategoryIDs)
	require.NotNil(t, sub.Filter.MaxPrice)
	assert.Equal(t, 100000.0, *sub.Filter.MaxPrice)
	assert.Equal(t, []types.PublisherType{types.PublisherOwner}, sub.Filter.PublisherTypes)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, &mockLogger{})

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.Get(context.Background(), 7)
	assert.Equal(t, types.ErrCodeNotFoundSubscription, types.CodeOf(err))
}

func TestSubscriptionRepository_Get_NullFilterIsWildcard(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, &mockLogger{})

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rowOf(int64(7), true, nil, repoNow))

	sub, err := repo.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, sub.Filter.IsWildcard())
}

func TestSubscriptionRepository_Upsert(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, &mockLogger{})
	ctx := context.Background()

	sub := &types.UserSubscription{
		UserID:        7,
		NotifyEnabled: true,
		Filter:        types.SearchFilter{CityIDs: []int64{3}},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 3 {
			return false
		}
		var f types.SearchFilter
		if err := json.Unmarshal(args[2].([]byte), &f); err != nil {
			return false
		}
		return args[0] == int64(7) && args[1] == true && len(f.CityIDs) == 1 && f.CityIDs[0] == 3
	})).Return(rowOf(repoNow))

	require.NoError(t, repo.Upsert(ctx, sub))
	assert.Equal(t, repoNow, sub.UpdatedAt)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_Upsert_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, &mockLogger{})

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	err := repo.Upsert(context.Background(), &types.UserSubscription{UserID: 7})
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestSubscriptionRepository_ListEnabled_SkipsUndecodableFilters(t *testing.T) {
	db := new(mockDBTX)
	logger := &mockLogger{}
	repo := NewSubscriptionRepository(db, logger)

	rows := newMockRows([][]any{
		{int64(1), true, []byte(`{}`), repoNow},
		{int64(2), true, []byte(`{"category_ids":"oops"`), repoNow},
		{int64(3), true, []byte(`{"city_ids":[4]}`), repoNow},
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	subs, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, int64(1), subs[0].UserID)
	assert.Equal(t, int64(3), subs[1].UserID)
	assert.Equal(t, []int64{4}, subs[1].Filter.CityIDs)
	assert.Len(t, logger.warns, 1)
}

func TestSubscriptionRepository_ListEnabled_RowsError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, &mockLogger{})

	rows := newMockRows(nil)
	rows.errVal = errors.New("network blip")
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.ListEnabled(context.Background())
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}
