package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"adalerts/internal/types"
)

func TestListingRepository_GetListing(t *testing.T) {
	db := new(mockDBTX)
	repo := NewListingRepository(db)

	city := int64(4)
	price := 90000.0
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{int64(100)}).
		Return(rowOf(int64(100), int64(1), &city, &price, nil, "BROKER", "Two-room flat"))

	l, err := repo.GetListing(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.CategoryID)
	require.NotNil(t, l.CityID)
	assert.Equal(t, int64(4), *l.CityID)
	assert.Equal(t, 90000.0, *l.Price)
	assert.Nil(t, l.PropertyType)
	assert.Equal(t, types.PublisherBroker, l.PublisherType)
	db.AssertExpectations(t)
}

func TestListingRepository_GetListing_NotActive(t *testing.T) {
	db := new(mockDBTX)
	repo := NewListingRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetListing(context.Background(), 100)
	assert.Equal(t, types.ErrCodeNotFoundListing, types.CodeOf(err))
}

func TestListingRepository_GetListing_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewListingRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("timeout")})

	_, err := repo.GetListing(context.Background(), 100)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}
