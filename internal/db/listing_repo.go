package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"adalerts/internal/types"
)

// ListingRepository is the read-only lookup of published ads.
type ListingRepository struct {
	db DBTX
}

// NewListingRepository creates a new ListingRepository.
func NewListingRepository(db DBTX) *ListingRepository {
	return &ListingRepository{db: db}
}

// GetListing returns the match-time snapshot of an active ad. Ads that are
// missing or not active are reported as not found.
func (r *ListingRepository) GetListing(ctx context.Context, adID int64) (*types.Listing, error) {
	var (
		l             types.Listing
		publisherType string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, category_id, city_id, price, property_type, publisher_type, title
		 FROM ads
		 WHERE id = $1 AND status = 'ACTIVE'`,
		adID,
	).Scan(&l.AdID, &l.CategoryID, &l.CityID, &l.Price, &l.PropertyType, &publisherType, &l.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundListing, "active listing not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve listing", err)
	}
	l.PublisherType = types.PublisherType(publisherType)
	return &l, nil
}
