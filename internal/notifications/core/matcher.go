package core

import (
	"fmt"
	"slices"

	"adalerts/internal/types"
)

// Compile-time assertion that FilterMatcher implements Matcher.
var _ Matcher = (*FilterMatcher)(nil)

// FilterMatcher evaluates a listing against a saved search. Every non-empty
// dimension must pass; an empty dimension is a wildcard.
type FilterMatcher struct{}

// NewFilterMatcher creates a FilterMatcher.
func NewFilterMatcher() *FilterMatcher {
	return &FilterMatcher{}
}

// Matches reports whether listing satisfies filter. A filter that fails
// validation returns an error; callers treat that as no match.
func (m *FilterMatcher) Matches(filter types.SearchFilter, listing types.Listing) (bool, error) {
	if err := filter.Validate(); err != nil {
		return false, fmt.Errorf("Matches: %w", err)
	}

	if len(filter.CategoryIDs) > 0 && !slices.Contains(filter.CategoryIDs, listing.CategoryID) {
		return false, nil
	}

	if len(filter.CityIDs) > 0 {
		if listing.CityID == nil || !slices.Contains(filter.CityIDs, *listing.CityID) {
			return false, nil
		}
	}

	if filter.MinPrice != nil || filter.MaxPrice != nil {
		if listing.Price == nil {
			return false, nil
		}
		price := *listing.Price
		if filter.MinPrice != nil && price < *filter.MinPrice {
			return false, nil
		}
		if filter.MaxPrice != nil && price > *filter.MaxPrice {
			return false, nil
		}
	}

	if len(filter.PropertyTypes) > 0 {
		if listing.PropertyType == nil || !slices.Contains(filter.PropertyTypes, *listing.PropertyType) {
			return false, nil
		}
	}

	if len(filter.PublisherTypes) > 0 && !slices.Contains(filter.PublisherTypes, listing.PublisherType) {
		return false, nil
	}

	return true, nil
}
