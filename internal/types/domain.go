package types

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// PublisherType identifies who published a listing.
type PublisherType string

const (
	PublisherOwner  PublisherType = "OWNER"
	PublisherBroker PublisherType = "BROKER"
)

// Valid reports whether p is a known publisher type.
func (p PublisherType) Valid() bool {
	return p == PublisherOwner || p == PublisherBroker
}

// Listing is the immutable snapshot of a published ad taken at match time.
// The engine never re-reads a listing after it has been matched once.
type Listing struct {
	AdID          int64         `json:"ad_id"`
	CategoryID    int64         `json:"category_id"`
	CityID        *int64        `json:"city_id,omitempty"`
	Price         *float64      `json:"price,omitempty"`
	PropertyType  *string       `json:"property_type,omitempty"`
	PublisherType PublisherType `json:"publisher_type"`
	Title         string        `json:"title,omitempty"`
}

// SearchFilter is a user's saved search. Every dimension is optional; an
// absent or empty dimension places no constraint on the listing.
//
// Filters are normalized and validated when a subscription is written, so
// the matcher can assume a well-formed value.
type SearchFilter struct {
	CategoryIDs    []int64         `json:"category_ids,omitempty" validate:"omitempty,max=500,dive,gt=0"`
	CityIDs        []int64         `json:"city_ids,omitempty" validate:"omitempty,max=500,dive,gt=0"`
	MinPrice       *float64        `json:"min_price,omitempty" validate:"omitempty,gte=0"`
	MaxPrice       *float64        `json:"max_price,omitempty" validate:"omitempty,gte=0"`
	PropertyTypes  []string        `json:"property_types,omitempty" validate:"omitempty,max=50,dive,max=64"`
	PublisherTypes []PublisherType `json:"publisher_types,omitempty" validate:"omitempty,max=2,dive,publisher_type"`
}

// IsWildcard reports whether the filter constrains no dimension at all.
func (f SearchFilter) IsWildcard() bool {
	return len(f.CategoryIDs) == 0 &&
		len(f.CityIDs) == 0 &&
		f.MinPrice == nil &&
		f.MaxPrice == nil &&
		len(f.PropertyTypes) == 0 &&
		len(f.PublisherTypes) == 0
}

// Normalize returns a canonical copy of the filter: ID sets sorted and
// deduplicated, property types trimmed with blanks dropped, publisher types
// upper-cased. Empty sets become nil.
func (f SearchFilter) Normalize() SearchFilter {
	out := SearchFilter{
		CategoryIDs: normalizeIDs(f.CategoryIDs),
		CityIDs:     normalizeIDs(f.CityIDs),
		MinPrice:    f.MinPrice,
		MaxPrice:    f.MaxPrice,
	}

	for _, pt := range f.PropertyTypes {
		pt = strings.TrimSpace(pt)
		if pt == "" || slices.Contains(out.PropertyTypes, pt) {
			continue
		}
		out.PropertyTypes = append(out.PropertyTypes, pt)
	}
	slices.Sort(out.PropertyTypes)

	for _, p := range f.PublisherTypes {
		p = PublisherType(strings.ToUpper(strings.TrimSpace(string(p))))
		if p == "" || slices.Contains(out.PublisherTypes, p) {
			continue
		}
		out.PublisherTypes = append(out.PublisherTypes, p)
	}
	slices.Sort(out.PublisherTypes)

	return out
}

// Validate checks the cross-field rules struct tags cannot express.
func (f SearchFilter) Validate() error {
	if f.MinPrice != nil && *f.MinPrice < 0 {
		return NewAppError(ErrCodeValidationPriceRange, "min_price must not be negative", nil)
	}
	if f.MaxPrice != nil && *f.MaxPrice < 0 {
		return NewAppError(ErrCodeValidationPriceRange, "max_price must not be negative", nil)
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return NewAppErrorWithDetails(ErrCodeValidationPriceRange,
			"min_price must not exceed max_price", nil,
			map[string]any{"min_price": *f.MinPrice, "max_price": *f.MaxPrice})
	}
	for _, p := range f.PublisherTypes {
		if !p.Valid() {
			return NewAppErrorWithDetails(ErrCodeValidationPublisherType,
				fmt.Sprintf("unknown publisher type %q", p), nil,
				map[string]any{"allowed": []PublisherType{PublisherOwner, PublisherBroker}})
		}
	}
	return nil
}

func normalizeIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// UserSubscription is a user's opt-in and saved search. One per user.
type UserSubscription struct {
	UserID        int64        `json:"user_id"`
	NotifyEnabled bool         `json:"notify_enabled"`
	Filter        SearchFilter `json:"filter"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OverrideMode is the per-user exception to the global policy.
type OverrideMode string

const (
	OverrideAllow OverrideMode = "ALLOW"
	OverrideBlock OverrideMode = "BLOCK"
)

// Valid reports whether m is a known override mode.
func (m OverrideMode) Valid() bool {
	return m == OverrideAllow || m == OverrideBlock
}

// Override is a time-limited, per-user exception to the global notification
// setting. Expired overrides are kept but ignored.
type Override struct {
	UserID    int64        `json:"user_id"`
	Mode      OverrideMode `json:"mode"`
	ExpiresAt time.Time    `json:"expires_at"`
	Reason    string       `json:"reason,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ActiveAt reports whether the override still applies at now.
// An override is expired once now >= ExpiresAt.
func (o Override) ActiveAt(now time.Time) bool {
	return now.Before(o.ExpiresAt)
}

// GlobalSetting is the singleton notification switch.
type GlobalSetting struct {
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueStatus is the delivery state of a queue item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueSending    QueueStatus = "SENDING"
	QueueSent       QueueStatus = "SENT"
	QueueFailed     QueueStatus = "FAILED"
	QueueDeadLetter QueueStatus = "DEAD_LETTER"
)

// AllQueueStatuses lists every status in lifecycle order.
var AllQueueStatuses = []QueueStatus{QueuePending, QueueSending, QueueSent, QueueFailed, QueueDeadLetter}

// Claimable reports whether a worker may claim an item in this status.
func (s QueueStatus) Claimable() bool {
	return s == QueuePending || s == QueueFailed
}

// QueueItem is one notification for one (user, ad) pair. The pair is unique
// for the lifetime of the queue.
type QueueItem struct {
	ID           int64       `json:"id"`
	UserID       int64       `json:"user_id"`
	AdID         int64       `json:"ad_id"`
	Status       QueueStatus `json:"status"`
	RetryCount   int         `json:"retry_count"`
	ErrorMessage string      `json:"error_message,omitempty"`
	SentAt       *time.Time  `json:"sent_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// DispatchResult aggregates the outcome of one dispatch batch.
type DispatchResult struct {
	TotalRecipients int `json:"total_recipients"`
	SuccessCount    int `json:"success_count"`
	FailedCount     int `json:"failed_count"`
}

// Add accumulates other into r.
func (r *DispatchResult) Add(other DispatchResult) {
	r.TotalRecipients += other.TotalRecipients
	r.SuccessCount += other.SuccessCount
	r.FailedCount += other.FailedCount
}

// PublishResult is returned by the on-publish trigger.
type PublishResult struct {
	AdID        int64 `json:"ad_id"`
	Subscribers int   `json:"subscribers"`
	Matched     int   `json:"matched"`
	Enqueued    int   `json:"enqueued"`
	// Replayed is set when the publish guard recognised a duplicate event
	// and the run was skipped.
	Replayed bool `json:"replayed,omitempty"`
	DispatchResult
}

// SweepResult is returned by the retry sweep. Count is the number of items
// moved out of FAILED. Orphaned counts PENDING items adopted from runs that
// stopped between enqueue and claim.
type SweepResult struct {
	Count     int `json:"count"`
	Reclaimed int `json:"reclaimed"`
	Orphaned  int `json:"orphaned"`
	DispatchResult
}

// QueueStats counts queue items per status.
type QueueStats map[QueueStatus]int
