package types

import "time"

// AdPublishedMessage is the SQS body emitted by the ad-approval workflow once
// a listing becomes active. JSON tags use snake_case to match the producer.
type AdPublishedMessage struct {
	AdID        int64     `json:"ad_id"`
	PublishedAt time.Time `json:"published_at"`

	// TraceID correlates worker logs with the producer request.
	TraceID string `json:"trace_id,omitempty"`
}
