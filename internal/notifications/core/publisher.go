package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"adalerts/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventPublisher publishes ad-published events to the SQS queue consumed by
// the publish worker.
type EventPublisher struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   types.Logger
}

// NewEventPublisher creates an EventPublisher targeting queueURL.
func NewEventPublisher(client SQSSender, queueURL string, clock types.Clock, logger types.Logger) *EventPublisher {
	return &EventPublisher{
		client:   client,
		queueURL: queueURL,
		clock:    clock,
		logger:   logger,
	}
}

// PublishAdPublished enqueues an event for adID. A trace ID is generated when
// the context carries no request ID. Returns the trace ID used.
func (p *EventPublisher) PublishAdPublished(ctx context.Context, adID int64) (string, error) {
	traceID := types.GetRequestID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
	}

	msg := types.AdPublishedMessage{
		AdID:        adID,
		PublishedAt: p.clock.Now(),
		TraceID:     traceID,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("event publisher: failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to send message to %s", p.queueURL), err)
	}

	p.logger.Info("ad published event sent",
		"ad_id", adID,
		"trace_id", traceID,
	)

	return traceID, nil
}
