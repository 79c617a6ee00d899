// Package main is the entrypoint for the Publish Worker Lambda function.
//
// The worker consumes AdPublishedMessage events from the ad-published SQS
// queue and runs the on-publish trigger for each ad: match subscribers,
// enqueue the matched set and dispatch the new queue items.
//
// Handler flow per SQS record:
//  1. Unmarshal the message. Malformed bodies are acknowledged and dropped.
//  2. Record publish lag.
//  3. Run Engine.OnPublish.
//  4. Report the record as a batch item failure when the run failed with a
//     transient error so SQS redelivers only that record. Redelivery is safe:
//     enqueue is idempotent per (user, ad).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"adalerts/internal/bootstrap"
	"adalerts/internal/config"
	"adalerts/internal/types"
)

// PublishTrigger runs the on-publish match and dispatch.
type PublishTrigger interface {
	OnPublish(ctx context.Context, adID int64) (types.PublishResult, error)
}

// LagRecorder records the delay between publish and processing.
type LagRecorder interface {
	RecordPublishLag(ctx context.Context, lag time.Duration)
}

// Handler holds the dependencies for the publish worker Lambda handler.
type Handler struct {
	Trigger PublishTrigger
	Metrics LagRecorder
	Clock   types.Clock
	Logger  types.Logger
}

// Handle processes an SQS event. Records are processed sequentially; each
// one already fans out internally.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.Logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.AdPublishedMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.Logger.Error("failed to unmarshal publish message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		// Permanent parse failure; retrying cannot help.
		return nil
	}
	if msg.AdID <= 0 {
		h.Logger.Error("publish message without ad id", "message_id", record.MessageId)
		return nil
	}

	logger := h.Logger.With(
		"ad_id", msg.AdID,
		"message_id", record.MessageId,
		"trace_id", msg.TraceID,
	)

	if lag, ok := h.publishLag(msg, record); ok {
		h.Metrics.RecordPublishLag(ctx, lag)
	}

	if msg.TraceID != "" {
		ctx = types.WithRequestID(ctx, msg.TraceID)
	}

	result, err := h.Trigger.OnPublish(ctx, msg.AdID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundListing {
			// The ad was removed or deactivated before we got to it.
			logger.Warn("listing no longer active, dropping event", "error", err.Error())
			return nil
		}
		return fmt.Errorf("on publish for ad %d: %w", msg.AdID, err)
	}

	logger.Info("publish event processed",
		"matched", result.Matched,
		"enqueued", result.Enqueued,
		"success", result.SuccessCount,
		"failed", result.FailedCount,
		"replayed", result.Replayed,
	)
	return nil
}

// publishLag prefers the producer timestamp and falls back to the SQS
// SentTimestamp attribute.
func (h *Handler) publishLag(msg types.AdPublishedMessage, record events.SQSMessage) (time.Duration, bool) {
	now := h.Clock.Now()
	if !msg.PublishedAt.IsZero() {
		return now.Sub(msg.PublishedAt), true
	}
	if sent, ok := record.Attributes["SentTimestamp"]; ok {
		if ts, err := parseMillisTimestamp(sent); err == nil {
			return now.Sub(ts), true
		}
	}
	return 0, false
}

// parseMillisTimestamp parses a Unix epoch milliseconds string.
func parseMillisTimestamp(s string) (time.Time, error) {
	millis, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis).UTC(), nil
}

func main() {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := bootstrap.NewLogger(cfg.LogLevel)
	logger.Info("Publish Worker Lambda initializing (cold start)")

	rt, err := bootstrap.New(context.Background(), cfg, logger, bootstrap.Options{})
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	handler := &Handler{
		Trigger: rt.Engine,
		Metrics: rt.Metrics,
		Clock:   rt.Clock,
		Logger:  bootstrap.NewSlogAdapter(logger),
	}

	logger.Info("Publish Worker Lambda initialized",
		"sender", cfg.Sender.Kind,
		"metrics_backend", cfg.Observability.MetricsBackend,
		"publish_guard", rt.Guard != nil,
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{\"ad_id\":42}"}]}' | go run ./cmd/publish-worker
	if cfg.Environment == "local" {
		if err := runLocal(context.Background(), handler, os.Stdin); err != nil {
			logger.Error("local run failed", "error", err)
			rt.Close()
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

func runLocal(ctx context.Context, handler *Handler, r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		return fmt.Errorf("parsing stdin as SQS event: %w", err)
	}
	response, err := handler.Handle(ctx, sqsEvent)
	if err != nil {
		return err
	}
	if len(response.BatchItemFailures) > 0 {
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(os.Stderr, string(respJSON))
		return fmt.Errorf("%d of %d records failed", len(response.BatchItemFailures), len(sqsEvent.Records))
	}
	return nil
}
