// Package main is the entrypoint for the Retry Sweeper Lambda function.
//
// EventBridge rules invoke it with a scheduler.MaintenancePayload naming the
// task: retry_sweep (every few minutes), reclaim_stale and purge_job_locks.
// The scheduler.Multiplexer takes the slot lock, records job history and
// calls the notification engine.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"adalerts/internal/bootstrap"
	"adalerts/internal/config"
	"adalerts/internal/scheduler"
)

func main() {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := bootstrap.NewLogger(cfg.LogLevel)
	logger.Info("Retry Sweeper Lambda initializing (cold start)")

	rt, err := bootstrap.New(context.Background(), cfg, logger, bootstrap.Options{})
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	// Unique per Lambda instance; recorded as the lock owner.
	workerID := uuid.NewString()
	mux := newMultiplexer(cfg, rt, workerID)

	logger.Info("Retry Sweeper Lambda initialized", "worker_id", workerID)

	// Local mode: read one MaintenancePayload from stdin.
	// Usage: echo '{"task":"retry_sweep"}' | go run ./cmd/retry-sweeper
	if cfg.Environment == "local" {
		out, err := runLocal(context.Background(), mux, os.Stdin)
		if err != nil {
			logger.Error("local run failed", "error", err)
			rt.Close()
			os.Exit(1)
		}
		fmt.Println(out)
		return
	}

	lambda.Start(mux.Handle)
}

// newMultiplexer wires the engine and the job lock/history repositories.
func newMultiplexer(cfg *config.Config, rt *bootstrap.Runtime, workerID string) *scheduler.Multiplexer {
	return &scheduler.Multiplexer{
		Engine:     rt.Engine,
		JobLock:    rt.JobLocks,
		JobHistory: rt.JobHistory,
		WorkerID:   workerID,
		LockTTL:    cfg.Engine.JobLockTTL,
		Clock:      rt.Clock,
		Logger:     rt.Logger,
	}
}

// maintenanceHandler is satisfied by *scheduler.Multiplexer.
type maintenanceHandler interface {
	Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error)
}

func runLocal(ctx context.Context, h maintenanceHandler, r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	var payload scheduler.MaintenancePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("parsing maintenance payload: %w", err)
	}
	return h.Handle(ctx, payload)
}
