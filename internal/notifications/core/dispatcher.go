package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"adalerts/internal/types"
)

const (
	defaultDispatchConcurrency = 8
	defaultSendTimeout         = 10 * time.Second
	recordTimeout              = 5 * time.Second
)

// DispatcherConfig bounds outbound work against the sender.
type DispatcherConfig struct {
	Concurrency int
	SendTimeout time.Duration
}

// Dispatcher drives claimed queue items through the Sender. One item's
// failure, timeout or panic never aborts the rest of the batch.
type Dispatcher struct {
	queue   QueueManager
	sender  Sender
	metrics DispatchMetrics
	clock   types.Clock
	logger  types.Logger
	cfg     DispatcherConfig
}

// NewDispatcher creates a Dispatcher. Zero config values fall back to defaults.
func NewDispatcher(queue QueueManager, sender Sender, metrics DispatchMetrics, clock types.Clock, logger types.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultDispatchConcurrency
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if metrics == nil {
		metrics = NoopDispatchMetrics{}
	}
	return &Dispatcher{
		queue:   queue,
		sender:  sender,
		metrics: metrics,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
	}
}

// Dispatch delivers items, which must already be claimed (SENDING).
//
// If ctx is cancelled mid-batch, items not yet sent are left in SENDING for
// a later sweep to reclaim; they count towards TotalRecipients but neither
// success nor failure.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger TriggerKind, items []types.QueueItem) types.DispatchResult {
	result := types.DispatchResult{TotalRecipients: len(items)}
	if len(items) == 0 {
		return result
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)

	for _, item := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				d.logger.Warn("dispatch cancelled, item left for reclaim",
					"item_id", item.ID,
					"error", ctx.Err().Error(),
				)
				return nil
			}

			sent := d.deliver(ctx, trigger, item)

			mu.Lock()
			if sent {
				result.SuccessCount++
			} else {
				result.FailedCount++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("dispatch batch complete",
		"trigger", string(trigger),
		"total", result.TotalRecipients,
		"success", result.SuccessCount,
		"failed", result.FailedCount,
	)

	return result
}

// deliver sends one item and records the outcome. Returns true on a
// successful send.
func (d *Dispatcher) deliver(ctx context.Context, trigger TriggerKind, item types.QueueItem) bool {
	start := d.clock.Now()
	sendErr := d.send(ctx, item)

	// State and metrics are recorded even if the run context was cancelled
	// after the send.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	d.metrics.RecordSendLatency(recCtx, d.clock.Now().Sub(start))

	if sendErr == nil {
		if err := d.queue.MarkSent(recCtx, item); err != nil {
			d.logger.Error("failed to record sent item",
				"item_id", item.ID,
				"error", err.Error(),
			)
		}
		d.metrics.RecordOutcome(recCtx, trigger, MetricSent)
		return true
	}

	d.logger.Warn("send failed",
		"item_id", item.ID,
		"user_id", item.UserID,
		"ad_id", item.AdID,
		"error", sendErr.Error(),
	)

	status, err := d.queue.MarkFailed(recCtx, item, sendErr)
	if err != nil {
		d.logger.Error("failed to record failed item",
			"item_id", item.ID,
			"error", err.Error(),
		)
	}

	if status == types.QueueDeadLetter {
		d.metrics.RecordOutcome(recCtx, trigger, MetricDeadLetter)
	} else {
		d.metrics.RecordOutcome(recCtx, trigger, MetricFailed)
	}
	return false
}

// send invokes the sender under the per-send timeout, converting a panic
// into an error.
func (d *Dispatcher) send(ctx context.Context, item types.QueueItem) (err error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("sender panic: %v", r), nil)
		}
	}()

	return d.sender.Send(sendCtx, item.UserID, item.AdID)
}
