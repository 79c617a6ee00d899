package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"

	"adalerts/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchDispatchMetrics implements DispatchMetrics.
var _ DispatchMetrics = (*CloudWatchDispatchMetrics)(nil)

// CloudWatchDispatchMetrics emits engine metrics to AWS CloudWatch. Used by
// the Lambda workers, which have no scrape endpoint.
//
// Metrics emitted:
//   - DispatchOutcome: Dims {Trigger, Result}
//   - SendLatency: no dims, milliseconds
//   - MatchedUsers, SweepReclaimed: counts
//   - PublishLag: time between the publish event and processing start
type CloudWatchDispatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchDispatchMetrics creates CloudWatch-backed metrics. An empty
// namespace falls back to types.MetricNamespace.
func NewCloudWatchDispatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchDispatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchDispatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordOutcome emits a DispatchOutcome count with Trigger and Result dimensions.
func (m *CloudWatchDispatchMetrics) RecordOutcome(ctx context.Context, trigger TriggerKind, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDispatchOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimTrigger), Value: aws.String(string(trigger))},
			{Name: aws.String(types.DimResult), Value: aws.String(string(result))},
		},
	})
}

// RecordSendLatency emits the duration of one Sender call in milliseconds.
func (m *CloudWatchDispatchMetrics) RecordSendLatency(ctx context.Context, duration time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricSendLatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

// RecordMatched emits the number of users matched by one publish run.
func (m *CloudWatchDispatchMetrics) RecordMatched(ctx context.Context, matched int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricMatchedUsers),
		Value:      aws.Float64(float64(matched)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordReclaimed emits the number of stale SENDING items reclaimed.
func (m *CloudWatchDispatchMetrics) RecordReclaimed(ctx context.Context, reclaimed int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricSweepReclaimed),
		Value:      aws.Float64(float64(reclaimed)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordPublishLag emits the delay between the publish event and processing.
func (m *CloudWatchDispatchMetrics) RecordPublishLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricPublishLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

func (m *CloudWatchDispatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric",
			"error", err.Error(),
			"metric", aws.ToString(datum.MetricName),
		)
	}
}

// Compile-time assertion that PrometheusDispatchMetrics implements DispatchMetrics.
var _ DispatchMetrics = (*PrometheusDispatchMetrics)(nil)

// PrometheusDispatchMetrics records engine metrics as Prometheus collectors.
// Used by the API process, which exposes /metrics.
type PrometheusDispatchMetrics struct {
	outcomes    *prometheus.CounterVec
	sendLatency prometheus.Histogram
	matched     prometheus.Histogram
	reclaimed   prometheus.Counter
	publishLag  prometheus.Histogram
}

// NewPrometheusDispatchMetrics creates the collectors and registers them
// with registerer.
func NewPrometheusDispatchMetrics(registerer prometheus.Registerer) *PrometheusDispatchMetrics {
	m := &PrometheusDispatchMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adalerts_dispatch_outcomes_total",
			Help: "Queue item delivery outcomes by trigger and result.",
		}, []string{"trigger", "result"}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "adalerts_send_duration_seconds",
			Help:    "Duration of a single sender call.",
			Buckets: prometheus.DefBuckets,
		}),
		matched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "adalerts_matched_users",
			Help:    "Users matched per publish run.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adalerts_stale_reclaimed_total",
			Help: "Queue items reclaimed from an abandoned SENDING state.",
		}),
		publishLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "adalerts_publish_lag_seconds",
			Help:    "Delay between an ad publish event and its processing.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registerer.MustRegister(m.outcomes, m.sendLatency, m.matched, m.reclaimed, m.publishLag)
	return m
}

// RecordOutcome increments the outcome counter.
func (m *PrometheusDispatchMetrics) RecordOutcome(_ context.Context, trigger TriggerKind, result MetricResult) {
	m.outcomes.WithLabelValues(string(trigger), string(result)).Inc()
}

// RecordSendLatency observes one sender call.
func (m *PrometheusDispatchMetrics) RecordSendLatency(_ context.Context, duration time.Duration) {
	m.sendLatency.Observe(duration.Seconds())
}

// RecordMatched observes the matched user count of a publish run.
func (m *PrometheusDispatchMetrics) RecordMatched(_ context.Context, matched int) {
	m.matched.Observe(float64(matched))
}

// RecordReclaimed adds reclaimed items to the counter.
func (m *PrometheusDispatchMetrics) RecordReclaimed(_ context.Context, reclaimed int) {
	m.reclaimed.Add(float64(reclaimed))
}

// RecordPublishLag observes the publish-to-processing delay.
func (m *PrometheusDispatchMetrics) RecordPublishLag(_ context.Context, lag time.Duration) {
	m.publishLag.Observe(lag.Seconds())
}

// NoopDispatchMetrics discards all metrics.
type NoopDispatchMetrics struct{}

func (NoopDispatchMetrics) RecordOutcome(context.Context, TriggerKind, MetricResult) {}
func (NoopDispatchMetrics) RecordSendLatency(context.Context, time.Duration)         {}
func (NoopDispatchMetrics) RecordMatched(context.Context, int)                       {}
func (NoopDispatchMetrics) RecordReclaimed(context.Context, int)                     {}
func (NoopDispatchMetrics) RecordPublishLag(context.Context, time.Duration)          {}
