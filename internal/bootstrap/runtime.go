package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"adalerts/internal/cache"
	"adalerts/internal/config"
	"adalerts/internal/db"
	"adalerts/internal/external"
	notify "adalerts/internal/notifications/core"
	"adalerts/internal/types"
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsCloudWatch = "cloudwatch"
	MetricsNone       = "none"
)

// Options tunes New.
type Options struct {
	// Registerer receives the dispatch collectors when the prometheus
	// backend is selected. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// Clock defaults to types.RealClock.
	Clock types.Clock
}

// Runtime holds the long-lived dependencies of a binary. Close releases
// them.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  types.Clock

	Pool  *pgxpool.Pool
	Redis *redis.Client // nil when REDIS_ADDR is empty
	AWS   aws.Config

	Subscriptions *db.SubscriptionRepository
	Policy        *db.PolicyRepository
	Listings      *db.ListingRepository
	JobLocks      *db.JobLockRepository
	JobHistory    *db.JobHistoryRepository

	Queue   *notify.QueueManagerImpl
	Guard   *cache.PublishGuard // nil when Redis is disabled
	Metrics notify.DispatchMetrics
	Engine  *notify.Engine

	// Events publishes to the ad-published queue. nil when
	// SQS_AD_PUBLISHED is not configured.
	Events *notify.EventPublisher
}

// New connects to Postgres (and Redis when configured), then assembles the
// engine. On error every connection opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *Runtime, err error) {
	clock := opts.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	rt := &Runtime{Config: cfg, Logger: logger, Clock: clock}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.AWS, err = loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	rt.Pool, err = OpenPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		rt.Redis = cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		rt.Guard = cache.NewPublishGuard(rt.Redis, cfg.Redis.GuardScope, cfg.Redis.GuardTTL)
		logger.Info("publish guard enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.GuardTTL)
	}

	typed := NewSlogAdapter(logger)

	rt.Metrics, err = newDispatchMetrics(cfg.Observability, rt.AWS, opts.Registerer, typed)
	if err != nil {
		return nil, err
	}

	rt.Subscriptions = db.NewSubscriptionRepository(rt.Pool, typed)
	rt.Policy = db.NewPolicyRepository(rt.Pool)
	rt.Listings = db.NewListingRepository(rt.Pool)
	rt.JobLocks = db.NewJobLockRepository(rt.Pool)
	rt.JobHistory = db.NewJobHistoryRepository(rt.Pool)
	recipients := db.NewRecipientRepository(rt.Pool)

	sender, err := external.NewSender(cfg.Sender, recipients, logger)
	if err != nil {
		return nil, fmt.Errorf("building sender: %w", err)
	}

	rt.Queue = notify.NewQueueManager(db.NewQueueRepository(rt.Pool), RetryPolicy(cfg.Engine), clock, typed)
	dispatcher := notify.NewDispatcher(rt.Queue, sender, rt.Metrics, clock, typed, notify.DispatcherConfig{
		Concurrency: cfg.Engine.Concurrency,
		SendTimeout: cfg.Engine.SendTimeout,
	})

	deps := notify.EngineDeps{
		Listings:      rt.Listings,
		Subscriptions: rt.Subscriptions,
		Policy:        rt.Policy,
		Queue:         rt.Queue,
		Dispatcher:    dispatcher,
		Metrics:       rt.Metrics,
		Clock:         clock,
		Logger:        typed,
	}
	if rt.Guard != nil {
		deps.Guard = rt.Guard
	}
	rt.Engine = notify.NewEngine(deps, notify.EngineConfig{
		MatchConcurrency:  cfg.Engine.MatchConcurrency,
		SweepBatchSize:    cfg.Engine.SweepBatchSize,
		StaleSendingAfter: cfg.Engine.StaleSendingAfter,
	})

	if cfg.AWS.PublishQueueURL != "" {
		rt.Events = notify.NewEventPublisher(sqs.NewFromConfig(rt.AWS), cfg.AWS.PublishQueueURL, clock, typed)
	}

	return rt, nil
}

// Close releases the pool and the Redis client.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil && rt.Logger != nil {
			rt.Logger.Warn("closing redis client", "error", err)
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}

// RetryPolicy converts the engine config into the queue retry policy.
func RetryPolicy(cfg config.EngineConfig) notify.RetryPolicy {
	p := notify.DefaultRetryPolicy
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.BackoffFactor >= 1 {
		p.BackoffFactor = cfg.BackoffFactor
	}
	return p
}

// OpenPool creates a pgx pool from cfg and pings it within AcquireTimeout.
func OpenPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pc.MaxConns = int32(cfg.MaxConns)
	pc.MinConns = int32(cfg.MinConns)
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx := ctx
	if cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.AcquireTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config (region=%s): %w", cfg.Region, err)
	}
	// LocalStack serves every service from one endpoint.
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

func newDispatchMetrics(cfg config.ObservabilityConfig, awsCfg aws.Config, reg prometheus.Registerer, logger types.Logger) (notify.DispatchMetrics, error) {
	switch cfg.MetricsBackend {
	case MetricsPrometheus, "":
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		return notify.NewPrometheusDispatchMetrics(reg), nil
	case MetricsCloudWatch:
		return notify.NewCloudWatchDispatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.MetricNamespace, logger), nil
	case MetricsNone:
		return notify.NoopDispatchMetrics{}, nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.MetricsBackend)
	}
}
