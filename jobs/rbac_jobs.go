package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fieldops/fieldops/internal/jobs"
	"github.com/fieldops/fieldops/internal/rbac"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PermissionEngine is the subset of rbac.Service driven by background jobs.
type PermissionEngine interface {
	SyncCatalog(ctx context.Context) (rbac.SyncReport, error)
	InvalidateUser(ctx context.Context, userID int64) error
	ClearCache(ctx context.Context) error
}

// CatalogSyncJob persists catalog pairs on a schedule.
type CatalogSyncJob struct {
	Engine  PermissionEngine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCatalogSyncJob wires dependencies for the catalog sync handler.
func NewCatalogSyncJob(engine PermissionEngine, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogSyncJob {
	return &CatalogSyncJob{Engine: engine, Logger: logger, Metrics: metrics}
}

// Handle processes catalog sync tasks.
func (j *CatalogSyncJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Engine == nil {
		return errors.New("catalog sync: handler not configured")
	}
	var payload CatalogSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskRBACCatalogSync)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskRBACCatalogSync).With(slog.String("reason", payload.Reason))
	start := time.Now()
	report, err := j.Engine.SyncCatalog(ctx)
	if err != nil {
		logger.Error("catalog sync", slog.Any("error", err))
		return err
	}
	metricsOrDefault(j.Metrics).AddProcessed(TaskRBACCatalogSync, report.Created)
	logger.Info("completed catalog sync",
		slog.Int("registered", report.Registered),
		slog.Int("created", report.Created),
		slog.Bool("super_role_found", report.SuperRoleFound),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// CacheFlushJob invalidates cached permissions and broadcasts the invalidation to peers.
type CacheFlushJob struct {
	Engine  PermissionEngine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheFlushJob wires dependencies for the cache flush handler.
func NewCacheFlushJob(engine PermissionEngine, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheFlushJob {
	return &CacheFlushJob{Engine: engine, Logger: logger, Metrics: metrics}
}

// Handle processes cache flush tasks.
func (j *CacheFlushJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Engine == nil {
		return errors.New("cache flush: handler not configured")
	}
	var payload CacheFlushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UserID < 0 {
		return asynq.SkipRetry
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskRBACCacheFlush)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskRBACCacheFlush).With(slog.String("reason", payload.Reason))
	if payload.UserID > 0 {
		if err := j.Engine.InvalidateUser(ctx, payload.UserID); err != nil {
			logger.Error("invalidate user", slog.Int64("user_id", payload.UserID), slog.Any("error", err))
			return err
		}
		logger.Info("invalidated user permissions", slog.Int64("user_id", payload.UserID))
		metricsOrDefault(j.Metrics).AddProcessed(TaskRBACCacheFlush, 1)
		return nil
	}
	if err := j.Engine.ClearCache(ctx); err != nil {
		logger.Error("clear permission cache", slog.Any("error", err))
		return err
	}
	logger.Info("cleared permission cache")
	metricsOrDefault(j.Metrics).AddProcessed(TaskRBACCacheFlush, 1)
	return nil
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger != nil {
		return logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
