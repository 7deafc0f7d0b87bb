package jobs

import (
	"encoding/json"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRBACCatalogSync persists the permission catalog and refreshes the break-glass role.
	TaskRBACCatalogSync = "rbac:catalog-sync"
	// TaskRBACCacheFlush drops cached permission sets for one user or the whole fleet.
	TaskRBACCacheFlush = "rbac:cache-flush"
)

// CatalogSyncPayload configures a catalog sync run.
type CatalogSyncPayload struct {
	Reason string `json:"reason"`
}

// CacheFlushPayload configures a cache flush; zero UserID flushes every user.
type CacheFlushPayload struct {
	UserID int64  `json:"user_id,omitempty"`
	Reason string `json:"reason"`
}

// NewCatalogSyncTask constructs a catalog sync task.
func NewCatalogSyncTask(reason string) (*asynq.Task, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "scheduled"
	}
	data, err := json.Marshal(CatalogSyncPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRBACCatalogSync, data), nil
}

// NewCacheFlushTask constructs a cache flush task.
func NewCacheFlushTask(userID int64, reason string) (*asynq.Task, error) {
	data, err := json.Marshal(CacheFlushPayload{UserID: userID, Reason: strings.TrimSpace(reason)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRBACCacheFlush, data), nil
}
