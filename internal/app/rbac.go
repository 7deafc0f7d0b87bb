package app

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/fieldops/fieldops/internal/rbac"
)

// RBACComponents groups the permission engine and the pieces callers wire separately.
type RBACComponents struct {
	Service *rbac.Service
	Catalog *rbac.Catalog
	Bus     *rbac.InvalidationBus
	Store   rbac.Store
}

// NewRBAC builds the permission engine with the cache backend selected by cfg.
// The returned bus is not listening yet.
func NewRBAC(cfg *Config, store rbac.Store, redisClient *redis.Client, registerer prometheus.Registerer, logger *slog.Logger) (*RBACComponents, error) {
	catalog, err := rbac.LoadCatalog(cfg.RBACCatalogPath)
	if err != nil {
		return nil, err
	}
	var cache rbac.Cache
	switch cfg.RBACCacheBackend {
	case CacheBackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("rbac: %s cache backend requires a redis client", CacheBackendRedis)
		}
		cache = rbac.NewRedisCache(redisClient, cfg.RBACCacheTTL, logger)
	default:
		mem, err := rbac.NewMemoryCache(cfg.RBACCacheTTL, cfg.RBACCacheSize)
		if err != nil {
			return nil, fmt.Errorf("rbac: memory cache: %w", err)
		}
		cache = mem
	}
	var bus *rbac.InvalidationBus
	if redisClient != nil {
		bus = rbac.NewInvalidationBus(redisClient, cfg.RBACInvalidationChannel, logger)
	}
	svcCfg := rbac.ServiceConfig{
		Cache:     cache,
		Catalog:   catalog,
		Logger:    logger,
		Metrics:   rbac.NewMetrics(registerer),
		SuperRole: cfg.RBACSuperRole,
	}
	if bus != nil {
		svcCfg.Notifier = bus
	}
	logger.Info("rbac engine configured",
		slog.String("cache_backend", cfg.RBACCacheBackend),
		slog.Duration("cache_ttl", cfg.RBACCacheTTL),
		slog.Int("catalog_pairs", len(catalog.Pairs())),
		slog.String("super_role", cfg.RBACSuperRole))
	return &RBACComponents{
		Service: rbac.NewService(store, svcCfg),
		Catalog: catalog,
		Bus:     bus,
		Store:   store,
	}, nil
}

// Middleware returns guards bound to the engine and its catalog.
func (c *RBACComponents) Middleware(logger *slog.Logger) rbac.Middleware {
	return rbac.Middleware{Service: c.Service, Logger: logger, Catalog: c.Catalog}
}
