package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/cache/memory"
	"github.com/aussiebroadwan/tokend/pkg/cache/redis"
	"github.com/aussiebroadwan/tokend/pkg/cache/sqlite"
	"github.com/aussiebroadwan/tokend/pkg/clockx"
)

// localTradeoff is logged whenever the in-process backend ends up in use.
const localTradeoff = "token state is held in process memory: sessions and revocations are lost on restart and not shared between instances"

// OpenBackend applies the selection policy. Redis is used when asked for (or,
// under auto, when REDIS_ADDR is set) and it answers PING at startup;
// otherwise the in-process backend is used. sqlite is only ever chosen
// explicitly. The returned name is the backend actually in use.
func OpenBackend(ctx context.Context, cfg Config, clock clockx.Clock, logger *slog.Logger) (cache.Backend, string, error) {
	switch cfg.CacheBackend {
	case BackendMemory:
		logger.Warn("cache backend: memory", "tradeoff", localTradeoff)
		return memory.New(clock), BackendMemory, nil

	case BackendSQLite:
		b, err := sqlite.New(sqlite.FileDSN(cfg.SQLiteFile), clock)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite cache %q: %w", cfg.SQLiteFile, err)
		}
		logger.Info("cache backend: sqlite", "file", cfg.SQLiteFile)
		return b, BackendSQLite, nil

	case BackendRedis, BackendAuto:
		if cfg.RedisAddr == "" {
			if cfg.CacheBackend == BackendRedis {
				logger.Warn("cache backend redis requested without REDIS_ADDR, falling back to memory", "tradeoff", localTradeoff)
			} else {
				logger.Warn("cache backend: memory (no REDIS_ADDR)", "tradeoff", localTradeoff)
			}
			return memory.New(clock), BackendMemory, nil
		}

		pingCtx, cancel := context.WithTimeout(ctx, cfg.RedisDialTimeout+time.Second)
		defer cancel()
		b, err := redis.New(pingCtx, redis.Config{
			Addr:         cfg.RedisAddr,
			Username:     cfg.RedisUsername,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			Namespace:    cfg.CacheNamespace,
			DialTimeout:  cfg.RedisDialTimeout,
			ReadTimeout:  cfg.RedisReadTimeout,
			WriteTimeout: cfg.RedisWriteTimeout,
		})
		if err != nil {
			logger.Warn("redis unreachable at startup, falling back to memory",
				"addr", cfg.RedisAddr,
				"error", err,
				"tradeoff", localTradeoff,
			)
			return memory.New(clock), BackendMemory, nil
		}
		logger.Info("cache backend: redis", "addr", cfg.RedisAddr, "namespace", cfg.CacheNamespace)
		return b, BackendRedis, nil

	default:
		return nil, "", fmt.Errorf("unknown CACHE_BACKEND %q (want auto, memory, redis or sqlite)", cfg.CacheBackend)
	}
}
