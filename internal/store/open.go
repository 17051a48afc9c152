package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type OpenConfig struct {
	Backend     string
	RedisURL    string
	DatabaseURL string
	Options     Options
}

// Open builds the configured conversation store and checks connectivity.
func Open(ctx context.Context, cfg OpenConfig, logger *zap.Logger) (relay.Store, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch cfg.Backend {
	case BackendMemory:
		logger.Info("using in-memory store")
		return NewMemory(cfg.Options), nil

	case BackendRedis, "":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("using redis store", zap.String("addr", opt.Addr), zap.Int("db", opt.DB))
		return NewRedis(client, DefaultRedisPrefix, cfg.Options, logger), nil

	case BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		pg := NewPostgres(db, cfg.Options)
		if err := pg.Migrate(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		logger.Info("using postgres store")
		return pg, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
