package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/hospital-intake-chat/internal/config"
	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; duplicate-turn lock disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// StorePoolConfig parses STORE_URL and applies STORE_SERVICE_KEY as the
// connection password.
func StorePoolConfig(cfg *appconfig.Config) (*pgxpool.Config, error) {
	if cfg == nil || strings.TrimSpace(cfg.StoreURL) == "" {
		return nil, fmt.Errorf("bootstrap: store url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse store url: %w", err)
	}
	if key := strings.TrimSpace(cfg.StoreServiceKey); key != "" {
		poolCfg.ConnConfig.Password = key
	}
	if poolCfg.MaxConns < 4 {
		poolCfg.MaxConns = 4
	}
	return poolCfg, nil
}

// BuildStorePool opens the Postgres pool. It returns nil without error when
// the store secrets are unset so the server can still start and report the
// configuration error per turn.
func BuildStorePool(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || strings.TrimSpace(cfg.StoreURL) == "" || strings.TrimSpace(cfg.StoreServiceKey) == "" {
		logger.Warn("row store not configured")
		return nil, nil
	}
	poolCfg, err := StorePoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open store pool: %w", err)
	}
	return pool, nil
}
