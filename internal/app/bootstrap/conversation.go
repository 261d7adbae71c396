package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/hospital-intake-chat/internal/config"
	"github.com/wolfman30/hospital-intake-chat/internal/conversation"
	"github.com/wolfman30/hospital-intake-chat/internal/observability/metrics"
	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

// Runtime holds the wired turn service and the clients it owns.
type Runtime struct {
	Service *conversation.TurnService
	Store   *conversation.SessionStore
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *metrics.IntakeMetrics

	llm *conversation.GeminiLLMClient
}

// BuildRuntime wires the turn service from config. Missing secrets are not
// an error here: the service reports them on every turn.
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, reg prometheus.Registerer, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rt := &Runtime{Metrics: metrics.NewIntakeMetrics(reg)}
	secrets := cfg.Secrets()
	if missing := secrets.Missing(); len(missing) > 0 {
		logger.Error("CRITICAL: one or more environment variables are missing", "missing", strings.Join(missing, ","))
	}

	svcCfg := conversation.TurnServiceConfig{
		Secrets:         secrets,
		Metrics:         rt.Metrics,
		Logger:          logger,
		Temperature:     float32(cfg.GeminiTemperature),
		MaxOutputTokens: int32(cfg.GeminiMaxOutputTokens),
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		llm, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, err
		}
		rt.llm = llm
		svcCfg.LLM = llm
		logger.Info("gemini client configured", "model", cfg.GeminiModelID)
	}

	pool, err := BuildStorePool(ctx, cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if pool != nil {
		rt.Pool = pool
		rt.Store = conversation.NewSessionStore(pool)
		svcCfg.Store = rt.Store
	}

	if client := BuildRedisClient(ctx, cfg, logger, true); client != nil {
		rt.Redis = client
		svcCfg.Lock = conversation.NewTurnLock(client, cfg.TurnLockTTL)
		logger.Info("duplicate-turn lock enabled", "ttl", cfg.TurnLockTTL.String())
	}

	rt.Service = conversation.NewTurnService(svcCfg)
	return rt, nil
}

// Close releases every client the runtime opened.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.llm != nil {
		_ = rt.llm.Close()
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
