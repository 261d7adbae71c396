package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const turnLockKeyPrefix = "intake:turn_lock:"

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TurnLock rejects a second in-flight turn for the same session. A nil
// *TurnLock never blocks.
type TurnLock struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewTurnLock returns nil when redisClient is nil.
func NewTurnLock(redisClient *redis.Client, ttl time.Duration) *TurnLock {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TurnLock{
		redis:  redisClient,
		ttl:    ttl,
		tracer: otel.Tracer("intake.internal.conversation.turn_lock"),
	}
}

// Acquire takes the session's lock or returns ErrTurnInProgress. The returned
// release func is always safe to call.
func (l *TurnLock) Acquire(ctx context.Context, sessionID string) (func(), error) {
	if l == nil || l.redis == nil {
		return func() {}, nil
	}
	ctx, span := l.tracer.Start(ctx, "conversation.turn_lock.acquire")
	defer span.End()

	key := turnLockKey(sessionID)
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return func() {}, fmt.Errorf("conversation: acquire turn lock: %w", err)
	}
	if !ok {
		return func() {}, ErrTurnInProgress
	}
	return func() {
		// The request context may already be cancelled; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.redis, []string{key}, token).Err()
	}, nil
}

func turnLockKey(sessionID string) string {
	return turnLockKeyPrefix + sessionID
}
