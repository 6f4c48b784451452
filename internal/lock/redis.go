package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// lockKeyPrefix はロックキーのプレフィックス。lock:credential:<id>
	lockKeyPrefix = "lock:credential:"
	// retryInterval はロック取得リトライの間隔。
	retryInterval = 50 * time.Millisecond
)

// releaseScript はトークンが一致する場合のみロックを削除するLuaスクリプト。
// 他プロセスがTTL失効後に取り直したロックを誤って解放しないための比較削除。
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLocker はRedisベースのキー単位ロック。
// SET NX PX によるトークン付きロックで、複数レプリカ間でも直列化が効く。
// TTLはプロセスクラッシュ時のロック残留を防ぐ安全弁であり、
// 1回の割当・回収シーケンスより十分長い値を設定すること。
type RedisLocker struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// NewRedisLocker はRedisLockerの新しいインスタンスを生成する。
func NewRedisLocker(client *redis.Client, logger *slog.Logger, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Acquire は指定キーのロックを取得する。
// 取得済みの場合はretryIntervalごとに再試行し、コンテキストのキャンセルで中断する。
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("ロックの取得に失敗しました: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	return func() {
		// 解放はベストエフォート。失敗してもTTLで自動解放される。
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Result(); err != nil {
			l.logger.Warn("ロックの解放に失敗しました（TTLで自動解放されます）",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}, nil
}
