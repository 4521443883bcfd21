package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache は利用者情報のキャッシュに必要な最小限のキー・バリュー操作を定義する。
// 実装は並行安全でなければならない。
type Cache interface {
	// Get はキーに対応する値を返す。キャッシュミスの場合はErrMissを返す。
	Get(ctx context.Context, key string) (string, error)

	// Set はTTL付きで値を保存する。
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Close は保持しているリソースを解放する。
	Close() error
}

// ErrMiss はキャッシュに値が存在しないことを示す。
var ErrMiss = errors.New("cache: miss")

// RedisCache はgo-redisを使用したCache実装。
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache はredis:// 形式のURLからRedisCacheを生成し、疎通を確認する。
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis URLの解析に失敗しました: %w", err)
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisへの接続確認に失敗しました: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Get はキーに対応する値を返す。
func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	res, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return res, nil
}

// Set はTTL付きで値を保存する。
func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Close はRedisクライアントを閉じる。
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// compile-time interface check
var _ Cache = (*RedisCache)(nil)
