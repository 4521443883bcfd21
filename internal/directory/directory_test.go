package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/helpdesk/internal/model"
)

// --- テスト用モック ---

// mockUserRepo はUserRepositoryのモック実装。
type mockUserRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.UserSnapshot, error)
	calls      int
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.UserSnapshot, error) {
	m.calls++
	return m.findByIDFn(ctx, id)
}

// memoryCache はマップを使用したCache実装。
type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", c.getErr
	}
	v, ok := c.values[key]
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (c *memoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.values[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *memoryCache) Close() error { return nil }

func chika() *model.UserSnapshot {
	return &model.UserSnapshot{ID: "U1", Name: "Chika", Matric: "S1234567", Email: "chika@example.ac.jp", Program: "CS"}
}

// --- テスト ---

func TestLookupUser_WithoutCache(t *testing.T) {
	repo := &mockUserRepo{findByIDFn: func(ctx context.Context, id string) (*model.UserSnapshot, error) {
		return chika(), nil
	}}
	dir := New(repo, nil, time.Minute, nil)

	got, err := dir.LookupUser(context.Background(), "U1")
	if err != nil {
		t.Fatalf("LookupUser returned error: %v", err)
	}
	if got != *chika() {
		t.Errorf("LookupUser = %+v, want %+v", got, *chika())
	}
}

// TestLookupUser_ReadThrough は2回目以降の取得がキャッシュから返ることを検証する。
func TestLookupUser_ReadThrough(t *testing.T) {
	repo := &mockUserRepo{findByIDFn: func(ctx context.Context, id string) (*model.UserSnapshot, error) {
		return chika(), nil
	}}
	cache := newMemoryCache()
	dir := New(repo, cache, 10*time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := dir.LookupUser(ctx, "U1")
		if err != nil {
			t.Fatalf("LookupUser returned error: %v", err)
		}
		if got != *chika() {
			t.Errorf("LookupUser = %+v", got)
		}
	}

	if repo.calls != 1 {
		t.Errorf("repository calls = %d, want 1", repo.calls)
	}
	if ttl := cache.ttls[keyPrefix+"U1"]; ttl != 10*time.Minute {
		t.Errorf("cache TTL = %v, want 10m", ttl)
	}
}

func TestLookupUser_NotFound(t *testing.T) {
	repo := &mockUserRepo{findByIDFn: func(ctx context.Context, id string) (*model.UserSnapshot, error) {
		return nil, nil
	}}
	dir := New(repo, newMemoryCache(), time.Minute, nil)

	_, err := dir.LookupUser(context.Background(), "missing")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestLookupUser_RepositoryError(t *testing.T) {
	repoErr := errors.New("db down")
	repo := &mockUserRepo{findByIDFn: func(ctx context.Context, id string) (*model.UserSnapshot, error) {
		return nil, repoErr
	}}
	dir := New(repo, nil, time.Minute, nil)

	_, err := dir.LookupUser(context.Background(), "U1")
	if !errors.Is(err, repoErr) {
		t.Errorf("expected wrapped repository error, got %v", err)
	}
}

// TestLookupUser_CacheFailureFallsBack はキャッシュ障害時もリポジトリから取得できることを検証する。
func TestLookupUser_CacheFailureFallsBack(t *testing.T) {
	repo := &mockUserRepo{findByIDFn: func(ctx context.Context, id string) (*model.UserSnapshot, error) {
		return chika(), nil
	}}
	cache := newMemoryCache()
	cache.getErr = errors.New("redis timeout")
	cache.setErr = errors.New("redis timeout")
	dir := New(repo, cache, time.Minute, nil)

	got, err := dir.LookupUser(context.Background(), "U1")
	if err != nil {
		t.Fatalf("LookupUser returned error: %v", err)
	}
	if got.Name != "Chika" {
		t.Errorf("Name = %q, want %q", got.Name, "Chika")
	}
}

// TestLookupUser_CorruptCacheEntry は不正なキャッシュ値を無視してリポジトリから取得することを検証する。
func TestLookupUser_CorruptCacheEntry(t *testing.T) {
	repo := &mockUserRepo{findByIDFn: func(ctx context.Context, id string) (*model.UserSnapshot, error) {
		return chika(), nil
	}}
	cache := newMemoryCache()
	cache.values[keyPrefix+"U1"] = "{not json"
	dir := New(repo, cache, time.Minute, nil)

	got, err := dir.LookupUser(context.Background(), "U1")
	if err != nil {
		t.Fatalf("LookupUser returned error: %v", err)
	}
	if got.Email != "chika@example.ac.jp" || repo.calls != 1 {
		t.Errorf("got %+v, repository calls = %d", got, repo.calls)
	}
	if !strings.Contains(cache.values[keyPrefix+"U1"], `"matric":"S1234567"`) {
		t.Errorf("キャッシュが更新されていません: %s", cache.values[keyPrefix+"U1"])
	}
}

// TestRedisCache_RoundTrip は実際のRedisに対する読み書きを検証する。
// TEST_REDIS_URLが未設定の場合はスキップする。
func TestRedisCache_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL が設定されていないためスキップ")
	}
	ctx := context.Background()

	cache, err := NewRedisCache(ctx, url)
	if err != nil {
		t.Skipf("Redisに接続できません（スキップ）: %v", err)
	}
	defer cache.Close()

	key := fmt.Sprintf("%sroundtrip-%d", keyPrefix, time.Now().UnixNano())
	if _, err := cache.Get(ctx, key); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
	if err := cache.Set(ctx, key, "value", time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	got, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != "value" {
		t.Errorf("Get = %q, want %q", got, "value")
	}
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	if _, err := NewRedisCache(context.Background(), "not-a-redis-url"); err == nil {
		t.Error("expected error for invalid URL, got nil")
	}
}
