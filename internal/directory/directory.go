// Package directory は相談者の表示用情報（ユーザーディレクトリ）への読み取り専用アクセスを提供する。
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/helpdesk/internal/model"
	"github.com/hitoshi/helpdesk/internal/repository"
)

// keyPrefix はキャッシュキーの接頭辞。
const keyPrefix = "helpdesk:user:"

// ErrUserNotFound はディレクトリに利用者が存在しないことを示す。
var ErrUserNotFound = errors.New("ユーザーが見つかりません")

// Directory は利用者情報を取得する。
// cacheが設定されている場合はリードスルーキャッシュとして使用し、
// キャッシュの障害は取得結果に影響させない。
type Directory struct {
	users  repository.UserRepository
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// New はDirectoryを生成する。cacheにnilを渡すと毎回リポジトリから取得する。
func New(users repository.UserRepository, cache Cache, ttl time.Duration, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		users:  users,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// cachedUser はキャッシュに保存するJSON表現。
type cachedUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Matric  string `json:"matric,omitempty"`
	Email   string `json:"email"`
	Program string `json:"program,omitempty"`
}

// LookupUser は指定IDの利用者情報を返す。存在しない場合はErrUserNotFoundを返す。
func (d *Directory) LookupUser(ctx context.Context, userID string) (model.UserSnapshot, error) {
	if snapshot, ok := d.fromCache(ctx, userID); ok {
		return snapshot, nil
	}

	user, err := d.users.FindByID(ctx, userID)
	if err != nil {
		return model.UserSnapshot{}, fmt.Errorf("ユーザー情報の取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.UserSnapshot{}, ErrUserNotFound
	}

	d.store(ctx, *user)
	return *user, nil
}

func (d *Directory) fromCache(ctx context.Context, userID string) (model.UserSnapshot, bool) {
	if d.cache == nil {
		return model.UserSnapshot{}, false
	}

	raw, err := d.cache.Get(ctx, keyPrefix+userID)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			d.logger.Warn("ユーザーキャッシュの読み取りに失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		return model.UserSnapshot{}, false
	}

	var cached cachedUser
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		d.logger.Warn("ユーザーキャッシュの形式が不正です",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return model.UserSnapshot{}, false
	}
	return model.UserSnapshot{
		ID:      cached.ID,
		Name:    cached.Name,
		Matric:  cached.Matric,
		Email:   cached.Email,
		Program: cached.Program,
	}, true
}

func (d *Directory) store(ctx context.Context, user model.UserSnapshot) {
	if d.cache == nil {
		return
	}

	raw, err := json.Marshal(cachedUser{
		ID:      user.ID,
		Name:    user.Name,
		Matric:  user.Matric,
		Email:   user.Email,
		Program: user.Program,
	})
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, keyPrefix+user.ID, string(raw), d.ttl); err != nil {
		d.logger.Warn("ユーザーキャッシュの書き込みに失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}
