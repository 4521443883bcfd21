// Package conversation はサポート会話の担当割り当て・メッセージ送信・既読管理のドメインロジックを提供する。
//
// 競合状態の正しさはすべてストア側の条件付き書き込みに依存し、
// プロセス内のロックには依存しない。
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/helpdesk/internal/model"
	"github.com/hitoshi/helpdesk/internal/repository"
	"github.com/hitoshi/helpdesk/internal/security"
)

// UserDirectory は相談者の表示用情報を取得するインターフェース。
type UserDirectory interface {
	LookupUser(ctx context.Context, userID string) (model.UserSnapshot, error)
}

// Recorder はドメインイベントのメトリクスを記録するインターフェース。
type Recorder interface {
	RecordClaim(outcome string)
	RecordMessageAppended(sender model.SenderType, implicitClaim bool)
	RecordMessagesMarkedRead(count int64)
}

// 担当取得の結果ラベル。
const (
	ClaimOutcomeWon      = "won"
	ClaimOutcomeLost     = "lost"
	ClaimOutcomeNotFound = "not_found"
)

// Service は会話操作のサービス層。
// ハンドラーから並行に呼び出されることを前提とし、自身は可変状態を持たない。
type Service struct {
	store     repository.Store
	directory UserDirectory
	sanitizer security.BodySanitizer
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewService(
	store repository.Store,
	directory UserDirectory,
	sanitizer security.BodySanitizer,
	recorder Recorder,
	logger *slog.Logger,
) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		directory: directory,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// timestamp はストアに保存する精度（マイクロ秒）に揃えた現在時刻を返す。
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// replayError は冪等キーに一致する既存メッセージが見つかったことを示す。
// トランザクションをロールバックさせるためにエラーとして返し、呼び出し元で取り出す。
type replayError struct {
	msg *model.Message
}

func (e *replayError) Error() string {
	return "idempotent replay of message " + e.msg.ID
}

// asReplay はerrがreplayErrorであれば保持しているメッセージを返す。
func asReplay(err error) (*model.Message, bool) {
	var replay *replayError
	if errors.As(err, &replay) {
		return replay.msg, true
	}
	return nil, false
}

type nopRecorder struct{}

func (nopRecorder) RecordClaim(string) {}
func (nopRecorder) RecordMessageAppended(model.SenderType, bool) {}
func (nopRecorder) RecordMessagesMarkedRead(int64) {}
