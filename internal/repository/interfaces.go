// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/helpdesk/internal/model"
)

// ConversationRepository は会話データの永続化インターフェース。
// 担当者の割り当ては必ず条件付き単一UPDATEで行い、読み取り→書き込みの2段階にはしない。
type ConversationRepository interface {
	// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Conversation, error)

	// Create は会話を作成する。
	Create(ctx context.Context, conv *model.Conversation) error

	// Claim は admin_id IS NULL を条件に担当者を設定し、statusをactiveにする。
	// 条件が成立して更新できた場合は更新後の会話を返す。
	// 0行更新（既に担当者がいる、または存在しない）の場合はnilを返す。
	Claim(ctx context.Context, id, adminID string) (*model.Conversation, error)

	// ReserveAdminSlot は担当管理者であることを条件に、メッセージ連番を1つ進め
	// last_message_atを単調に更新する。行ロックにより会話内の追記を直列化する。
	// 条件が成立しない場合はnilを返す。
	ReserveAdminSlot(ctx context.Context, id, adminID string, now time.Time) (*AppendSlot, error)

	// ReserveUserSlot は会話の所有利用者であることを条件に、ReserveAdminSlotと同じ採番を行う。
	// 条件が成立しない場合はnilを返す。
	ReserveUserSlot(ctx context.Context, id, userID string, now time.Time) (*AppendSlot, error)

	// ListSummaries はフィルタ条件に一致する会話を要約付きで返す。
	// last_message_at降順、created_at降順で並べる。
	ListSummaries(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error)

	// PendingQueueStats は未割り当て会話の件数と最古の作成日時を返す。
	// 未割り当て会話が存在しない場合はoldestにnilを返す。
	PendingQueueStats(ctx context.Context) (count int, oldest *time.Time, err error)
}

// MessageRepository はメッセージデータの永続化インターフェース。
// メッセージは追記のみで、is_readのfalse→true以外は更新しない。
type MessageRepository interface {
	// Insert はメッセージを追加する。
	Insert(ctx context.Context, msg *model.Message) error

	// FindByIdempotencyKey は送信者と冪等キーで既存メッセージを検索する。見つからない場合はnilを返す。
	FindByIdempotencyKey(ctx context.Context, conversationID, senderID, key string) (*model.Message, error)

	// MarkUserMessagesRead は担当管理者が adminID である場合に限り、
	// 会話内の未読の利用者メッセージを既読にする。更新件数を返す。
	MarkUserMessagesRead(ctx context.Context, conversationID, adminID string) (int64, error)

	// ListByConversation は会話のメッセージを古い順（created_at, seq）で返す。
	ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error)

	// CountUnreadUserMessages は会話内の未読の利用者メッセージ数を返す。
	// 件数はキャッシュせず、呼び出しのたびにメッセージ行から数える。
	CountUnreadUserMessages(ctx context.Context, conversationID string) (int, error)

	// ClearIdempotencyKeysBefore は指定日時より前に作成されたメッセージの冪等キーを消去する。
	ClearIdempotencyKeysBefore(ctx context.Context, before time.Time) (int64, error)
}

// UserRepository は相談者情報の読み取りインターフェース。
// ユーザー情報は外部で管理され、このサービスからは更新しない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.UserSnapshot, error)
}

// Store はリポジトリ群とトランザクション境界を提供する。
type Store interface {
	Conversations() ConversationRepository
	Messages() MessageRepository

	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はすべての変更をロールバックし、そのエラーを返す。
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// AppendSlot はメッセージ追記のために確保した順序情報。
type AppendSlot struct {
	Seq int64
	At  time.Time
}

// SummaryFilter は会話一覧の絞り込み条件。空文字列のフィールドは条件に含めない。
type SummaryFilter struct {
	Status  model.ConversationStatus
	AdminID string
	UserID  string
}

// SummaryRow は会話と最新メッセージのプレビュー、未読数を結合した構造体。
// UnreadCountは取得のたびにメッセージ行から再計算する。
type SummaryRow struct {
	model.Conversation
	LastMessagePreview string
	UnreadCount        int
}

// previewLength は最新メッセージのプレビューとして返す最大文字数。
const previewLength = 100

// truncatePreview は本文をプレビュー長に切り詰める。
func truncatePreview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewLength {
		return body
	}
	return string(runes[:previewLength])
}
