// Package model はドメインモデルを定義する。
package model

import "time"

// ConversationStatus は相談スレッドのライフサイクル状態を表す。
// pending → active の一方向遷移のみが存在する。
type ConversationStatus string

const (
	// ConversationStatusPending は担当者未割り当ての状態。
	ConversationStatusPending ConversationStatus = "pending"
	// ConversationStatusActive は担当者が確定した状態。
	ConversationStatusActive ConversationStatus = "active"
)

// Conversation は利用者と担当管理者の間のサポートスレッドを表す。
// AdminIDは一度設定されると変更・解除されない。
// Status == active ⇔ AdminID != nil が常に成り立つ。
type Conversation struct {
	ID            string
	UserID        string
	AdminID       *string
	Status        ConversationStatus
	CreatedAt     time.Time
	LastMessageAt time.Time
	MessageSeq    int64 // 会話内で最後に採番したメッセージ連番
}

// IsOwnedBy は指定管理者が担当者かどうかを返す。
func (c *Conversation) IsOwnedBy(adminID string) bool {
	return c.AdminID != nil && *c.AdminID == adminID
}

// Owner は担当管理者IDを返す。未割り当ての場合は空文字列を返す。
func (c *Conversation) Owner() string {
	if c.AdminID == nil {
		return ""
	}
	return *c.AdminID
}

// CanBeAccessedBy は管理者が閲覧・送信可能かどうかを返す。
// 未割り当て、または自分が担当者の場合のみ許可する。
func (c *Conversation) CanBeAccessedBy(adminID string) bool {
	return c.AdminID == nil || *c.AdminID == adminID
}

// ConversationSummary は受信箱・待ち行列に表示する会話の要約。
type ConversationSummary struct {
	ID                 string
	User               UserSnapshot
	AdminID            *string
	Status             ConversationStatus
	LastMessagePreview string
	LastMessageAt      time.Time
	CreatedAt          time.Time
	UnreadCount        int
}
