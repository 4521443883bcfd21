package model

import "time"

// SenderType はメッセージの送信者種別を表す。
type SenderType string

const (
	// SenderTypeUser は利用者が送信したメッセージ。
	SenderTypeUser SenderType = "user"
	// SenderTypeAdmin は管理者が送信したメッセージ。
	SenderTypeAdmin SenderType = "admin"
)

// Message は会話内の1件のメッセージを表す。
// IsReadはfalse→trueの一方向にのみ変化し、対象は利用者メッセージに限られる。
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	SenderID       string
	SenderType     SenderType
	Body           string
	IsRead         bool
	CreatedAt      time.Time
	IdempotencyKey string // 空文字列の場合はキーなし
}
