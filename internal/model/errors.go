// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, conversation, system
	Action   string // ユーザー向け対処方法
	Owner    string // ALREADY_CLAIMEDの場合の現在の担当管理者ID
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	ErrCodeAccessDenied         = "ACCESS_DENIED"
	ErrCodeAlreadyClaimed       = "ALREADY_CLAIMED"
	ErrCodeEmptyBody            = "EMPTY_BODY"
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeForbiddenRole        = "FORBIDDEN_ROLE"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// IsCode はerrがAPIErrorであり、かつ指定コードを持つかどうかを返す。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewConversationNotFoundError は会話未検出エラーを生成する。
func NewConversationNotFoundError(conversationID string) *APIError {
	return &APIError{
		Code:     ErrCodeConversationNotFound,
		Message:  fmt.Sprintf("指定された会話が見つかりません: %s", conversationID),
		Category: "conversation",
		Action:   "会話IDを確認してください。",
	}
}

// NewAccessDeniedError は他の管理者が担当中の会話へのアクセスエラーを生成する。
func NewAccessDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccessDenied,
		Message:  "この会話は別の管理者が担当しています。",
		Category: "conversation",
		Action:   "待ち行列から別の会話を選択してください。",
	}
}

// NewAlreadyClaimedError は担当の取得に失敗した場合のエラーを生成する。
// ownerには実際の担当管理者IDを設定し、呼び出し元が
// 「自分が既に担当している」か「他者が担当している」かを区別できるようにする。
func NewAlreadyClaimedError(owner string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyClaimed,
		Message:  "この会話は既に担当者が決まっています。",
		Category: "conversation",
		Action:   "担当者を確認し、必要であれば別の会話を選択してください。",
		Owner:    owner,
	}
}

// NewEmptyBodyError は本文が空の場合のエラーを生成する。
func NewEmptyBodyError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyBody,
		Message:  "メッセージ本文が空です。",
		Category: "validation",
		Action:   "本文を入力してください。",
	}
}

// NewUnauthenticatedError は認証失敗エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewForbiddenRoleError は認証済みだがエンドポイントに必要なロールを持たない場合のエラーを生成する。
func NewForbiddenRoleError(required Role) *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenRole,
		Message:  fmt.Sprintf("この操作には %s ロールが必要です。", required),
		Category: "auth",
		Action:   "適切なアカウントでログインしてください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録し、呼び出し元には返さない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
