package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/helpdesk/internal/middleware"
	"github.com/hitoshi/helpdesk/internal/model"
)

// UserServiceInterface は利用者向けハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// StartConversation は最初のメッセージとともに新しい会話を開始する。
	StartConversation(ctx context.Context, user model.User, body string) (*model.Conversation, *model.Message, error)
	// ListMyConversations は利用者自身の会話一覧を返す。
	ListMyConversations(ctx context.Context, user model.User) ([]model.ConversationSummary, error)
	// ReplyAsUser は利用者としてメッセージを送信する。
	ReplyAsUser(ctx context.Context, user model.User, conversationID, body, idempotencyKey string) (*model.Message, error)
	// FetchMessagesAsUser は利用者自身の会話のメッセージ一覧を返す。
	FetchMessagesAsUser(ctx context.Context, user model.User, conversationID string) ([]*model.Message, error)
}

// UserHandler は利用者向け会話操作のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// StartConversation は新しい会話を開始する。
// POST /api/user/conversations
func (h *UserHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	req, ok := decodeMessageRequest(w, r)
	if !ok {
		return
	}

	conv, msg, err := h.service.StartConversation(r.Context(), user, req.Body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, startConversationResponse{
		Conversation: toConversationResponse(conv),
		Message:      toMessageResponse(msg),
	})
}

// ListMyConversations は自分の会話一覧を取得する。
// GET /api/user/conversations
func (h *UserHandler) ListMyConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	summaries, err := h.service.ListMyConversations(r.Context(), user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSummaryResponses(summaries))
}

// Reply は利用者としてメッセージを送信する。
// POST /api/user/conversations/:id/messages
func (h *UserHandler) Reply(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	req, ok := decodeMessageRequest(w, r)
	if !ok {
		return
	}

	msg, err := h.service.ReplyAsUser(r.Context(), user, chi.URLParam(r, "id"), req.Body, key)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// FetchMessages は自分の会話のメッセージ一覧を取得する。
// GET /api/user/conversations/:id/messages
func (h *UserHandler) FetchMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	msgs, err := h.service.FetchMessagesAsUser(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}
