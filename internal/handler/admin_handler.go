package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/helpdesk/internal/middleware"
	"github.com/hitoshi/helpdesk/internal/model"
)

// idempotencyKeyHeader は再送時の重複送信を防ぐためのリクエストヘッダー。
const idempotencyKeyHeader = "Idempotency-Key"

// maxIdempotencyKeyLength は冪等キーの最大長。
const maxIdempotencyKeyLength = 255

// AdminServiceInterface は管理者向けハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	// ListInbox は管理者が担当中の会話一覧を返す。
	ListInbox(ctx context.Context, admin model.Admin) ([]model.ConversationSummary, error)
	// ListPendingQueue は担当者未割り当ての会話一覧を返す。
	ListPendingQueue(ctx context.Context) ([]model.ConversationSummary, error)
	// Claim は会話の担当を取得する。
	Claim(ctx context.Context, admin model.Admin, conversationID string) (*model.Conversation, error)
	// AppendMessage は管理者としてメッセージを送信する。
	AppendMessage(ctx context.Context, admin model.Admin, conversationID, body, idempotencyKey string) (*model.Message, error)
	// FetchMessages は会話のメッセージ一覧を返し、担当者であれば既読にする。
	FetchMessages(ctx context.Context, admin model.Admin, conversationID string) ([]*model.Message, error)
}

// AdminHandler は管理者向け会話操作のHTTPハンドラー。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{
		service: service,
	}
}

// ListInbox は担当中の会話一覧を取得する。
// GET /api/admin/inbox
func (h *AdminHandler) ListInbox(w http.ResponseWriter, r *http.Request) {
	admin, ok := middleware.AdminFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	summaries, err := h.service.ListInbox(r.Context(), admin)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSummaryResponses(summaries))
}

// ListPendingQueue は待ち行列を取得する。
// GET /api/admin/queue
func (h *AdminHandler) ListPendingQueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.AdminFromContext(r.Context()); !ok {
		writeUnauthenticated(w)
		return
	}

	summaries, err := h.service.ListPendingQueue(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSummaryResponses(summaries))
}

// Claim は会話の担当を取得する。
// POST /api/admin/conversations/:id/claim
func (h *AdminHandler) Claim(w http.ResponseWriter, r *http.Request) {
	admin, ok := middleware.AdminFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	conv, err := h.service.Claim(r.Context(), admin, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// AppendMessage は管理者としてメッセージを送信する。
// POST /api/admin/conversations/:id/messages
func (h *AdminHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	admin, ok := middleware.AdminFromContext(r.Context())
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

	msg, err := h.service.AppendMessage(r.Context(), admin, chi.URLParam(r, "id"), req.Body, key)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// FetchMessages は会話のメッセージ一覧を取得する。
// GET /api/admin/conversations/:id/messages
func (h *AdminHandler) FetchMessages(w http.ResponseWriter, r *http.Request) {
	admin, ok := middleware.AdminFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	msgs, err := h.service.FetchMessages(r.Context(), admin, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

// idempotencyKey はIdempotency-Keyヘッダーを読み取る。
// 長すぎる場合は400レスポンスを書き込み、falseを返す。
func idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get(idempotencyKeyHeader)
	if len(key) > maxIdempotencyKeyLength {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("Idempotency-Keyが長すぎます。"))
		return "", false
	}
	return key, true
}
