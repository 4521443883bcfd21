package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/helpdesk/internal/middleware"
	"github.com/hitoshi/helpdesk/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限サイズ。
const maxRequestBodyBytes = 64 << 10

// messageRequest はメッセージ送信・会話開始リクエストのボディ。
type messageRequest struct {
	Body string `json:"body"`
}

// decodeMessageRequest はリクエストボディをmessageRequestとして読み込む。
// 失敗した場合は400レスポンスを書き込み、falseを返す。
func decodeMessageRequest(w http.ResponseWriter, r *http.Request) (messageRequest, bool) {
	var req messageRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		msg := "リクエストボディの解析に失敗しました。"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg = "リクエストボディが大きすぎます。"
		} else if errors.Is(err, io.EOF) {
			msg = "リクエストボディが空です。"
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(msg))
		return messageRequest{}, false
	}
	return req, true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeUnauthenticated は識別情報がコンテキストにない場合の401を書き込む。
func writeUnauthenticated(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code != model.ErrCodeInternal {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは詳細をログのみに記録する
	slog.Error("internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeConversationNotFound:
		return http.StatusNotFound
	case model.ErrCodeAccessDenied, model.ErrCodeForbiddenRole:
		return http.StatusForbidden
	case model.ErrCodeAlreadyClaimed:
		return http.StatusConflict
	case model.ErrCodeEmptyBody, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
