package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/helpdesk/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.NewEmptyBodyError())

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeEmptyBody {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeEmptyBody)
	}
	if body.Category != "validation" {
		t.Errorf("category = %q, want %q", body.Category, "validation")
	}
	if body.Message == "" || body.Action == "" {
		t.Errorf("message/action should not be empty: %+v", body)
	}
}

// TestWriteErrorResponse_IncludesOwner は担当取得の競合時に現在の担当者が含まれることを検証する。
func TestWriteErrorResponse_IncludesOwner(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusConflict, model.NewAlreadyClaimedError("A1"))

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeAlreadyClaimed {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAlreadyClaimed)
	}
	if body.Owner != "A1" {
		t.Errorf("owner = %q, want %q", body.Owner, "A1")
	}
}

// TestWriteErrorResponse_OmitsEmptyOwner は担当者以外のエラーでownerフィールドを出力しないことを検証する。
func TestWriteErrorResponse_OmitsEmptyOwner(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusForbidden, model.NewAccessDeniedError())

	if strings.Contains(w.Body.String(), `"owner"`) {
		t.Errorf("response should not contain owner field: %s", w.Body.String())
	}
}

// TestInternalServerError_ReturnsSystemError は内部エラーが詳細を含まない統一形式で返ることを検証する。
func TestInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want %q", body.Category, "system")
	}
}
