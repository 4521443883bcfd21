package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/helpdesk/internal/auth"
	"github.com/hitoshi/helpdesk/internal/conversation"
	"github.com/hitoshi/helpdesk/internal/directory"
	"github.com/hitoshi/helpdesk/internal/metrics"
	"github.com/hitoshi/helpdesk/internal/model"
	"github.com/hitoshi/helpdesk/internal/repository"
	"github.com/hitoshi/helpdesk/internal/security"
)

// --- 統合テスト用ルーター構築ヘルパー ---

type testServer struct {
	router http.Handler
	tokens *auth.TokenService
	store  *repository.MemoryStore
}

// newTestServer はインメモリストアと実サービスでルーターを構築する。
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := repository.NewMemoryStore()
	store.PutUser(model.UserSnapshot{ID: "U1", Name: "Chika", Email: "chika@example.ac.jp"})
	store.PutUser(model.UserSnapshot{ID: "U2", Name: "Daichi", Email: "daichi@example.ac.jp"})

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	dir := directory.New(store, nil, time.Minute, nil)
	svc := conversation.NewService(store, dir, security.NewBodySanitizer(), collector, nil)
	tokens := auth.NewTokenService(auth.TokenConfig{Secret: "router-test-secret", Issuer: "helpdesk", TTL: time.Hour})

	router := NewRouter(&RouterDeps{
		Authenticator:     tokens,
		CORSAllowedOrigin: "http://localhost:3000",
		Logger:            nil,
		HTTPRecorder:      collector,
		MetricsHandler:    metrics.Handler(reg),
		AdminService:      svc,
		UserService:       svc,
	})
	return &testServer{router: router, tokens: tokens, store: store}
}

func (s *testServer) token(t *testing.T, id string, role model.Role) string {
	t.Helper()
	token, err := s.tokens.Issue(model.Identity{ID: id, Name: id, Role: role})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	return token
}

// do はリクエストを送信してレコーダーを返す。tokenが空の場合はAuthorizationを付与しない。
func (s *testServer) do(t *testing.T, method, path, token, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// --- テスト ---

func TestNewRouter_Health_NoAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/health", "", "", nil)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("security headers missing: %v", w.Header())
	}
}

type failingChecker struct{}

func (failingChecker) PingContext(ctx context.Context) error { return errors.New("db down") }

func TestNewRouter_Health_BackendDown_Returns503(t *testing.T) {
	router := NewRouter(&RouterDeps{HealthChecker: failingChecker{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestNewRouter_ProtectedRoutes_NoToken_Returns401(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/admin/inbox", "/api/admin/queue", "/api/user/conversations"} {
		w := srv.do(t, http.MethodGet, path, "", "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestNewRouter_WrongRole_Returns403(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/api/admin/queue", srv.token(t, "U1", model.RoleUser), "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("user on admin route: status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = srv.do(t, http.MethodGet, "/api/user/conversations", srv.token(t, "A1", model.RoleAdmin), "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("admin on user route: status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodOptions, "/api/admin/inbox", "", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})

	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key") {
		t.Errorf("Access-Control-Allow-Headers = %q", w.Header().Get("Access-Control-Allow-Headers"))
	}
}

// TestNewRouter_SupportScenario は相談開始から担当取得・返信・既読化までの一連の流れを検証する。
func TestNewRouter_SupportScenario(t *testing.T) {
	srv := newTestServer(t)
	user := srv.token(t, "U1", model.RoleUser)
	adminA := srv.token(t, "A1", model.RoleAdmin)
	adminB := srv.token(t, "A2", model.RoleAdmin)

	// 利用者が相談を開始する
	w := srv.do(t, http.MethodPost, "/api/user/conversations", user, `{"body":"I need help"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: status = %d, body = %s", w.Code, w.Body.String())
	}
	var started startConversationResponse
	if err := json.NewDecoder(w.Body).Decode(&started); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	convID := started.Conversation.ID

	// 待ち行列に表示される
	w = srv.do(t, http.MethodGet, "/api/admin/queue", adminA, "", nil)
	var queue []summaryResponse
	if err := json.NewDecoder(w.Body).Decode(&queue); err != nil {
		t.Fatalf("failed to decode queue: %v", err)
	}
	if len(queue) != 1 || queue[0].ID != convID || queue[0].User.Name != "Chika" || queue[0].UnreadCount != 1 {
		t.Fatalf("unexpected queue: %+v", queue)
	}

	// 管理者Aが担当を取得し、管理者Bは409で担当者を知る
	w = srv.do(t, http.MethodPost, "/api/admin/conversations/"+convID+"/claim", adminA, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("claim A: status = %d, body = %s", w.Code, w.Body.String())
	}
	w = srv.do(t, http.MethodPost, "/api/admin/conversations/"+convID+"/claim", adminB, "", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("claim B: status = %d, want %d", w.Code, http.StatusConflict)
	}
	if body := decodeErrorBody(t, w); body.Owner != "A1" {
		t.Errorf("owner = %q, want %q", body.Owner, "A1")
	}

	// 管理者Bは閲覧も送信もできない
	w = srv.do(t, http.MethodGet, "/api/admin/conversations/"+convID+"/messages", adminB, "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("fetch B: status = %d, want %d", w.Code, http.StatusForbidden)
	}
	w = srv.do(t, http.MethodPost, "/api/admin/conversations/"+convID+"/messages", adminB, `{"body":"me too"}`, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("append B: status = %d, want %d", w.Code, http.StatusForbidden)
	}

	// 管理者Aが返信する（同じキーの再送は同じメッセージを返す）
	header := map[string]string{"Idempotency-Key": "reply-1"}
	w = srv.do(t, http.MethodPost, "/api/admin/conversations/"+convID+"/messages", adminA, `{"body":"We can help"}`, header)
	if w.Code != http.StatusCreated {
		t.Fatalf("append A: status = %d, body = %s", w.Code, w.Body.String())
	}
	var first messageResponse
	if err := json.NewDecoder(w.Body).Decode(&first); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	w = srv.do(t, http.MethodPost, "/api/admin/conversations/"+convID+"/messages", adminA, `{"body":"We can help"}`, header)
	var replay messageResponse
	if err := json.NewDecoder(w.Body).Decode(&replay); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if replay.ID != first.ID {
		t.Errorf("replay ID = %q, want %q", replay.ID, first.ID)
	}

	// 管理者Aの取得で利用者メッセージが既読になる
	w = srv.do(t, http.MethodGet, "/api/admin/conversations/"+convID+"/messages", adminA, "", nil)
	var msgs []messageResponse
	if err := json.NewDecoder(w.Body).Decode(&msgs); err != nil {
		t.Fatalf("failed to decode messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if !msgs[0].IsRead || msgs[0].SenderType != "user" || msgs[1].Seq != 2 {
		t.Errorf("unexpected messages: %+v", msgs)
	}

	// 受信箱の未読数は0になる
	w = srv.do(t, http.MethodGet, "/api/admin/inbox", adminA, "", nil)
	var inbox []summaryResponse
	if err := json.NewDecoder(w.Body).Decode(&inbox); err != nil {
		t.Fatalf("failed to decode inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].UnreadCount != 0 || inbox[0].LastMessagePreview != "We can help" {
		t.Errorf("unexpected inbox: %+v", inbox)
	}

	// 他の利用者には会話の存在が見えない
	other := srv.token(t, "U2", model.RoleUser)
	w = srv.do(t, http.MethodGet, "/api/user/conversations/"+convID+"/messages", other, "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("other user fetch: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	// 利用者は自分の会話のメッセージを閲覧できる
	w = srv.do(t, http.MethodGet, "/api/user/conversations/"+convID+"/messages", user, "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("user fetch: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	srv.do(t, http.MethodGet, "/health", "", "", nil)
	w := srv.do(t, http.MethodGet, "/metrics", "", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "helpdesk_http_status_total") {
		t.Error("metrics output should contain helpdesk_http_status_total")
	}
}

func TestNewRouter_UnknownRoute_Returns404(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/api/unknown", "", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
