// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/helpdesk/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに呼び出し元の識別情報を格納するためのキー。
var identityContextKey = contextKey("identity")

// identityHolderContextKey はログ出力用に識別情報を外側のミドルウェアへ伝えるホルダーのキー。
var identityHolderContextKey = contextKey("identity_holder")

// Authenticator はトークンから呼び出し元を解決するIDプロバイダーのインターフェース。
type Authenticator interface {
	Authenticate(token string) (*model.Identity, error)
}

// NewIdentityMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 指定ロールの識別情報をリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない・不正な場合は401、ロールが異なる場合は403を返す。
func NewIdentityMiddleware(authenticator Authenticator, role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			identity, err := authenticator.Authenticate(token)
			if err != nil {
				if !model.IsCode(err, model.ErrCodeUnauthenticated) {
					slog.Error("failed to authenticate request",
						slog.String("error", err.Error()),
					)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			if identity.Role != role {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenRoleError(role))
				return
			}

			if holder, ok := r.Context().Value(identityHolderContextKey).(*identityHolder); ok {
				holder.set(*identity)
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), *identity)))
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ContextWithIdentity はコンテキストに識別情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext はリクエストコンテキストから識別情報を取得する。
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok || identity.ID == "" {
		return model.Identity{}, false
	}
	return identity, true
}

// AdminFromContext は管理者ロールの識別情報をAdminとして返す。
func AdminFromContext(ctx context.Context) (model.Admin, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.Role != model.RoleAdmin {
		return model.Admin{}, false
	}
	return identity.AsAdmin(), true
}

// UserFromContext は利用者ロールの識別情報をUserとして返す。
func UserFromContext(ctx context.Context) (model.User, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.Role != model.RoleUser {
		return model.User{}, false
	}
	return identity.AsUser(), true
}

// identityHolder は内側のミドルウェアで解決した識別情報を保持する。
type identityHolder struct {
	identity model.Identity
	ok       bool
}

func (h *identityHolder) set(identity model.Identity) {
	h.identity = identity
	h.ok = true
}

func (h *identityHolder) get() (model.Identity, bool) {
	return h.identity, h.ok
}

func contextWithIdentityHolder(ctx context.Context, holder *identityHolder) context.Context {
	return context.WithValue(ctx, identityHolderContextKey, holder)
}
