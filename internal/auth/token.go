// Package auth は呼び出し元の識別（IDプロバイダー）を提供する。
// 署名付きトークンを検証し、管理者または利用者の識別情報を解決する。
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/helpdesk/internal/model"
)

// Claims はトークンに含めるクレーム。
type Claims struct {
	Name string     `json:"name"`
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenConfig はトークンサービスの設定。
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// TokenService はHS256署名のトークンを発行・検証する。
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService はTokenServiceを生成する。
func NewTokenService(cfg TokenConfig) *TokenService {
	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
}

// Issue は識別情報に対する署名付きトークンを発行する。
// 運用ツール（tokenサブコマンド）と結合テストで使用する。
func (s *TokenService) Issue(identity model.Identity) (string, error) {
	if identity.ID == "" {
		return "", errors.New("識別子が空です")
	}
	if identity.Role != model.RoleAdmin && identity.Role != model.RoleUser {
		return "", fmt.Errorf("不明なロールです: %q", identity.Role)
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name: identity.Name,
		Role: identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   identity.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗しました: %w", err)
	}
	return signed, nil
}

// Authenticate はトークンを検証し、識別情報を返す。
// 署名・期限・発行者・ロールのいずれかが不正な場合はUnauthenticatedを返す。
func (s *TokenService) Authenticate(tokenString string) (*model.Identity, error) {
	if tokenString == "" {
		return nil, model.NewUnauthenticatedError()
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, model.NewUnauthenticatedError()
	}

	if claims.Subject == "" {
		return nil, model.NewUnauthenticatedError()
	}
	if claims.Role != model.RoleAdmin && claims.Role != model.RoleUser {
		return nil, model.NewUnauthenticatedError()
	}

	return &model.Identity{
		ID:   claims.Subject,
		Name: claims.Name,
		Role: claims.Role,
	}, nil
}
