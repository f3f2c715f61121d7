package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/mdbsite/internal/model"
)

// Claims はアクセストークンに含まれるクレーム。
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// User はクレームからユーザーを組み立てる。
func (c *Claims) User() model.User {
	return model.User{ID: c.Subject, Email: c.Email, Role: c.Role}
}

// ParseClaims はアクセストークンを署名検証せずにデコードする。
// 署名鍵はバックエンドのみが保持するため、トークンの有効性はGetUserで確認すること。
// ここで得た値は有効期限の算出と表示にのみ使う。
func ParseClaims(accessToken string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("access token has no subject")
	}
	return claims, nil
}
