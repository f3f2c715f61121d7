// Package model はドメインモデルを定義する。
package model

import "time"

// User はバックエンドの認証サービスが管理する管理者ユーザーを表す。
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// AuthSession はリフレッシュ可能な認証セッションを表す。
// アクセストークンの有効期限が切れてもリフレッシュトークンで更新できる。
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired は指定時刻の時点でアクセストークンが期限切れかどうかを返す。
// ExpiresAtがゼロ値の場合は期限不明として扱い、期限切れとはみなさない。
func (s *AuthSession) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}
