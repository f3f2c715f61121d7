// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ConsoleCookieName は管理コンソールIDを保持するCookieの名前。
const ConsoleCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// consoleIDContextKey はリクエストコンテキストにコンソールIDを格納するためのキー。
var consoleIDContextKey = contextKey("console_id")

// ConsoleCookieConfig はコンソールCookieの設定。
type ConsoleCookieConfig struct {
	CookieDomain string
	CookieSecure bool
	MaxAge       int // Cookieの有効期間（秒）
}

// NewConsoleMiddleware はHTTP Only CookieからコンソールIDを読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// IDの発行はログイン成功時のみ行う。Cookieがない場合はIDを注入せず、
// 形式が不正な場合はCookieを削除する。
func NewConsoleMiddleware(config ConsoleCookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(ConsoleCookieName)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := uuid.Parse(cookie.Value); err != nil {
				ClearConsoleCookie(w, config)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithConsoleID(r.Context(), cookie.Value)))
		})
	}
}

// NewConsoleID は新しいコンソールIDを発行する。
func NewConsoleID() string {
	return uuid.NewString()
}

// SetConsoleCookie はコンソールIDのCookieを設定する。ログイン時のID切り替えでも使う。
func SetConsoleCookie(w http.ResponseWriter, config ConsoleCookieConfig, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     ConsoleCookieName,
		Value:    id,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearConsoleCookie はコンソールIDのCookieを削除する。
func ClearConsoleCookie(w http.ResponseWriter, config ConsoleCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     ConsoleCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ConsoleIDFromContext はリクエストコンテキストからコンソールIDを取得する。
// コンソールミドルウェアを通過したリクエストでのみ有効。
func ConsoleIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(consoleIDContextKey).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("console ID not found in context")
	}
	return id, nil
}

// ContextWithConsoleID はコンテキストにコンソールIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithConsoleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, consoleIDContextKey, id)
}
