package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestConsoleMiddleware_NoCookie_DoesNotIssueID はCookieがない場合にIDを発行しないことを検証する。
func TestConsoleMiddleware_NoCookie_DoesNotIssueID(t *testing.T) {
	called := false
	var ctxErr error
	handler := NewConsoleMiddleware(ConsoleCookieConfig{MaxAge: 3600})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ctxErr = ConsoleIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin-dashboard", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Fatal("next handler was not called")
	}
	if ctxErr == nil {
		t.Error("expected no console ID in context")
	}
	if n := len(w.Result().Cookies()); n != 0 {
		t.Errorf("expected no Set-Cookie, got %d", n)
	}
}

// TestSetConsoleCookie_Attributes はログイン時に設定するCookieの属性を検証する。
func TestSetConsoleCookie_Attributes(t *testing.T) {
	w := httptest.NewRecorder()
	SetConsoleCookie(w, ConsoleCookieConfig{MaxAge: 3600}, "abc")

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	cookie := cookies[0]
	if cookie.Name != ConsoleCookieName || cookie.Value != "abc" {
		t.Errorf("cookie = %s=%s", cookie.Name, cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("expected HttpOnly cookie")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
	if cookie.MaxAge != 3600 {
		t.Errorf("MaxAge = %d, want 3600", cookie.MaxAge)
	}
}

// TestConsoleMiddleware_ReusesValidCookie は有効なCookieのIDがそのまま使われることを検証する。
func TestConsoleMiddleware_ReusesValidCookie(t *testing.T) {
	existing := NewConsoleID()

	var captured string
	handler := NewConsoleMiddleware(ConsoleCookieConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = ConsoleIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin-dashboard", nil)
	req.AddCookie(&http.Cookie{Name: ConsoleCookieName, Value: existing})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if captured != existing {
		t.Errorf("console ID = %q, want %q", captured, existing)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Errorf("expected no Set-Cookie, got %d", len(w.Result().Cookies()))
	}
}

// TestConsoleMiddleware_ClearsMalformedCookie は形式不正なCookieが削除され、IDが注入されないことを検証する。
func TestConsoleMiddleware_ClearsMalformedCookie(t *testing.T) {
	var ctxErr error
	handler := NewConsoleMiddleware(ConsoleCookieConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ctxErr = ConsoleIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ConsoleCookieName, Value: "../../etc/passwd"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if ctxErr == nil {
		t.Error("expected no console ID for a malformed cookie")
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("expected the malformed cookie to be cleared, got %v", cookies)
	}
}

// TestConsoleIDFromContext_Missing はコンテキストにIDがない場合にエラーが返ることを検証する。
func TestConsoleIDFromContext_Missing(t *testing.T) {
	if _, err := ConsoleIDFromContext(context.Background()); err == nil {
		t.Error("expected error for missing console ID")
	}

	ctx := ContextWithConsoleID(context.Background(), "abc")
	id, err := ConsoleIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abc" {
		t.Errorf("id = %q, want %q", id, "abc")
	}
}
