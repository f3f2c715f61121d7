package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func csrfCookieFrom(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			return c
		}
	}
	return nil
}

// TestCSRF_GET_SetsCookieAndInjectsToken はGETでCookieが設定され、同じトークンがコンテキストに入ることを検証する。
func TestCSRF_GET_SetsCookieAndInjectsToken(t *testing.T) {
	var token string
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = CSRFTokenFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/contact", nil))

	cookie := csrfCookieFrom(t, w)
	if cookie == nil {
		t.Fatal("expected csrf_token cookie")
	}
	if token == "" || token != cookie.Value {
		t.Errorf("context token = %q, cookie = %q", token, cookie.Value)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}
	if !cookie.HttpOnly {
		t.Error("expected HttpOnly cookie")
	}
}

// TestCSRF_GET_ReusesExistingCookie は既存のCookieがあれば再発行しないことを検証する。
func TestCSRF_GET_ReusesExistingCookie(t *testing.T) {
	var token string
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = CSRFTokenFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/contact", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if token != "existing" {
		t.Errorf("token = %q, want %q", token, "existing")
	}
	if csrfCookieFrom(t, w) != nil {
		t.Error("expected no new cookie")
	}
}

// TestCSRF_POST_FormField はフォームフィールドのトークンで検証が通ることを検証する。
func TestCSRF_POST_FormField(t *testing.T) {
	var called bool
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	form := url.Values{CSRFFieldName: {"tok"}, "email": {"a@example.com"}}
	req := httptest.NewRequest(http.MethodPost, "/admin-login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Errorf("expected handler to be called, status = %d", w.Code)
	}
}

// TestCSRF_POST_Header はヘッダーのトークンで検証が通ることを検証する。
func TestCSRF_POST_Header(t *testing.T) {
	var called bool
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin-dashboard/images/bulk-delete", nil)
	req.Header.Set(csrfHeaderName, "tok")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Errorf("expected handler to be called, status = %d", w.Code)
	}
}

// TestCSRF_POST_Rejections はトークンの欠落・不一致で403になることを検証する。
func TestCSRF_POST_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		field  string
	}{
		{name: "cookieなし", field: "tok"},
		{name: "送信トークンなし", cookie: "tok"},
		{name: "不一致", cookie: "tok", field: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			form := url.Values{}
			if tt.field != "" {
				form.Set(CSRFFieldName, tt.field)
			}
			req := httptest.NewRequest(http.MethodPost, "/admin-logout", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
			}
			if called {
				t.Error("handler must not be called")
			}
		})
	}
}

// TestCSRFTokenFromContext_Empty はミドルウェア外では空文字が返ることを検証する。
func TestCSRFTokenFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := CSRFTokenFromContext(req.Context()); got != "" {
		t.Errorf("token = %q, want empty", got)
	}
}
