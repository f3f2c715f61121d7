package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newOriginTestHandler(called *bool) http.Handler {
	return NewSameOriginMiddleware("https://mdb.example.edu/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
}

// TestSameOrigin_AllowsMatchingOrigin は同一オリジンからのリクエストが通ることを検証する。
func TestSameOrigin_AllowsMatchingOrigin(t *testing.T) {
	var called bool
	handler := newOriginTestHandler(&called)

	req := httptest.NewRequest(http.MethodGet, "/api/supabase-config", nil)
	req.Header.Set("Origin", "https://mdb.example.edu")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !called {
		t.Error("expected next handler to be called")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://mdb.example.edu" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://mdb.example.edu")
	}
}

// TestSameOrigin_AllowsRequestWithoutOrigin はOriginヘッダーのない同一サイトのGETが通ることを検証する。
func TestSameOrigin_AllowsRequestWithoutOrigin(t *testing.T) {
	var called bool
	handler := newOriginTestHandler(&called)

	req := httptest.NewRequest(http.MethodGet, "/api/supabase-config", nil)
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("expected next handler to be called")
	}
}

// TestSameOrigin_RejectsForeignOrigin は別オリジンからのリクエストが403になることを検証する。
func TestSameOrigin_RejectsForeignOrigin(t *testing.T) {
	var called bool
	handler := newOriginTestHandler(&called)

	req := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if called {
		t.Error("next handler must not be called")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

// TestSameOrigin_RejectsCrossSiteFetch はSec-Fetch-Site: cross-siteが403になることを検証する。
func TestSameOrigin_RejectsCrossSiteFetch(t *testing.T) {
	var called bool
	handler := newOriginTestHandler(&called)

	req := httptest.NewRequest(http.MethodGet, "/api/supabase-config", nil)
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if called {
		t.Error("next handler must not be called")
	}
}

// TestSameOrigin_Preflight はOPTIONSプリフライトに204で応答することを検証する。
func TestSameOrigin_Preflight(t *testing.T) {
	var called bool
	handler := newOriginTestHandler(&called)

	req := httptest.NewRequest(http.MethodOptions, "/api/contact", nil)
	req.Header.Set("Origin", "https://mdb.example.edu")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if called {
		t.Error("next handler must not be called for preflight")
	}
}
