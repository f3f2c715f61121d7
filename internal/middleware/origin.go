package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// NewSameOriginMiddleware はサイト自身のオリジンからの呼び出しのみを許可するミドルウェアを返す。
// Originヘッダーが付いていて許可オリジンと異なる場合、
// またはSec-Fetch-Siteがcross-siteの場合は403を返す。
// ヘッダーを付けないサーバー間の呼び出し（運用CLIなど）はOriginを明示した場合のみ照合する。
// OPTIONSプリフライトリクエストには204で応答する。
func NewSameOriginMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	allowedOrigin = strings.TrimRight(allowedOrigin, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin != "" && origin != allowedOrigin {
				slog.Warn("cross-origin request rejected",
					slog.String("origin", origin),
					slog.String("path", r.URL.Path),
				)
				WriteJSONError(w, http.StatusForbidden, "Forbidden")
				return
			}
			if origin == "" && r.Header.Get("Sec-Fetch-Site") == "cross-site" {
				slog.Warn("cross-site request rejected",
					slog.String("path", r.URL.Path),
				)
				WriteJSONError(w, http.StatusForbidden, "Forbidden")
				return
			}

			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// OPTIONSプリフライトリクエストには204で応答
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
