package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mdbsite/internal/backend"
	"github.com/hitoshi/mdbsite/internal/middleware"
)

// ConfigHandler はブラウザ向けのバックエンド接続情報エンドポイント。
// 公開キーとURLのみを返し、サーバー側の秘密情報（ストレージの認証情報など）は返さない。
type ConfigHandler struct {
	source backend.ConfigSource
}

// NewConfigHandler はConfigHandlerを生成する。
func NewConfigHandler(source backend.ConfigSource) *ConfigHandler {
	return &ConfigHandler{source: source}
}

// Get は接続情報、またはpathが指定された場合はその画像の公開URLを返す。
// GET /api/supabase-config
// GET /api/supabase-config?path=<object path>
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	if path := r.URL.Query().Get("path"); path != "" {
		url, err := h.source.ImageURL(r.Context(), path)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSONBody(w, http.StatusOK, map[string]string{"url": url})
		return
	}

	settings, err := h.source.Settings(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSONBody(w, http.StatusOK, map[string]string{
		"url": settings.URL,
		"key": settings.Key,
	})
}

func (h *ConfigHandler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, backend.ErrConfigNotFound) {
		slog.Error("backend configuration missing")
		middleware.WriteJSONError(w, http.StatusInternalServerError, backend.ErrConfigNotFound.Error())
		return
	}
	slog.Error("failed to resolve backend configuration", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

func writeJSONBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
