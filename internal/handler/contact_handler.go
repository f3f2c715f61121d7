package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mdbsite/internal/contact"
	"github.com/hitoshi/mdbsite/internal/dashboard"
	"github.com/hitoshi/mdbsite/internal/middleware"
	"github.com/hitoshi/mdbsite/internal/model"
)

const (
	contactSuccessMessage = "Contact form submitted successfully"
	contactFailedMessage  = "Failed to submit contact form"

	// maxContactBody はお問い合わせJSONの最大サイズ。公開フォームの本文上限と揃える
	maxContactBody = 64 << 10
)

// ContactSubmitter はお問い合わせの保存。*contact.Serviceが実装する。
type ContactSubmitter interface {
	Submit(ctx context.Context, in contact.Input) (*model.ContactSubmission, error)
}

// ContactHandler はお問い合わせのハンドラー。
type ContactHandler struct {
	service  ContactSubmitter
	renderer *Renderer
	pages    PageBodies
}

// NewContactHandler はContactHandlerを生成する。
func NewContactHandler(service ContactSubmitter, renderer *Renderer, pages PageBodies) *ContactHandler {
	return &ContactHandler{service: service, renderer: renderer, pages: pages}
}

type contactResponse struct {
	Success bool                     `json:"success"`
	Message string                   `json:"message"`
	Data    *model.ContactSubmission `json:"data"`
}

// Submit はJSONのお問い合わせを1件保存する。
// POST /api/contact
//
// 入力エラーは400、保存の失敗は500で、いずれも{"error": ...}を返す。
// JSONとして読めないリクエストも500として扱う。
func (h *ContactHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var in contact.Input
	if err := json.NewDecoder(io.LimitReader(r.Body, maxContactBody)).Decode(&in); err != nil {
		slog.Warn("failed to decode contact request", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	submission, err := h.service.Submit(r.Context(), in)
	if err != nil {
		if errors.Is(err, model.ErrValidationFailed) {
			middleware.WriteJSONError(w, http.StatusBadRequest, model.DisplayMessage(err))
			return
		}
		slog.Error("failed to submit contact form", slog.String("error", err.Error()))
		middleware.WriteJSONError(w, http.StatusInternalServerError, contactFailedMessage)
		return
	}

	writeJSONBody(w, http.StatusOK, contactResponse{
		Success: true,
		Message: contactSuccessMessage,
		Data:    submission,
	})
}

// Form はお問い合わせフォームを表示する。
// GET /contact
func (h *ContactHandler) Form(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, contact.Input{}, nil)
}

// SubmitForm はフォームから送信されたお問い合わせを保存し、結果を同じページに表示する。
// POST /contact
func (h *ContactHandler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	in := contact.Input{
		Name:    r.FormValue("name"),
		Email:   r.FormValue("email"),
		Subject: r.FormValue("subject"),
		Message: r.FormValue("message"),
	}

	if _, err := h.service.Submit(r.Context(), in); err != nil {
		if errors.Is(err, model.ErrValidationFailed) {
			h.render(w, r, http.StatusBadRequest, in, &dashboard.Flash{Kind: dashboard.FlashError, Text: model.DisplayMessage(err)})
			return
		}
		slog.Error("failed to submit contact form", slog.String("error", err.Error()))
		h.render(w, r, http.StatusInternalServerError, in, &dashboard.Flash{Kind: dashboard.FlashError, Text: contactFailedMessage})
		return
	}

	h.render(w, r, http.StatusOK, contact.Input{}, &dashboard.Flash{
		Kind: dashboard.FlashSuccess,
		Text: "Thank you for your message! We'll get back to you soon.",
	})
}

func (h *ContactHandler) render(w http.ResponseWriter, r *http.Request, status int, form contact.Input, flash *dashboard.Flash) {
	body, _ := h.pages.Body("contact")
	h.renderer.Render(w, r, status, "contact", PageData{
		Title: "Contact",
		Body:  body,
		Data:  map[string]any{"Form": form, "Flash": flash},
	})
}
