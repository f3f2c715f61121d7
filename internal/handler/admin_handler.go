package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mdbsite/internal/admin"
	"github.com/hitoshi/mdbsite/internal/dashboard"
	"github.com/hitoshi/mdbsite/internal/middleware"
	"github.com/hitoshi/mdbsite/internal/model"
	"github.com/hitoshi/mdbsite/internal/roster"
)

const dashboardPath = "/admin-dashboard"

// Consoles はコンソールIDから管理コンソールを引く。*admin.Registryが実装する。
type Consoles interface {
	Get(ctx context.Context, id string) *admin.Console
	Resume(ctx context.Context, id string) (*admin.Console, bool)
	Remove(id string)
}

// LoginRecorder はログイン試行の結果を記録する。
type LoginRecorder interface {
	RecordLoginAttempt(outcome string)
}

type noopLoginRecorder struct{}

func (noopLoginRecorder) RecordLoginAttempt(string) {}

// AdminHandlerConfig は管理画面ハンドラーの設定。
type AdminHandlerConfig struct {
	Cookie        middleware.ConsoleCookieConfig
	MaxUploadSize int64
}

// AdminHandler は管理者ログインとダッシュボードのハンドラー。
// 操作はすべてPOSTで受け、完了後にダッシュボードへリダイレクトする（PRG）。
// 結果のメッセージはダッシュボードのFlashとして次の表示に載る。
type AdminHandler struct {
	consoles Consoles
	roster   roster.Service
	renderer *Renderer
	config   AdminHandlerConfig
	recorder LoginRecorder
}

// NewAdminHandler はAdminHandlerを生成する。recorderはnilでもよい。
func NewAdminHandler(consoles Consoles, rosterService roster.Service, renderer *Renderer, config AdminHandlerConfig, recorder LoginRecorder) *AdminHandler {
	if recorder == nil {
		recorder = noopLoginRecorder{}
	}
	return &AdminHandler{
		consoles: consoles,
		roster:   rosterService,
		renderer: renderer,
		config:   config,
		recorder: recorder,
	}
}

// console はリクエストのCookieが指すコンソールを返す。
// コンソールはログイン成功時にのみ生成されるため、Cookieがない場合や
// 対応するコンソールも永続化されたセッションもない場合はfalseを返す。
func (h *AdminHandler) console(r *http.Request) (*admin.Console, bool) {
	id, err := middleware.ConsoleIDFromContext(r.Context())
	if err != nil {
		return nil, false
	}
	return h.consoles.Resume(r.Context(), id)
}

// requireAdmin は認証済みのコンソールを返す。未認証の場合はログイン画面へリダイレクトしてfalseを返す。
func (h *AdminHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (*admin.Console, bool) {
	c, ok := h.console(r)
	if !ok || !c.Watcher.IsAuthenticated() {
		http.Redirect(w, r, dashboard.LoginPath, http.StatusSeeOther)
		return nil, false
	}
	return c, true
}

// LoginForm はログイン画面を表示する。認証済みであればダッシュボードへリダイレクトする。
// GET /admin-login
func (h *AdminHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(r)
	if !ok {
		h.renderLogin(w, r, http.StatusOK, "", "")
		return
	}
	st := c.Watcher.State()
	if st.Authenticated() {
		http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
		return
	}
	h.renderLogin(w, r, http.StatusOK, "", st.Error)
}

// Login はメールアドレスとパスワードでサインインする。
// POST /admin-login
//
// セッション固定を避けるため、サインインは新しいコンソールIDで行い、
// 成功した場合のみCookieを差し替えて古いコンソールを破棄する。
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || password == "" {
		h.recorder.RecordLoginAttempt("invalid")
		h.renderLogin(w, r, http.StatusBadRequest, email, "Email and password are required")
		return
	}

	newID := middleware.NewConsoleID()
	c := h.consoles.Get(r.Context(), newID)
	if _, err := c.Client.SignInAdmin(r.Context(), email, password); err != nil {
		h.consoles.Remove(newID)

		status := http.StatusInternalServerError
		outcome := "error"
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidCredentials {
			status = http.StatusUnauthorized
			outcome = "failure"
		}
		h.recorder.RecordLoginAttempt(outcome)
		slog.Warn("admin sign-in failed",
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
		h.renderLogin(w, r, status, email, model.DisplayMessage(err))
		return
	}
	h.recorder.RecordLoginAttempt("success")

	if oldID, err := middleware.ConsoleIDFromContext(r.Context()); err == nil && oldID != newID {
		h.consoles.Remove(oldID)
	}
	middleware.SetConsoleCookie(w, h.config.Cookie, newID)
	slog.Info("admin signed in", slog.String("console_id", newID))
	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

// Logout はサインアウトしてログイン画面へリダイレクトする。
// POST /admin-logout
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.console(r); ok {
		if err := c.Client.SignOutAdmin(r.Context()); err != nil {
			// サインアウトに失敗してもログイン画面には戻す
			slog.Error("failed to sign out", slog.String("error", err.Error()))
		}
		h.consoles.Remove(c.ID)
	}
	middleware.ClearConsoleCookie(w, h.config.Cookie)
	http.Redirect(w, r, dashboard.LoginPath, http.StatusSeeOther)
}

func (h *AdminHandler) renderLogin(w http.ResponseWriter, r *http.Request, status int, email, errMsg string) {
	h.renderer.Render(w, r, status, "admin_login", PageData{
		Title: "Admin Login",
		Data:  map[string]any{"Email": email, "Error": errMsg},
	})
}

// Dashboard はダッシュボードを表示する。未認証であればログイン画面へリダイレクトする。
// 認証後の最初の表示で画像一覧を1回だけ読み込む。
// GET /admin-dashboard
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(r)
	if !ok {
		http.Redirect(w, r, dashboard.LoginPath, http.StatusSeeOther)
		return
	}

	redirect, err := c.Dashboard.Mount(r.Context())
	if redirect != "" {
		http.Redirect(w, r, redirect, http.StatusSeeOther)
		return
	}
	if err != nil {
		// 読み込みの失敗はFlashとして表示する
		slog.Warn("dashboard load failed", slog.String("error", err.Error()))
	}

	sections, err := loadRosters(r, h.roster)
	if err != nil {
		c.Dashboard.Notify(dashboard.FlashError, "Failed to load rosters: "+model.DisplayMessage(err))
	}

	h.renderer.Render(w, r, http.StatusOK, "admin_dashboard", PageData{
		Title: "Admin Dashboard",
		Data: map[string]any{
			"View":          c.Dashboard.View(),
			"Rosters":       sections,
			"Editable":      h.roster.Editable(),
			"MaxUploadSize": h.config.MaxUploadSize,
		},
	})
}

// Refresh は画像一覧を読み込み直す。
// POST /admin-dashboard/refresh
func (h *AdminHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	c, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	if err := c.Dashboard.Refresh(r.Context()); err == nil {
		c.Dashboard.Notify(dashboard.FlashSuccess, "Image list refreshed")
	}
	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

// Upload は選択された画像をアップロードする。複数ファイルは順に1件ずつ処理する。
// POST /admin-dashboard/images
func (h *AdminHandler) Upload(w http.ResponseWriter, r *http.Request) {
	c, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	defer http.Redirect(w, r, dashboardPath, http.StatusSeeOther)

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.Dashboard.Notify(dashboard.FlashError, "Upload failed: "+model.NewUploadTooLargeError(h.config.MaxUploadSize).Message)
			return
		}
		c.Dashboard.Notify(dashboard.FlashError, "Upload failed: No file selected")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		c.Dashboard.Notify(dashboard.FlashError, "Upload failed: No file selected")
		return
	}

	uploaded := 0
	for _, fh := range files {
		if err := h.uploadOne(r.Context(), c, fh); err != nil {
			slog.Warn("image upload failed",
				slog.String("filename", fh.Filename),
				slog.String("error", err.Error()),
			)
			// Flashは失敗した1件の内容になる
			return
		}
		uploaded++
	}
	if uploaded > 1 {
		c.Dashboard.Notify(dashboard.FlashSuccess, fmt.Sprintf("Successfully uploaded %d images", uploaded))
	}
}

func (h *AdminHandler) uploadOne(ctx context.Context, c *admin.Console, fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	body, contentType := sniffContentType(f, fh.Header.Get("Content-Type"))
	_, err = c.Dashboard.Upload(ctx, fh.Filename, body, fh.Size, contentType)
	return err
}

// sniffContentType はContent-Typeが未指定または汎用の場合に先頭512バイトから判定する。
func sniffContentType(r io.Reader, declared string) (io.Reader, string) {
	if declared != "" && declared != "application/octet-stream" {
		return r, declared
	}
	br := bufio.NewReaderSize(r, 512)
	head, _ := br.Peek(512)
	return br, http.DetectContentType(head)
}

// Delete は画像を1件削除する。
// POST /admin-dashboard/images/delete
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	path := r.FormValue("path")
	if path == "" {
		c.Dashboard.Notify(dashboard.FlashError, "No image selected")
	} else {
		c.Dashboard.Delete(r.Context(), path)
	}
	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

// BulkDelete は選択された画像をまとめて削除する。
// POST /admin-dashboard/images/bulk-delete
func (h *AdminHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	r.ParseForm()
	paths := r.PostForm["path"]
	if len(paths) == 0 {
		c.Dashboard.Notify(dashboard.FlashError, "No images selected")
	} else {
		h.logBulkDelete(c.Dashboard.BulkDelete(r.Context(), paths), paths)
	}
	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

// Clear は表示中の全画像を削除する。
// POST /admin-dashboard/images/clear
func (h *AdminHandler) Clear(w http.ResponseWriter, r *http.Request) {
	c, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	paths := make([]string, 0)
	for _, img := range c.Dashboard.Images() {
		paths = append(paths, img.Path)
	}
	h.logBulkDelete(c.Dashboard.ClearAll(r.Context()), paths)
	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

func (h *AdminHandler) logBulkDelete(err error, order []string) {
	var bulkErr *dashboard.BulkDeleteError
	if errors.As(err, &bulkErr) {
		slog.Warn("bulk delete left images behind",
			slog.Int("succeeded", len(bulkErr.Succeeded)),
			slog.Any("failed_paths", bulkErr.FailedPaths(order)),
		)
	}
}

// AddMember は名簿にメンバーを追加する。
// POST /admin-dashboard/roster/{kind}
func (h *AdminHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	c, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	defer http.Redirect(w, r, dashboardPath, http.StatusSeeOther)

	kind, err := model.ParseRosterKind(chi.URLParam(r, "kind"))
	if err != nil {
		c.Dashboard.Notify(dashboard.FlashError, "Unknown roster")
		return
	}
	m, err := h.roster.Add(r.Context(), kind, memberInputFrom(r))
	if err != nil {
		c.Dashboard.Notify(dashboard.FlashError, "Failed to add member: "+model.DisplayMessage(err))
		return
	}
	c.Dashboard.Notify(dashboard.FlashSuccess, fmt.Sprintf("Added %s to %s", m.Name, kind.Label()))
}

// UpdateMember はメンバーの表示項目を更新する。
// POST /admin-dashboard/roster/{kind}/{id}
func (h *AdminHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	c, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	defer http.Redirect(w, r, dashboardPath, http.StatusSeeOther)

	kind, err := model.ParseRosterKind(chi.URLParam(r, "kind"))
	if err != nil {
		c.Dashboard.Notify(dashboard.FlashError, "Unknown roster")
		return
	}
	m, err := h.roster.Update(r.Context(), kind, chi.URLParam(r, "id"), memberInputFrom(r))
	if err != nil {
		c.Dashboard.Notify(dashboard.FlashError, "Failed to update member: "+model.DisplayMessage(err))
		return
	}
	c.Dashboard.Notify(dashboard.FlashSuccess, "Updated "+m.Name)
}

// RemoveMember はメンバーを削除する。
// POST /admin-dashboard/roster/{kind}/{id}/delete
func (h *AdminHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	c, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	defer http.Redirect(w, r, dashboardPath, http.StatusSeeOther)

	kind, err := model.ParseRosterKind(chi.URLParam(r, "kind"))
	if err != nil {
		c.Dashboard.Notify(dashboard.FlashError, "Unknown roster")
		return
	}
	if err := h.roster.Remove(r.Context(), kind, chi.URLParam(r, "id")); err != nil {
		c.Dashboard.Notify(dashboard.FlashError, "Failed to remove member: "+model.DisplayMessage(err))
		return
	}
	c.Dashboard.Notify(dashboard.FlashSuccess, "Removed member from "+kind.Label())
}

func memberInputFrom(r *http.Request) model.MemberInput {
	return model.MemberInput{
		Name:      r.FormValue("name"),
		Title:     r.FormValue("title"),
		Image:     r.FormValue("image"),
		ImagePath: r.FormValue("image_path"),
	}
}
