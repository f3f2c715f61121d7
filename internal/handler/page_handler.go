package handler

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mdbsite/internal/content"
	"github.com/hitoshi/mdbsite/internal/model"
	"github.com/hitoshi/mdbsite/internal/roster"
)

// PageBodies はMarkdownから描画済みのページ本文を返す。*content.Pagesが実装する。
type PageBodies interface {
	Body(name string) (template.HTML, bool)
}

// rosterSection は名簿1種類分の表示内容。
type rosterSection struct {
	Kind    model.RosterKind
	Label   string
	Members []model.Member
}

// PageHandler は公開ページのハンドラー。
type PageHandler struct {
	renderer *Renderer
	pages    PageBodies
	roster   roster.Service
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(renderer *Renderer, pages PageBodies, rosterService roster.Service) *PageHandler {
	return &PageHandler{renderer: renderer, pages: pages, roster: rosterService}
}

func (h *PageHandler) body(name string) template.HTML {
	body, _ := h.pages.Body(name)
	return body
}

// Home はトップページを表示する。
// GET /
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, "home", PageData{
		Body: h.body("home"),
		Data: map[string]any{"Strips": content.Carousel()},
	})
}

// About は団体紹介と名簿を表示する。
// GET /about
func (h *PageHandler) About(w http.ResponseWriter, r *http.Request) {
	sections, err := loadRosters(r, h.roster)
	errMsg := ""
	if err != nil {
		slog.Error("failed to load rosters", slog.String("error", err.Error()))
		errMsg = "Unable to load the member list right now."
	}

	h.renderer.Render(w, r, http.StatusOK, "about", PageData{
		Title: "About",
		Body:  h.body("about"),
		Data:  map[string]any{"Rosters": sections, "Error": errMsg},
	})
}

// Services は提供サービスを表示する。
// GET /services
func (h *PageHandler) Services(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, "services", PageData{
		Title: "Services",
		Body:  h.body("services"),
	})
}

// Projects はクライアントプロジェクトを表示する。
// GET /projects
func (h *PageHandler) Projects(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, "projects", PageData{
		Title: "Projects",
		Body:  h.body("projects"),
		Data:  map[string]any{"Projects": content.Projects()},
	})
}

// Carousel はカルーセルの段と項目をJSONで返す。
// GET /api/carousel
func (h *PageHandler) Carousel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	json.NewEncoder(w).Encode(map[string]any{
		"strips": content.Carousel(),
	})
}

// loadRosters は全名簿を表示順に読み込む。失敗しても読み込めた分は返す。
func loadRosters(r *http.Request, svc roster.Service) ([]rosterSection, error) {
	sections := make([]rosterSection, 0, len(model.RosterKinds))
	var firstErr error
	for _, kind := range model.RosterKinds {
		members, err := svc.List(r.Context(), kind)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		sections = append(sections, rosterSection{Kind: kind, Label: kind.Label(), Members: members})
	}
	return sections, firstErr
}
