package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/mdbsite/internal/middleware"
)

//go:embed templates/*.html
var templateFiles embed.FS

const layoutTemplate = "layout.html"

// PageData はレイアウトと各ページのテンプレートに渡す値。
type PageData struct {
	Title     string
	Path      string
	CSRFToken string
	Body      template.HTML
	Data      any
}

// Renderer はレイアウトとページを組み合わせたテンプレートを保持する。
// テンプレートは起動時に1回だけパースする。
type Renderer struct {
	pages map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"lower": strings.ToLower,
	"join":  strings.Join,
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"megabytes": func(n int64) int64 {
		return n / (1 << 20)
	},
}

// NewRenderer は埋め込みのテンプレートをすべてパースする。
func NewRenderer() (*Renderer, error) {
	entries, err := fs.ReadDir(templateFiles, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}

	rn := &Renderer{pages: make(map[string]*template.Template, len(entries))}
	for _, e := range entries {
		if e.Name() == layoutTemplate {
			continue
		}
		tpl, err := template.New(layoutTemplate).Funcs(templateFuncs).ParseFS(templateFiles,
			path.Join("templates", layoutTemplate),
			path.Join("templates", e.Name()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", e.Name(), err)
		}
		rn.pages[strings.TrimSuffix(e.Name(), ".html")] = tpl
	}
	return rn, nil
}

// Render はページをバッファに描画してからstatusで書き出す。
// 描画に失敗した場合は途中までの出力を捨てて500を返す。
func (rn *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, page string, data PageData) {
	tpl, ok := rn.pages[page]
	if !ok {
		slog.Error("template not found", slog.String("page", page))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if data.Path == "" {
		data.Path = r.URL.Path
	}
	data.CSRFToken = middleware.CSRFTokenFromContext(r.Context())

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		slog.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
