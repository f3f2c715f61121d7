// Package content はサイトの静的コンテンツ（ページ本文、名簿、カルーセル、プロジェクト）を提供する。
package content

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"github.com/hitoshi/mdbsite/internal/security"
)

//go:embed pages/*.md
var pageFiles embed.FS

// mdRenderer はMarkdownをHTMLに変換する。生のHTMLはエスケープする（WithUnsafeは指定しない）。
var mdRenderer = goldmark.New(
	goldmark.WithExtensions(extension.Linkify),
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// Pages は起動時にレンダリングしたページ本文を保持する。
type Pages struct {
	bodies map[string]template.HTML
}

// LoadPages は埋め込みのMarkdownをすべてレンダリングし、サニタイズしてPagesを返す。
func LoadPages(sanitizer security.ContentSanitizerService) (*Pages, error) {
	return loadPages(pageFiles, "pages", sanitizer)
}

func loadPages(fsys fs.FS, dir string, sanitizer security.ContentSanitizerService) (*Pages, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read pages: %w", err)
	}

	p := &Pages{bodies: make(map[string]template.HTML, len(entries))}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".md" {
			continue
		}
		src, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read page %s: %w", e.Name(), err)
		}
		body, err := RenderMarkdown(src, sanitizer)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %s: %w", e.Name(), err)
		}
		p.bodies[strings.TrimSuffix(e.Name(), ".md")] = body
	}
	return p, nil
}

// RenderMarkdown はMarkdownをサニタイズ済みのHTMLに変換する。
func RenderMarkdown(src []byte, sanitizer security.ContentSanitizerService) (template.HTML, error) {
	var buf bytes.Buffer
	if err := mdRenderer.Convert(src, &buf); err != nil {
		return "", err
	}
	return template.HTML(sanitizer.Sanitize(buf.String())), nil
}

// Body は名前に対応するページ本文を返す。
func (p *Pages) Body(name string) (template.HTML, bool) {
	body, ok := p.bodies[name]
	return body, ok
}
