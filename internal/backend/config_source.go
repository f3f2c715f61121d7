package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/mdbsite/internal/storage"
)

// ErrConfigNotFound はバックエンドの接続情報が設定されていないことを示す。
var ErrConfigNotFound = errors.New("Supabase configuration not found")

// Settings はクライアントハンドルの構築に必要な接続情報。
type Settings struct {
	URL string // バックエンドのベースURL
	Key string // 公開APIキー

	// 以下はサーバー側の設定からのみ与えられる。設定エンドポイントは公開しない。
	Bucket        string
	PublicBaseURL string
	S3            *storage.S3Config
}

// ConfigSource はクライアントハンドルの構築に使う設定の取得元。
type ConfigSource interface {
	// Settings は接続情報を返す。
	Settings(ctx context.Context) (*Settings, error)
	// ImageURL は1件のオブジェクトの公開URLを返す。
	ImageURL(ctx context.Context, path string) (string, error)
}

// StaticConfigSource はサーバーの環境設定から接続情報を返すConfigSource。
type StaticConfigSource struct {
	settings Settings
	urls     storage.URLBuilder
}

// NewStaticConfigSource はStaticConfigSourceを生成する。
func NewStaticConfigSource(s Settings) *StaticConfigSource {
	if s.Bucket == "" {
		s.Bucket = storage.DefaultBucket
	}
	return &StaticConfigSource{
		settings: s,
		urls:     storage.NewURLBuilder(s.URL, s.PublicBaseURL, s.Bucket),
	}
}

// Settings は接続情報を返す。URLかキーが空の場合はErrConfigNotFoundを返す。
func (s *StaticConfigSource) Settings(ctx context.Context) (*Settings, error) {
	if s.settings.URL == "" || s.settings.Key == "" {
		return nil, ErrConfigNotFound
	}
	settings := s.settings
	return &settings, nil
}

// ImageURL はpathの公開URLを導出する。
func (s *StaticConfigSource) ImageURL(ctx context.Context, path string) (string, error) {
	if s.settings.URL == "" || s.settings.Key == "" {
		return "", ErrConfigNotFound
	}
	return s.urls.URL(path), nil
}

// EndpointConfigSource はサイトの設定エンドポイント（GET /api/supabase-config）から
// 接続情報を取得するConfigSource。運用CLIが使う。
type EndpointConfigSource struct {
	siteURL    string
	httpClient *http.Client
}

// NewEndpointConfigSource はEndpointConfigSourceを生成する。httpClientがnilの場合は既定値を使う。
func NewEndpointConfigSource(siteURL string, httpClient *http.Client) *EndpointConfigSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &EndpointConfigSource{
		siteURL:    strings.TrimRight(siteURL, "/"),
		httpClient: httpClient,
	}
}

type configResponse struct {
	URL   string `json:"url"`
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Settings は設定エンドポイントから接続情報を取得する。
func (s *EndpointConfigSource) Settings(ctx context.Context) (*Settings, error) {
	cr, err := s.fetch(ctx, "")
	if err != nil {
		return nil, err
	}
	if cr.URL == "" || cr.Key == "" {
		return nil, ErrConfigNotFound
	}
	return &Settings{URL: cr.URL, Key: cr.Key, Bucket: storage.DefaultBucket}, nil
}

// ImageURL は設定エンドポイントに1件の公開URLを問い合わせる。
func (s *EndpointConfigSource) ImageURL(ctx context.Context, path string) (string, error) {
	cr, err := s.fetch(ctx, path)
	if err != nil {
		return "", err
	}
	if cr.URL == "" {
		return "", fmt.Errorf("empty url in config response")
	}
	return cr.URL, nil
}

func (s *EndpointConfigSource) fetch(ctx context.Context, path string) (*configResponse, error) {
	endpoint := s.siteURL + "/api/supabase-config"
	if path != "" {
		endpoint += "?path=" + url.QueryEscape(path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create config request: %w", err)
	}
	// 設定エンドポイントは同一オリジンからの呼び出しのみ受け付ける
	req.Header.Set("Origin", s.siteURL)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("config request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read config response: %w", err)
	}

	var cr configResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("failed to parse config response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if cr.Error != "" {
			return nil, errors.New(cr.Error)
		}
		return nil, fmt.Errorf("config request failed with status %d", resp.StatusCode)
	}
	return &cr, nil
}

// compile-time interface check
var (
	_ ConfigSource = (*StaticConfigSource)(nil)
	_ ConfigSource = (*EndpointConfigSource)(nil)
)
