package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/mdbsite/internal/model"
)

const defaultRESTTimeout = 30 * time.Second

// TokenSource はストレージAPIの呼び出しに使うアクセストークンを供給する。
// 行レベルのアクセス制御のため、サインイン中の管理者のトークンを渡す。
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// RESTConfig はストレージREST APIの設定。
type RESTConfig struct {
	URL     string
	AnonKey string
	Bucket  string

	// テスト用にオーバーライド可能
	HTTPClient *http.Client
}

// RESTBucket はバックエンドのストレージREST APIを使うBucket実装。
type RESTBucket struct {
	baseURL    string
	anonKey    string
	bucket     string
	tokens     TokenSource
	httpClient *http.Client
}

// NewRESTBucket はRESTBucketを生成する。tokensがnilの場合は公開APIキーで呼び出す。
func NewRESTBucket(cfg RESTConfig, tokens TokenSource) *RESTBucket {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRESTTimeout}
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &RESTBucket{
		baseURL:    strings.TrimRight(cfg.URL, "/") + "/storage/v1",
		anonKey:    cfg.AnonKey,
		bucket:     bucket,
		tokens:     tokens,
		httpClient: httpClient,
	}
}

// Upload はオブジェクトを格納する。
func (b *RESTBucket) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	req, err := b.newRequest(ctx, http.MethodPost, "/object/"+b.bucket+"/"+escapePath(path), r)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "max-age=3600")
	req.Header.Set("x-upsert", "false")
	if size >= 0 {
		req.ContentLength = size
	}

	resp, err := b.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

type listRequest struct {
	Prefix string     `json:"prefix"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	SortBy listSortBy `json:"sortBy"`
}

type listSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

type listEntry struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	UpdatedAt string `json:"updated_at"`
	Metadata  *struct {
		Size     int64  `json:"size"`
		Mimetype string `json:"mimetype"`
	} `json:"metadata"`
}

// List はバケット直下のオブジェクトを名前の昇順で返す。
// フォルダ（idを持たないエントリ）は除外する。
func (b *RESTBucket) List(ctx context.Context, limit int) ([]model.ObjectInfo, error) {
	body, err := json.Marshal(listRequest{
		Prefix: "",
		Limit:  limit,
		Offset: 0,
		SortBy: listSortBy{Column: "name", Order: "asc"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode list request: %w", err)
	}

	req, err := b.newRequest(ctx, http.MethodPost, "/object/list/"+b.bucket, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var entries []listEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse list response: %w", err)
	}

	objects := make([]model.ObjectInfo, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		info := model.ObjectInfo{Name: e.Name}
		if e.Metadata != nil {
			info.Size = e.Metadata.Size
			info.ContentType = e.Metadata.Mimetype
		}
		if t, err := time.Parse(time.RFC3339, e.UpdatedAt); err == nil {
			info.LastModified = t
		}
		objects = append(objects, info)
	}
	return objects, nil
}

type removeRequest struct {
	Prefixes []string `json:"prefixes"`
}

// Remove はオブジェクトを1件削除する。
// APIは存在しないパスを無視して空配列を返すため、その場合はErrObjectNotFoundとする。
func (b *RESTBucket) Remove(ctx context.Context, path string) error {
	body, err := json.Marshal(removeRequest{Prefixes: []string{path}})
	if err != nil {
		return fmt.Errorf("failed to encode remove request: %w", err)
	}

	req, err := b.newRequest(ctx, http.MethodDelete, "/object/"+b.bucket, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var removed []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&removed); err != nil {
		return fmt.Errorf("failed to parse remove response: %w", err)
	}
	if len(removed) == 0 {
		return ErrObjectNotFound
	}
	return nil
}

func (b *RESTBucket) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage request: %w", err)
	}

	token := b.anonKey
	if b.tokens != nil {
		t, err := b.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		if t != "" {
			token = t
		}
	}
	req.Header.Set("apikey", b.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// send はリクエストを送信し、2xx以外をエラーに変換する。
// エラーメッセージはAPIのmessageフィールドをそのまま使う。
func (b *RESTBucket) send(req *http.Request) (*http.Response, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage request failed: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var er struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &er) == nil {
		if er.Message != "" {
			return nil, errors.New(er.Message)
		}
		if er.Error != "" {
			return nil, errors.New(er.Error)
		}
	}
	return nil, fmt.Errorf("storage request failed with status %d", resp.StatusCode)
}

// compile-time interface check
var _ Bucket = (*RESTBucket)(nil)
