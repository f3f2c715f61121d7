// Package storage は画像バケットへのアクセスを提供する。
// バケットはフラットな名前空間で、オブジェクト名は「<エポックミリ秒>-<元のファイル名>」形式。
package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/hitoshi/mdbsite/internal/model"
)

// DefaultBucket は画像を格納するバケット名。
const DefaultBucket = "images"

// ListLimit は一覧取得の上限件数。
const ListLimit = 1000

// ErrObjectNotFound は削除対象のオブジェクトが存在しないことを示す。
var ErrObjectNotFound = errors.New("Object not found")

// Bucket は画像バケットの操作インターフェース。
type Bucket interface {
	// Upload はオブジェクトをpathに格納する。同名のオブジェクトが存在する場合はエラーを返す。
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	// List はバケット直下のオブジェクトを名前の昇順で最大limit件返す。
	List(ctx context.Context, limit int) ([]model.ObjectInfo, error)
	// Remove はオブジェクトを1件削除する。存在しない場合はErrObjectNotFoundを返す。
	Remove(ctx context.Context, path string) error
}

// URLBuilder はオブジェクトの公開URLを組み立てる。
// ネットワークアクセスを伴わないため、何件でもローカルで導出できる。
type URLBuilder struct {
	base   string
	bucket string
}

// NewURLBuilder はバックエンドのベースURLからURLBuilderを生成する。
// publicBaseURLが指定された場合（CDN経由の配信など）はそちらを優先する。
func NewURLBuilder(backendURL, publicBaseURL, bucket string) URLBuilder {
	if bucket == "" {
		bucket = DefaultBucket
	}
	base := strings.TrimRight(publicBaseURL, "/")
	if base == "" {
		base = strings.TrimRight(backendURL, "/") + "/storage/v1/object/public/" + url.PathEscape(bucket)
	}
	return URLBuilder{base: base, bucket: bucket}
}

// Bucket はバケット名を返す。
func (b URLBuilder) Bucket() string {
	return b.bucket
}

// URL はpathの公開URLを返す。
func (b URLBuilder) URL(path string) string {
	return b.base + "/" + escapePath(path)
}

// URLs はpathsと同じ長さ・同じ順序で公開URLを返す。
func (b URLBuilder) URLs(paths []string) []string {
	urls := make([]string, len(paths))
	for i, p := range paths {
		urls[i] = b.URL(p)
	}
	return urls
}

// escapePath はスラッシュを残してパスの各セグメントをエスケープする。
func escapePath(path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
