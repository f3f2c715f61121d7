package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hitoshi/mdbsite/internal/model"
)

// S3Config はS3互換エンドポイントの設定。
type S3Config struct {
	Endpoint  string // host[:port]（スキームなし）
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// S3Bucket はS3互換APIを使うBucket実装。
// サーバー側のサービス資格情報で動作するため、呼び出し元の認証確認は上位で行う。
type S3Bucket struct {
	client *minio.Client
	bucket string
}

// NewS3Bucket はS3Bucketを生成する。接続確認は行わない。
func NewS3Bucket(cfg S3Config) (*S3Bucket, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init s3 client: %w", err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &S3Bucket{client: client, bucket: bucket}, nil
}

// EnsureBucket はバケットが存在しない場合に作成する。
func (b *S3Bucket) EnsureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("bucket check failed: %w", err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket failed: %w", err)
	}
	return nil
}

// Upload はオブジェクトを格納する。同名のオブジェクトが存在する場合はエラーを返す。
func (b *S3Bucket) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	if _, err := b.client.StatObject(ctx, b.bucket, path, minio.StatObjectOptions{}); err == nil {
		return errors.New("The resource already exists")
	} else if !isNoSuchKey(err) {
		return fmt.Errorf("stat object failed: %w", err)
	}

	_, err := b.client.PutObject(ctx, b.bucket, path, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "max-age=3600",
	})
	if err != nil {
		return fmt.Errorf("put object failed: %w", err)
	}
	return nil
}

// List はバケット直下のオブジェクトを返す。S3のリスト結果はキーの辞書順で返る。
func (b *S3Bucket) List(ctx context.Context, limit int) ([]model.ObjectInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []model.ObjectInfo
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Recursive: false}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects failed: %w", obj.Err)
		}
		// 「ディレクトリ」プレフィックスは除外する
		if obj.Size == 0 && len(obj.Key) > 0 && obj.Key[len(obj.Key)-1] == '/' {
			continue
		}
		objects = append(objects, model.ObjectInfo{
			Name:         obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
		if limit > 0 && len(objects) >= limit {
			break
		}
	}
	return objects, nil
}

// Remove はオブジェクトを1件削除する。
// S3の削除は存在しないキーでも成功するため、先に存在を確認する。
func (b *S3Bucket) Remove(ctx context.Context, path string) error {
	if _, err := b.client.StatObject(ctx, b.bucket, path, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("stat object failed: %w", err)
	}
	if err := b.client.RemoveObject(ctx, b.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object failed: %w", err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// compile-time interface check
var _ Bucket = (*S3Bucket)(nil)
