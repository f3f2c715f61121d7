package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/mdbsite/internal/model"
)

// DefaultRedisKeyPrefix はRedisに保存する認証セッションのキー接頭辞。
const DefaultRedisKeyPrefix = "mdbsite:auth-session:"

// RedisAuthSessionRepo はRedisを使用した認証セッションリポジトリ。
// 保存期限はキーのTTLで管理するため、期限切れの削除ジョブは不要。
type RedisAuthSessionRepo struct {
	client redis.UniversalClient
	prefix string
	maxAge time.Duration
}

// NewRedisAuthSessionRepo はRedisAuthSessionRepoを生成する。
func NewRedisAuthSessionRepo(client redis.UniversalClient, maxAge time.Duration) *RedisAuthSessionRepo {
	return NewRedisAuthSessionRepoWithPrefix(client, DefaultRedisKeyPrefix, maxAge)
}

// NewRedisAuthSessionRepoWithPrefix はキー接頭辞を指定してRedisAuthSessionRepoを生成する。
func NewRedisAuthSessionRepoWithPrefix(client redis.UniversalClient, prefix string, maxAge time.Duration) *RedisAuthSessionRepo {
	return &RedisAuthSessionRepo{client: client, prefix: prefix, maxAge: maxAge}
}

// Load は保存済みセッションを返す。キーが存在しない場合はnilを返す。
func (r *RedisAuthSessionRepo) Load(ctx context.Context, key string) (*model.AuthSession, error) {
	if key == "" {
		return nil, nil
	}

	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var session model.AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode auth session: %w", err)
	}
	return &session, nil
}

// Save はセッションをmaxAgeのTTL付きで保存する。
func (r *RedisAuthSessionRepo) Save(ctx context.Context, key string, session *model.AuthSession) error {
	if key == "" {
		return errors.New("storage key cannot be empty")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode auth session: %w", err)
	}

	if err := r.client.Set(ctx, r.prefix+key, data, r.maxAge).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Remove は保存済みセッションを削除する。
func (r *RedisAuthSessionRepo) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AuthSessionRepository = (*RedisAuthSessionRepo)(nil)
