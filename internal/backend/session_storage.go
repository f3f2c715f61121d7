package backend

import (
	"context"
	"sync"

	"github.com/hitoshi/mdbsite/internal/model"
)

// SessionStorage は認証セッションの永続化先。
// repository.AuthSessionRepositoryの実装（PostgreSQL、Redis）をそのまま渡せる。
type SessionStorage interface {
	Load(ctx context.Context, key string) (*model.AuthSession, error)
	Save(ctx context.Context, key string, session *model.AuthSession) error
	Remove(ctx context.Context, key string) error
}

// MemoryStorage はプロセス内に保持するSessionStorage。運用CLIとテストで使う。
type MemoryStorage struct {
	mu       sync.Mutex
	sessions map[string]model.AuthSession
}

// NewMemoryStorage はMemoryStorageを生成する。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{sessions: make(map[string]model.AuthSession)}
}

// Load は保存済みセッションを返す。
func (m *MemoryStorage) Load(ctx context.Context, key string) (*model.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Save はセッションを保存する。
func (m *MemoryStorage) Save(ctx context.Context, key string, session *model.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key] = *session
	return nil
}

// Remove はセッションを削除する。
func (m *MemoryStorage) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

var _ SessionStorage = (*MemoryStorage)(nil)
