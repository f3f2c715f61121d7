package backend

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/mdbsite/internal/model"
	"github.com/hitoshi/mdbsite/internal/storage"
)

// mockAuthAPI はAuthAPIのテスト用モック。
type mockAuthAPI struct {
	signInFn  func(ctx context.Context, email, password string) (*model.AuthSession, error)
	refreshFn func(ctx context.Context, refreshToken string) (*model.AuthSession, error)
	signOutFn func(ctx context.Context, accessToken string) error
	getUserFn func(ctx context.Context, accessToken string) (*model.User, error)

	getUserCalls atomic.Int32
	refreshCalls atomic.Int32
}

func (m *mockAuthAPI) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error) {
	return m.signInFn(ctx, email, password)
}

func (m *mockAuthAPI) RefreshSession(ctx context.Context, refreshToken string) (*model.AuthSession, error) {
	m.refreshCalls.Add(1)
	return m.refreshFn(ctx, refreshToken)
}

func (m *mockAuthAPI) SignOut(ctx context.Context, accessToken string) error {
	if m.signOutFn == nil {
		return nil
	}
	return m.signOutFn(ctx, accessToken)
}

func (m *mockAuthAPI) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	m.getUserCalls.Add(1)
	return m.getUserFn(ctx, accessToken)
}

// mockBucket はstorage.Bucketのテスト用モック。
type mockBucket struct {
	mu       sync.Mutex
	uploadFn func(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	listFn   func(ctx context.Context, limit int) ([]model.ObjectInfo, error)
	removeFn func(ctx context.Context, path string) error

	calls []string
}

func (m *mockBucket) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
}

func (m *mockBucket) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockBucket) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	m.record("upload:" + path)
	if m.uploadFn == nil {
		return nil
	}
	return m.uploadFn(ctx, path, r, size, contentType)
}

func (m *mockBucket) List(ctx context.Context, limit int) ([]model.ObjectInfo, error) {
	m.record("list")
	if m.listFn == nil {
		return nil, nil
	}
	return m.listFn(ctx, limit)
}

func (m *mockBucket) Remove(ctx context.Context, path string) error {
	m.record("remove:" + path)
	if m.removeFn == nil {
		return nil
	}
	return m.removeFn(ctx, path)
}

// countingSource は呼び出し回数を数えるConfigSource。
type countingSource struct {
	settings *Settings
	err      error
	calls    atomic.Int32
}

func (s *countingSource) Settings(ctx context.Context) (*Settings, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.settings, nil
}

func (s *countingSource) ImageURL(ctx context.Context, path string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return storage.NewURLBuilder(s.settings.URL, "", "images").URL(path), nil
}
