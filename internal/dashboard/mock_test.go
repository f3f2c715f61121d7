package dashboard

import (
	"context"
	"io"
	"sync"

	"github.com/hitoshi/mdbsite/internal/model"
	"github.com/hitoshi/mdbsite/internal/session"
)

// mockBackend はBackendのテスト用モック。呼び出しを記録する。
type mockBackend struct {
	listFn     func(ctx context.Context) ([]model.ObjectInfo, error)
	batchURLFn func(ctx context.Context, paths []string) ([]string, error)
	imageURLFn func(ctx context.Context, path string) (string, error)
	uploadFn   func(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
	deleteFn   func(ctx context.Context, path string) error

	mu    sync.Mutex
	calls []string
}

func (m *mockBackend) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockBackend) ListAllImages(ctx context.Context) ([]model.ObjectInfo, error) {
	m.record("list")
	if m.listFn == nil {
		return nil, nil
	}
	return m.listFn(ctx)
}

func (m *mockBackend) GetBatchImageURLs(ctx context.Context, paths []string) ([]string, error) {
	m.record("batch")
	if m.batchURLFn == nil {
		urls := make([]string, len(paths))
		for i, p := range paths {
			urls[i] = "https://cdn.example.com/" + p
		}
		return urls, nil
	}
	return m.batchURLFn(ctx, paths)
}

func (m *mockBackend) ImageURL(ctx context.Context, path string) (string, error) {
	m.record("url:" + path)
	if m.imageURLFn == nil {
		return "https://cdn.example.com/" + path, nil
	}
	return m.imageURLFn(ctx, path)
}

func (m *mockBackend) UploadImage(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error) {
	m.record("upload:" + name)
	if m.uploadFn == nil {
		return "1700000000000-" + name, nil
	}
	return m.uploadFn(ctx, name, r, size, contentType)
}

func (m *mockBackend) DeleteImage(ctx context.Context, path string) error {
	m.record("delete:" + path)
	if m.deleteFn == nil {
		return nil
	}
	return m.deleteFn(ctx, path)
}

// fakeSessions はSessionsのテスト用実装。setで状態遷移を通知する。
type fakeSessions struct {
	mu        sync.Mutex
	state     session.State
	listeners map[int]session.Listener
	nextID    int
}

func newFakeSessions(authenticated bool) *fakeSessions {
	f := &fakeSessions{listeners: make(map[int]session.Listener)}
	if authenticated {
		f.state = session.State{User: &model.User{ID: "user-1", Email: "admin@example.com"}}
	}
	return f
}

func (f *fakeSessions) Snapshot() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSessions) Subscribe(fn session.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeSessions) set(st session.State) {
	f.mu.Lock()
	f.state = st
	listeners := make([]session.Listener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}

func objects(names ...string) []model.ObjectInfo {
	out := make([]model.ObjectInfo, len(names))
	for i, n := range names {
		out[i] = model.ObjectInfo{Name: n}
	}
	return out
}
