package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/mdbsite/internal/backend"
	"github.com/hitoshi/mdbsite/internal/model"
)

// fakeBackend はBackendのテスト用実装。emitで認証イベントを発生させる。
type fakeBackend struct {
	getSessionFn func(ctx context.Context) (*model.AuthSession, error)

	getSessionCalls atomic.Int32

	mu        sync.Mutex
	listeners map[int]backend.AuthListener
	nextID    int
}

func newFakeBackend(session *model.AuthSession, err error) *fakeBackend {
	return &fakeBackend{
		getSessionFn: func(ctx context.Context) (*model.AuthSession, error) {
			return session, err
		},
		listeners: make(map[int]backend.AuthListener),
	}
}

func (f *fakeBackend) GetSession(ctx context.Context) (*model.AuthSession, error) {
	f.getSessionCalls.Add(1)
	return f.getSessionFn(ctx)
}

func (f *fakeBackend) OnAuthStateChange(fn backend.AuthListener) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeBackend) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeBackend) emit(event backend.AuthEvent, session *model.AuthSession) {
	f.mu.Lock()
	listeners := make([]backend.AuthListener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(event, session)
	}
}

func adminSession() *model.AuthSession {
	return &model.AuthSession{
		AccessToken: "access",
		User:        model.User{ID: "user-1", Email: "admin@example.com"},
	}
}
