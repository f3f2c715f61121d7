// Package session は管理者セッションの状態ストアと、その状態を購読するWatcherを提供する。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/mdbsite/internal/backend"
	"github.com/hitoshi/mdbsite/internal/model"
)

// State は管理者セッションの状態。
// 初期状態はLoading=trueで、最初のセッション確認で解決される。
type State struct {
	User    *model.User
	Loading bool
	Error   string
}

// Authenticated は管理者がサインイン済みかどうかを返す。
func (s State) Authenticated() bool {
	return s.User != nil && !s.Loading
}

// Listener は状態遷移ごとに呼ばれる。
type Listener func(State)

// Backend はストアが購読する認証バックエンド。*backend.Clientが実装する。
type Backend interface {
	GetSession(ctx context.Context) (*model.AuthSession, error)
	OnAuthStateChange(fn backend.AuthListener) func()
}

// Store はセッション状態を保持し、購読者に遷移を通知する。
// 状態は最後に観測した認証イベントだけから決まり、Store自身が再検証することはない。
type Store struct {
	backend Backend
	logger  *slog.Logger

	initMu      sync.Mutex
	initialized bool
	initErr     error

	mu          sync.Mutex
	state       State
	listeners   map[uint64]Listener
	nextID      uint64
	unsubscribe func()
	closed      bool
}

// New はStoreを生成する。Initializeを呼ぶまでバックエンドにはアクセスしない。
func New(b Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:   b,
		logger:    logger,
		state:     State{Loading: true},
		listeners: make(map[uint64]Listener),
	}
}

// Initialize は最初のセッション確認を行い、認証イベントの購読を開始する。
// 何度呼んでもセッション確認は1回だけで、2回目以降は現在の状態を返す。
// 設定の取得に失敗した場合はエラー状態を通知したうえでそのエラーを返す。
func (s *Store) Initialize(ctx context.Context) (State, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized {
		return s.Snapshot(), s.initErr
	}
	s.initialized = true

	session, err := s.backend.GetSession(ctx)
	if err != nil && errors.Is(err, model.ErrConfigUnavailable) {
		s.initErr = err
		s.logger.Error("session store initialization failed",
			slog.String("error", err.Error()),
		)
		return s.transition(State{Error: model.DisplayMessage(err)}), err
	}

	var next State
	if err != nil {
		s.logger.Warn("initial session check failed",
			slog.String("error", err.Error()),
		)
		next = State{Error: model.DisplayMessage(err)}
	} else {
		next = State{User: sessionUser(session)}
	}

	unsubscribe := s.backend.OnAuthStateChange(s.onAuthStateChange)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return s.Snapshot(), nil
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	return s.transition(next), nil
}

func (s *Store) onAuthStateChange(event backend.AuthEvent, session *model.AuthSession) {
	s.logger.Debug("session store received auth event",
		slog.String("event", string(event)),
	)
	s.transition(State{User: sessionUser(session)})
}

// transition は状態を置き換え、ロックの外で全購読者に通知する。
func (s *Store) transition(next State) State {
	s.mu.Lock()
	if s.closed {
		current := s.state
		s.mu.Unlock()
		return current
	}
	s.state = next
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return next
}

// Subscribe は購読者を登録し、登録解除関数を返す。登録解除は何度呼んでもよい。
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot は現在の状態を返す。
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsAuthenticated は管理者がサインイン済みかどうかを返す。
func (s *Store) IsAuthenticated() bool {
	return s.Snapshot().Authenticated()
}

// CurrentUser は現在の管理者ユーザーを返す。未サインインの場合はnil。
func (s *Store) CurrentUser() *model.User {
	return s.Snapshot().User
}

// Close はバックエンドの購読を解除し、以後の通知を停止する。
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.listeners = make(map[uint64]Listener)
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func sessionUser(session *model.AuthSession) *model.User {
	if session == nil {
		return nil
	}
	u := session.User
	return &u
}
