package session

import (
	"context"
	"sync"
)

// Watcher はStoreの状態を1つの利用者向けに公開する。
// Changesは最新の状態だけを保持し、読み遅れた古い状態は捨てる。
type Watcher struct {
	mu          sync.Mutex
	state       State
	changes     chan State
	unsubscribe func()
	stopped     bool
}

// Watch はstoreを購読するWatcherを生成し、storeを初期化する。
// 初期化に失敗してもWatcherは返し、状態にエラーが反映される。
func Watch(ctx context.Context, store *Store) (*Watcher, error) {
	w := &Watcher{
		state:   store.Snapshot(),
		changes: make(chan State, 1),
	}
	w.unsubscribe = store.Subscribe(w.update)

	state, err := store.Initialize(ctx)
	w.update(state)
	return w, err
}

func (w *Watcher) update(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.state = s
	select {
	case <-w.changes:
	default:
	}
	w.changes <- s
}

// State は最後に観測した状態を返す。
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Changes は状態遷移を受け取るチャネルを返す。Stopで閉じられる。
func (w *Watcher) Changes() <-chan State {
	return w.changes
}

// IsAuthenticated は管理者がサインイン済みかどうかを返す。
func (w *Watcher) IsAuthenticated() bool {
	return w.State().Authenticated()
}

// Stop は購読を解除する。何度呼んでもよい。
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.unsubscribe()
	close(w.changes)
}
