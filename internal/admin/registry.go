// Package admin はブラウザごとの管理コンソールを管理する。
//
// コンソールはCookieのセッションIDをキーに、バックエンドクライアント、セッションストア、
// ダッシュボードの組を保持する。認証セッションはSessionStorageに永続化されるため、
// アイドルで破棄したコンソールも次のアクセスで復元される。
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/mdbsite/internal/backend"
	"github.com/hitoshi/mdbsite/internal/dashboard"
	"github.com/hitoshi/mdbsite/internal/session"
	"github.com/hitoshi/mdbsite/internal/storage"
)

// Console は1つのブラウザに対応する管理コンソール。
// Watcherは画面の出し分けに使うセッション状態で、RegistryのGetまたはResumeが返した時点で設定済み。
type Console struct {
	ID        string
	Client    *backend.Client
	Store     *session.Store
	Watcher   *session.Watcher
	Dashboard *dashboard.Dashboard

	startOnce sync.Once
	startErr  error

	mu       sync.Mutex
	lastUsed time.Time
}

// start はセッションストアを初期化してWatcherを張る。何度呼んでも初期化は1回だけ。
func (c *Console) start(ctx context.Context) error {
	c.startOnce.Do(func() {
		c.Watcher, c.startErr = session.Watch(ctx, c.Store)
	})
	return c.startErr
}

func (c *Console) touch(now time.Time) {
	c.mu.Lock()
	c.lastUsed = now
	c.mu.Unlock()
}

func (c *Console) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

func (c *Console) close() {
	// 初期化中であれば完了を待ち、以降の初期化を止める
	c.startOnce.Do(func() {})
	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	c.Dashboard.Close()
	c.Store.Close()
	c.Client.Close()
}

// Options はRegistryの設定。
type Options struct {
	Source                backend.ConfigSource
	Storage               backend.SessionStorage
	AutoRefresh           bool
	RefreshMargin         time.Duration
	HTTPClient            *http.Client
	Recorder              backend.Recorder
	MaxUploadSize         int64
	BulkDeleteConcurrency int
	IdleTimeout           time.Duration
	Logger                *slog.Logger

	// テスト用にオーバーライド可能。backend.Optionsにそのまま渡す
	NewAuth   func(s *backend.Settings) backend.AuthAPI
	NewBucket func(s *backend.Settings, tokens storage.TokenSource) (storage.Bucket, error)
}

// Registry はコンソールIDからConsoleへの対応を保持する。
type Registry struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	consoles map[string]*Console
}

// NewRegistry はRegistryを生成する。
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Hour
	}
	return &Registry{
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		consoles: make(map[string]*Console),
	}
}

// Get はidのコンソールを返す。存在しなければ生成し、セッションストアを初期化する。
// 初期化の失敗はセッション状態のErrorに反映されるため、ここではエラーを返さない。
func (r *Registry) Get(ctx context.Context, id string) *Console {
	r.mu.Lock()
	c, ok := r.consoles[id]
	if !ok {
		c = r.newConsole(id)
		r.consoles[id] = c
	}
	r.mu.Unlock()

	c.touch(r.now())
	if err := c.start(ctx); err != nil {
		r.logger.Warn("admin console initialization failed",
			slog.String("console_id", id),
			slog.String("error", err.Error()),
		)
	}
	return c
}

// Resume は既存のコンソールを返す。プロセス内になければ、永続化された認証セッションが
// idにある場合に限りコンソールを生成して復元する。どちらもなければfalseを返す。
// 匿名のリクエストではコンソールを生成しない。
func (r *Registry) Resume(ctx context.Context, id string) (*Console, bool) {
	if _, ok := r.Lookup(id); ok {
		return r.Get(ctx, id), true
	}
	if r.opts.Storage == nil {
		return nil, false
	}
	stored, err := r.opts.Storage.Load(ctx, id)
	if err != nil {
		r.logger.Warn("failed to look up persisted admin session",
			slog.String("console_id", id),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if stored == nil {
		return nil, false
	}
	return r.Get(ctx, id), true
}

// Lookup は既存のコンソールを返す。生成はしない。
func (r *Registry) Lookup(id string) (*Console, bool) {
	r.mu.Lock()
	c, ok := r.consoles[id]
	r.mu.Unlock()
	if ok {
		c.touch(r.now())
	}
	return c, ok
}

func (r *Registry) newConsole(id string) *Console {
	logger := r.logger.With(slog.String("console_id", id))
	client := backend.NewClient(backend.Options{
		Source:        r.opts.Source,
		Storage:       r.opts.Storage,
		StorageKey:    id,
		AutoRefresh:   r.opts.AutoRefresh,
		RefreshMargin: r.opts.RefreshMargin,
		HTTPClient:    r.opts.HTTPClient,
		Logger:        logger,
		Recorder:      r.opts.Recorder,
		NewAuth:       r.opts.NewAuth,
		NewBucket:     r.opts.NewBucket,
	})
	store := session.New(client, logger)
	dash := dashboard.New(client, store, dashboard.Options{
		MaxUploadSize:         r.opts.MaxUploadSize,
		BulkDeleteConcurrency: r.opts.BulkDeleteConcurrency,
		Logger:                logger,
	})
	r.logger.Debug("admin console created", slog.String("console_id", id))
	return &Console{ID: id, Client: client, Store: store, Dashboard: dash}
}

// Remove はコンソールを破棄する。永続化された認証セッションには触れない。
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.consoles[id]
	delete(r.consoles, id)
	r.mu.Unlock()
	if ok {
		c.close()
	}
}

// EvictIdle はIdleTimeoutを超えて使われていないコンソールを破棄し、その件数を返す。
func (r *Registry) EvictIdle() int {
	cutoff := r.now().Add(-r.opts.IdleTimeout)

	r.mu.Lock()
	var idle []*Console
	for id, c := range r.consoles {
		if c.idleSince().Before(cutoff) {
			idle = append(idle, c)
			delete(r.consoles, id)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.close()
	}
	if len(idle) > 0 {
		r.logger.Info("evicted idle admin consoles", slog.Int("count", len(idle)))
	}
	return len(idle)
}

// Run はctxがキャンセルされるまで定期的にアイドルのコンソールを破棄する。
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictIdle()
		}
	}
}

// Len は保持しているコンソール数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.consoles)
}

// Close はすべてのコンソールを破棄する。
func (r *Registry) Close() {
	r.mu.Lock()
	consoles := r.consoles
	r.consoles = make(map[string]*Console)
	r.mu.Unlock()
	for _, c := range consoles {
		c.close()
	}
}
