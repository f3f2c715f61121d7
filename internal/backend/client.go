// Package backend はリモートバックエンド（認証・画像ストレージ）へのアクセスを集約する。
// クライアントハンドルは最初の利用時に1回だけ構築し、その結果（失敗を含む）を
// クライアントの生存期間中キャッシュする。
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/mdbsite/internal/auth"
	"github.com/hitoshi/mdbsite/internal/model"
	"github.com/hitoshi/mdbsite/internal/storage"
)

const (
	// DefaultStorageKey はセッション永続化の既定キー。
	DefaultStorageKey = "mdbsite-auth-token"

	initTimeout    = 10 * time.Second
	refreshTimeout = 10 * time.Second
)

// AuthEvent は認証状態の変化を表すイベント種別。
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// AuthListener は認証状態の変化を受け取るコールバック。
// サインアウト時のsessionはnil。
type AuthListener func(event AuthEvent, session *model.AuthSession)

// AuthAPI はクライアントが使う認証APIの操作。
type AuthAPI interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error)
	RefreshSession(ctx context.Context, refreshToken string) (*model.AuthSession, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*model.User, error)
}

// Recorder は認証イベントとストレージ操作の計測を受け取る。
type Recorder interface {
	RecordAuthEvent(event string)
	RecordStorageOperation(operation, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordAuthEvent(string)                {}
func (noopRecorder) RecordStorageOperation(string, string) {}

// Options はClientの設定。
type Options struct {
	Source        ConfigSource
	Storage       SessionStorage // nilの場合はMemoryStorage
	StorageKey    string         // 空の場合はDefaultStorageKey
	AutoRefresh   bool
	RefreshMargin time.Duration // 有効期限のどれだけ前に自動更新するか
	HTTPClient    *http.Client
	Logger        *slog.Logger
	Recorder      Recorder

	// テスト用にオーバーライド可能
	NewAuth   func(s *Settings) AuthAPI
	NewBucket func(s *Settings, tokens storage.TokenSource) (storage.Bucket, error)
}

// handle は構築済みのバックエンド接続。
type handle struct {
	auth   AuthAPI
	bucket storage.Bucket
	urls   storage.URLBuilder
}

// Client はBackend Access Moduleの実装。
// 1つのClientは1人の管理者（1つのブラウザセッションまたはCLI）に対応する。
type Client struct {
	opts     Options
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	initOnce sync.Once
	h        *handle
	initErr  error

	// refreshMu は同じリフレッシュトークンでの同時更新を防ぐ
	refreshMu sync.Mutex

	mu           sync.Mutex
	restored     bool
	session      *model.AuthSession
	listeners    map[uint64]AuthListener
	nextListener uint64
	refreshTimer *time.Timer
	closed       bool
}

// NewClient はClientを生成する。ハンドルの構築は最初の操作まで遅延する。
func NewClient(opts Options) *Client {
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage()
	}
	if opts.StorageKey == "" {
		opts.StorageKey = DefaultStorageKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Client{
		opts:      opts,
		logger:    logger,
		recorder:  recorder,
		now:       time.Now,
		listeners: make(map[uint64]AuthListener),
	}
}

// handle は共有ハンドルを返す。構築は1回だけ試行し、失敗した場合は以後もConfigUnavailableを返す。
func (c *Client) handle(ctx context.Context) (*handle, error) {
	c.initOnce.Do(func() {
		// 最初の呼び出し元のキャンセルで永続的な失敗にならないよう切り離す
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initTimeout)
		defer cancel()

		c.h, c.initErr = c.buildHandle(ctx)
		if c.initErr != nil {
			c.logger.Error("backend client initialization failed",
				slog.String("storage_key", c.opts.StorageKey),
				slog.String("error", c.initErr.Error()),
			)
		}
	})
	if c.initErr != nil {
		return nil, model.NewConfigUnavailableError(c.initErr)
	}
	return c.h, nil
}

func (c *Client) buildHandle(ctx context.Context) (*handle, error) {
	if c.opts.Source == nil {
		return nil, ErrConfigNotFound
	}
	settings, err := c.opts.Source.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load backend settings: %w", err)
	}

	var authAPI AuthAPI
	if c.opts.NewAuth != nil {
		authAPI = c.opts.NewAuth(settings)
	} else {
		authAPI = auth.NewClient(auth.Config{URL: settings.URL, AnonKey: settings.Key, HTTPClient: c.opts.HTTPClient})
	}

	var bucket storage.Bucket
	if c.opts.NewBucket != nil {
		bucket, err = c.opts.NewBucket(settings, c)
	} else {
		bucket, err = defaultBucket(settings, c, c.opts.HTTPClient)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &handle{
		auth:   authAPI,
		bucket: bucket,
		urls:   storage.NewURLBuilder(settings.URL, settings.PublicBaseURL, settings.Bucket),
	}, nil
}

// defaultBucket はS3資格情報があればS3互換API、なければストレージREST APIを使う。
func defaultBucket(s *Settings, tokens storage.TokenSource, httpClient *http.Client) (storage.Bucket, error) {
	if s.S3 != nil {
		cfg := *s.S3
		if cfg.Bucket == "" {
			cfg.Bucket = s.Bucket
		}
		return storage.NewS3Bucket(cfg)
	}
	return storage.NewRESTBucket(storage.RESTConfig{
		URL:        s.URL,
		AnonKey:    s.Key,
		Bucket:     s.Bucket,
		HTTPClient: httpClient,
	}, tokens), nil
}

// OnAuthStateChange はリスナーを登録し、登録解除関数を返す。登録解除は何度呼んでもよい。
func (c *Client) OnAuthStateChange(fn AuthListener) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// GetSession は現在のセッションを返す。サインインしていない場合はnilを返す。
// アクセストークンが期限切れの場合はリフレッシュトークンで更新する。
func (c *Client) GetSession(ctx context.Context) (*model.AuthSession, error) {
	h, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	session, err := c.currentSession(ctx, h)
	if err != nil {
		return nil, model.NewBackendOperationError(err)
	}
	return session, nil
}

// GetCurrentAdmin はサーバーに問い合わせて現在の管理者ユーザーを返す。
// セッションがない、またはトークンが拒否された場合はnilを返す。
func (c *Client) GetCurrentAdmin(ctx context.Context) (*model.User, error) {
	h, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	user, err := c.currentAdmin(ctx, h)
	if err != nil {
		return nil, model.NewBackendOperationError(err)
	}
	return user, nil
}

// AccessToken はストレージ呼び出し用のアクセストークンを返す。storage.TokenSourceを実装する。
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	h, err := c.handle(ctx)
	if err != nil {
		return "", err
	}
	session, err := c.currentSession(ctx, h)
	if err != nil {
		return "", model.NewBackendOperationError(err)
	}
	if session == nil {
		return "", model.NewAuthRequiredError()
	}
	return session.AccessToken, nil
}

// SignInAdmin はメールアドレスとパスワードでサインインする。
// 成功するとセッションを永続化し、リスナーにSIGNED_INを通知する。
func (c *Client) SignInAdmin(ctx context.Context, email, password string) (*model.AuthSession, error) {
	h, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}

	session, err := h.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		c.recorder.RecordAuthEvent("SIGN_IN_FAILED")
		var authErr *auth.Error
		if errors.As(err, &authErr) && authErr.Status < http.StatusInternalServerError {
			return nil, model.NewInvalidCredentialsError(authErr.Message)
		}
		return nil, model.NewBackendOperationError(err)
	}

	c.mu.Lock()
	c.restored = true
	c.mu.Unlock()
	c.setSession(ctx, session, EventSignedIn)
	return session, nil
}

// SignOutAdmin はサインアウトする。リモートの失効に失敗してもローカルのセッションは破棄し、
// リスナーにSIGNED_OUTを通知する。
func (c *Client) SignOutAdmin(ctx context.Context) error {
	h, err := c.handle(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	var remoteErr error
	if session != nil {
		if err := h.auth.SignOut(ctx, session.AccessToken); err != nil {
			var authErr *auth.Error
			// 既に失効したトークンは成功とみなす
			if !errors.As(err, &authErr) || authErr.Status >= http.StatusInternalServerError {
				remoteErr = err
			}
		}
	}

	c.clearSession(ctx, true)

	if remoteErr != nil {
		c.logger.Warn("remote sign out failed",
			slog.String("storage_key", c.opts.StorageKey),
			slog.String("error", remoteErr.Error()),
		)
		return model.NewBackendOperationError(remoteErr)
	}
	return nil
}

// UploadImage は画像を「<エポックミリ秒>-<name>」のパスで格納し、そのパスを返す。
func (c *Client) UploadImage(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error) {
	h, err := c.handle(ctx)
	if err != nil {
		return "", err
	}

	session, err := c.currentSession(ctx, h)
	if err != nil {
		return "", model.NewBackendOperationError(err)
	}
	if session == nil {
		return "", model.NewAuthRequiredError()
	}

	path := fmt.Sprintf("%d-%s", c.now().UnixMilli(), name)
	if err := h.bucket.Upload(ctx, path, r, size, contentType); err != nil {
		c.recorder.RecordStorageOperation("upload", "error")
		return "", asBackendError(err)
	}
	c.recorder.RecordStorageOperation("upload", "success")
	return path, nil
}

// ListAllImages はバケット内の画像を名前の昇順で最大1000件返す。
// 呼び出し時にサーバーへ管理者を問い合わせ、セッションがなければストレージを呼ばずにAuthRequiredを返す。
func (c *Client) ListAllImages(ctx context.Context) ([]model.ObjectInfo, error) {
	h, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.requireAdmin(ctx, h); err != nil {
		return nil, err
	}

	objects, err := h.bucket.List(ctx, storage.ListLimit)
	if err != nil {
		c.recorder.RecordStorageOperation("list", "error")
		return nil, asBackendError(err)
	}
	c.recorder.RecordStorageOperation("list", "success")
	return objects, nil
}

// GetBatchImageURLs はpathsと同じ長さ・同じ順序で公開URLを返す。ネットワークアクセスは行わない。
func (c *Client) GetBatchImageURLs(ctx context.Context, paths []string) ([]string, error) {
	h, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	return h.urls.URLs(paths), nil
}

// ImageURL は設定の取得元に1件の公開URLを問い合わせる。
func (c *Client) ImageURL(ctx context.Context, path string) (string, error) {
	if c.opts.Source == nil {
		return "", model.NewConfigUnavailableError(ErrConfigNotFound)
	}
	u, err := c.opts.Source.ImageURL(ctx, path)
	if err != nil {
		return "", model.NewBackendOperationError(err)
	}
	return u, nil
}

// DeleteImage はオブジェクトを1件削除する。存在しないオブジェクトの削除は失敗として扱う。
// 呼び出し時にサーバーへ管理者を問い合わせ、セッションがなければストレージを呼ばずにAuthRequiredを返す。
func (c *Client) DeleteImage(ctx context.Context, path string) error {
	h, err := c.handle(ctx)
	if err != nil {
		return err
	}
	if err := c.requireAdmin(ctx, h); err != nil {
		return err
	}

	if err := h.bucket.Remove(ctx, path); err != nil {
		c.recorder.RecordStorageOperation("delete", "error")
		return asBackendError(err)
	}
	c.recorder.RecordStorageOperation("delete", "success")
	return nil
}

// Close は自動更新タイマーを停止する。以後セッションの自動更新は行わない。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

// requireAdmin はサーバーに管理者を問い合わせ、確認できなければAuthRequiredを返す。
func (c *Client) requireAdmin(ctx context.Context, h *handle) error {
	user, err := c.currentAdmin(ctx, h)
	if err != nil || user == nil {
		apiErr := model.NewAuthRequiredError()
		apiErr.Err = err
		return apiErr
	}
	return nil
}

func (c *Client) currentAdmin(ctx context.Context, h *handle) (*model.User, error) {
	session, err := c.currentSession(ctx, h)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	user, err := h.auth.GetUser(ctx, session.AccessToken)
	if err != nil {
		var authErr *auth.Error
		if errors.As(err, &authErr) && authErr.Status < http.StatusInternalServerError {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// currentSession は必要に応じて永続化先から復元し、期限切れであれば更新したセッションを返す。
func (c *Client) currentSession(ctx context.Context, h *handle) (*model.AuthSession, error) {
	c.mu.Lock()
	if !c.restored {
		c.restored = true
		stored, err := c.opts.Storage.Load(ctx, c.opts.StorageKey)
		if err != nil {
			c.logger.Warn("failed to restore auth session",
				slog.String("storage_key", c.opts.StorageKey),
				slog.String("error", err.Error()),
			)
		} else if stored != nil {
			c.session = stored
			c.scheduleRefreshLocked()
		}
	}
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return nil, nil
	}
	if !session.Expired(c.now()) {
		return session, nil
	}
	return c.refresh(ctx, h, session)
}

// refresh はセッションを更新する。staleが既に別の呼び出しで更新済みであればその結果を返す。
// 認証APIが更新を拒否した場合はサインアウトしてnilを返す。
func (c *Client) refresh(ctx context.Context, h *handle, stale *model.AuthSession) (*model.AuthSession, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	current := c.session
	c.mu.Unlock()

	if current == nil {
		return nil, nil
	}
	if current != stale && !current.Expired(c.now()) {
		return current, nil
	}

	next, err := h.auth.RefreshSession(ctx, current.RefreshToken)
	if err != nil {
		var authErr *auth.Error
		if errors.As(err, &authErr) && authErr.Status < http.StatusInternalServerError {
			c.logger.Info("refresh token rejected, signing out",
				slog.String("storage_key", c.opts.StorageKey),
				slog.String("error", err.Error()),
			)
			c.clearSession(ctx, false)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	c.setSession(ctx, next, EventTokenRefreshed)
	return next, nil
}

// autoRefresh はタイマーから呼ばれる。更新に失敗した場合はサインアウトする。
func (c *Client) autoRefresh(stale *model.AuthSession) {
	c.mu.Lock()
	closed := c.closed
	h := c.h
	c.mu.Unlock()
	if closed || h == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if _, err := c.refresh(ctx, h, stale); err != nil {
		c.logger.Warn("automatic token refresh failed, signing out",
			slog.String("storage_key", c.opts.StorageKey),
			slog.String("error", err.Error()),
		)
		c.clearSession(ctx, false)
	}
}

// setSession はセッションを置き換えて永続化し、リスナーに通知する。
func (c *Client) setSession(ctx context.Context, session *model.AuthSession, event AuthEvent) {
	c.mu.Lock()
	c.session = session
	c.scheduleRefreshLocked()
	listeners := c.snapshotListenersLocked()
	c.mu.Unlock()

	if err := c.opts.Storage.Save(ctx, c.opts.StorageKey, session); err != nil {
		c.logger.Warn("failed to persist auth session",
			slog.String("storage_key", c.opts.StorageKey),
			slog.String("error", err.Error()),
		)
	}
	c.emit(listeners, event, session)
}

// clearSession はセッションを破棄する。alwaysNotifyがfalseの場合はセッションがあったときだけ通知する。
func (c *Client) clearSession(ctx context.Context, alwaysNotify bool) {
	c.mu.Lock()
	had := c.session != nil
	c.session = nil
	c.restored = true
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	listeners := c.snapshotListenersLocked()
	c.mu.Unlock()

	if err := c.opts.Storage.Remove(ctx, c.opts.StorageKey); err != nil {
		c.logger.Warn("failed to remove persisted auth session",
			slog.String("storage_key", c.opts.StorageKey),
			slog.String("error", err.Error()),
		)
	}
	if had || alwaysNotify {
		c.emit(listeners, EventSignedOut, nil)
	}
}

// scheduleRefreshLocked は有効期限のRefreshMargin前に自動更新するタイマーを設定する。c.muを保持して呼ぶこと。
func (c *Client) scheduleRefreshLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if !c.opts.AutoRefresh || c.session == nil || c.closed {
		return
	}
	// 期限不明のセッションは自動更新しない
	if c.session.ExpiresAt.IsZero() {
		return
	}

	delay := c.session.ExpiresAt.Sub(c.now()) - c.opts.RefreshMargin
	if delay < 0 {
		delay = 0
	}
	stale := c.session
	c.refreshTimer = time.AfterFunc(delay, func() { c.autoRefresh(stale) })
}

func (c *Client) snapshotListenersLocked() []AuthListener {
	listeners := make([]AuthListener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

// emit はロックの外でリスナーに通知する。
func (c *Client) emit(listeners []AuthListener, event AuthEvent, session *model.AuthSession) {
	c.recorder.RecordAuthEvent(string(event))
	c.logger.Debug("auth state changed",
		slog.String("storage_key", c.opts.StorageKey),
		slog.String("event", string(event)),
	)
	for _, fn := range listeners {
		fn(event, session)
	}
}

// asBackendError はストレージのエラーをBackendOperationFailedに変換する。
// 既に分類済みのエラー（トークン取得時のAuthRequired等）はそのまま返す。
func asBackendError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return model.NewBackendOperationError(err)
}

// compile-time interface check
var _ storage.TokenSource = (*Client)(nil)
