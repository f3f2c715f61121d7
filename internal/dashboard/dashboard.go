// Package dashboard は管理ダッシュボードの画像管理フローを提供する。
//
// 表示リストとパスから公開URLへのキャッシュはコンソールごとに保持し、
// サインアウトで破棄する。削除はバックエンドの成功を確認してから表示に反映する。
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/mdbsite/internal/model"
	"github.com/hitoshi/mdbsite/internal/session"
)

// LoginPath は未認証時の遷移先。
const LoginPath = "/admin-login"

// DefaultBulkDeleteConcurrency は一括削除の既定の同時実行数。
const DefaultBulkDeleteConcurrency = 8

// Backend はダッシュボードが使う画像操作。*backend.Clientが実装する。
type Backend interface {
	ListAllImages(ctx context.Context) ([]model.ObjectInfo, error)
	GetBatchImageURLs(ctx context.Context, paths []string) ([]string, error)
	ImageURL(ctx context.Context, path string) (string, error)
	UploadImage(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
	DeleteImage(ctx context.Context, path string) error
}

// Sessions はダッシュボードが購読するセッション状態。*session.Storeが実装する。
type Sessions interface {
	Snapshot() session.State
	Subscribe(fn session.Listener) func()
}

// Options はDashboardの設定。
type Options struct {
	MaxUploadSize         int64
	BulkDeleteConcurrency int
	Logger                *slog.Logger
}

// FlashKind は画面に表示するメッセージの種類。
type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
)

// Flash は直近の操作結果のメッセージ。
type Flash struct {
	Kind FlashKind
	Text string
}

// Status はダッシュボードの状態表示。
type Status struct {
	Authenticated bool
	Email         string
	ImageCount    int
	CacheSize     int
	Loading       bool
	LastLoadedAt  time.Time
}

// View はテンプレートに渡す表示内容のスナップショット。
type View struct {
	Images []model.StoredImage
	Flash  *Flash
	Status Status
}

// Dashboard は1つの管理コンソールの画像管理状態を保持する。
type Dashboard struct {
	backend  Backend
	sessions Sessions
	opts     Options
	logger   *slog.Logger

	loadMu sync.Mutex

	mu           sync.Mutex
	images       []model.StoredImage
	cache        map[string]string
	needsLoad    bool
	loading      bool
	lastLoadedAt time.Time
	flash        *Flash
	unsubscribe  func()
}

// New はDashboardを生成し、セッション状態の購読を開始する。
func New(b Backend, sessions Sessions, opts Options) *Dashboard {
	if opts.BulkDeleteConcurrency <= 0 {
		opts.BulkDeleteConcurrency = DefaultBulkDeleteConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dashboard{
		backend:   b,
		sessions:  sessions,
		opts:      opts,
		logger:    logger,
		cache:     make(map[string]string),
		needsLoad: true,
	}
	d.unsubscribe = sessions.Subscribe(d.onSessionChange)
	return d
}

// onSessionChange はサインインで次回の表示時に一覧を読み込むよう印を付け、
// サインアウトで表示リストとキャッシュを破棄する。トークン更新では何もしない。
func (d *Dashboard) onSessionChange(st session.State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st.Authenticated() {
		return
	}
	d.images = nil
	d.cache = make(map[string]string)
	d.needsLoad = true
	d.flash = nil
}

// Mount はダッシュボードの表示前に呼ぶ。
// 未認証であればバックエンドに問い合わせずLoginPathを返す。
// 認証済みでまだ一覧を読み込んでいなければ1回だけ一括読み込みを行う。
func (d *Dashboard) Mount(ctx context.Context) (string, error) {
	if !d.sessions.Snapshot().Authenticated() {
		return LoginPath, nil
	}

	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	d.mu.Lock()
	needsLoad := d.needsLoad
	d.mu.Unlock()
	if !needsLoad {
		return "", nil
	}
	return "", d.load(ctx)
}

// Refresh は一覧を読み込み直す。
func (d *Dashboard) Refresh(ctx context.Context) error {
	if !d.sessions.Snapshot().Authenticated() {
		return model.NewAuthRequiredError()
	}
	d.loadMu.Lock()
	defer d.loadMu.Unlock()
	return d.load(ctx)
}

// load は一覧取得、一括URL導出、結合を行い、表示リストとキャッシュを1回で置き換える。loadMuを保持して呼ぶこと。
func (d *Dashboard) load(ctx context.Context) error {
	d.mu.Lock()
	d.loading = true
	d.mu.Unlock()

	images, err := d.fetchImages(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = false
	if err != nil {
		d.flash = &Flash{Kind: FlashError, Text: "Failed to load existing images: " + model.DisplayMessage(err)}
		d.logger.Warn("failed to load images",
			slog.String("error", err.Error()),
		)
		return err
	}

	cache := make(map[string]string, len(images))
	for _, img := range images {
		cache[img.Path] = img.URL
	}
	d.images = images
	d.cache = cache
	d.needsLoad = false
	d.lastLoadedAt = time.Now()
	d.logger.Info("images loaded",
		slog.Int("count", len(images)),
	)
	return nil
}

func (d *Dashboard) fetchImages(ctx context.Context) ([]model.StoredImage, error) {
	objects, err := d.backend.ListAllImages(ctx)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return []model.StoredImage{}, nil
	}

	names := make([]string, len(objects))
	for i, o := range objects {
		names[i] = o.Name
	}
	urls, err := d.backend.GetBatchImageURLs(ctx, names)
	if err != nil {
		return nil, err
	}
	if len(urls) != len(names) {
		return nil, fmt.Errorf("batch url count mismatch: got %d, want %d", len(urls), len(names))
	}

	images := make([]model.StoredImage, len(names))
	for i, name := range names {
		images[i] = model.StoredImage{Path: name, URL: urls[i], Name: name}
	}
	return images, nil
}

// Upload は画像を1件アップロードし、表示リストの末尾に1件追加する。一覧の再取得は行わない。
// URLはキャッシュになければ設定の取得元に問い合わせ、キャッシュに書き戻す。
func (d *Dashboard) Upload(ctx context.Context, name string, r io.Reader, size int64, contentType string) (model.StoredImage, error) {
	img, err := d.upload(ctx, name, r, size, contentType)
	if err != nil {
		d.setFlash(FlashError, "Upload failed: "+model.DisplayMessage(err))
		return model.StoredImage{}, err
	}
	d.setFlash(FlashSuccess, "Successfully uploaded "+name)
	return img, nil
}

func (d *Dashboard) upload(ctx context.Context, name string, r io.Reader, size int64, contentType string) (model.StoredImage, error) {
	if name == "" {
		return model.StoredImage{}, model.NewValidationError("No file selected")
	}
	if !strings.HasPrefix(contentType, "image/") {
		return model.StoredImage{}, model.NewUnsupportedMediaTypeError(contentType)
	}
	if d.opts.MaxUploadSize > 0 && size > d.opts.MaxUploadSize {
		return model.StoredImage{}, model.NewUploadTooLargeError(d.opts.MaxUploadSize)
	}

	path, err := d.backend.UploadImage(ctx, name, r, size, contentType)
	if err != nil {
		return model.StoredImage{}, err
	}

	url, ok := d.CachedURL(path)
	if !ok {
		url, err = d.backend.ImageURL(ctx, path)
		if err != nil {
			return model.StoredImage{}, err
		}
		if url == "" {
			return model.StoredImage{}, model.NewBackendOperationError(errors.New("Failed to generate image URL"))
		}
	}

	img := model.StoredImage{Path: path, URL: url, Name: name}
	d.mu.Lock()
	d.cache[path] = url
	d.images = append(d.images, img)
	d.mu.Unlock()

	d.logger.Info("image uploaded",
		slog.String("path", path),
		slog.Int64("size", size),
	)
	return img, nil
}

// Delete は画像を1件削除する。バックエンドの削除が成功してから表示リストとキャッシュから除く。
func (d *Dashboard) Delete(ctx context.Context, path string) error {
	if err := d.backend.DeleteImage(ctx, path); err != nil {
		d.setFlash(FlashError, "Failed to delete image: "+model.DisplayMessage(err))
		d.logger.Warn("failed to delete image",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return err
	}

	d.mu.Lock()
	d.removeLocked(map[string]struct{}{path: {}})
	d.mu.Unlock()
	d.setFlash(FlashSuccess, "Deleted "+path)
	return nil
}

// BulkDeleteError は一括削除の一部が失敗したことを示す。
// 成功した削除は取り消されないため、Succeededのオブジェクトはバケットから消えている。
type BulkDeleteError struct {
	Succeeded []string
	Failed    map[string]error
}

// Error はerrorインターフェースを実装する。
func (e *BulkDeleteError) Error() string {
	return fmt.Sprintf("%d of %d deletions failed", len(e.Failed), len(e.Failed)+len(e.Succeeded))
}

// FailedPaths は失敗したパスを入力順で返す。
func (e *BulkDeleteError) FailedPaths(order []string) []string {
	var paths []string
	for _, p := range order {
		if _, ok := e.Failed[p]; ok {
			paths = append(paths, p)
		}
	}
	return paths
}

// BulkDelete はpathsをすべて並行に削除し、全件の完了を待つ。
// 全件成功した場合のみ表示リストとキャッシュから除く。1件でも失敗した場合は表示リストを変更せず、
// 成功・失敗したパスを持つ*BulkDeleteErrorを返す。
func (d *Dashboard) BulkDelete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	var (
		g         errgroup.Group
		mu        sync.Mutex
		succeeded []string
		failed    = make(map[string]error)
	)
	g.SetLimit(d.opts.BulkDeleteConcurrency)
	for _, p := range paths {
		g.Go(func() error {
			err := d.backend.DeleteImage(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[p] = err
			} else {
				succeeded = append(succeeded, p)
			}
			// 他の削除を止めないよう常にnilを返す
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		bulkErr := &BulkDeleteError{Succeeded: orderLike(paths, succeeded), Failed: failed}
		first := failed[bulkErr.FailedPaths(paths)[0]]
		d.setFlash(FlashError, "Failed to clear all images: "+model.DisplayMessage(first))
		d.logger.Warn("bulk delete partially failed",
			slog.Int("succeeded", len(succeeded)),
			slog.Int("failed", len(failed)),
		)
		return bulkErr
	}

	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	d.mu.Lock()
	d.removeLocked(set)
	d.mu.Unlock()
	d.setFlash(FlashSuccess, fmt.Sprintf("Deleted %d images", len(paths)))
	return nil
}

// ClearAll は表示中の全画像を一括削除する。
func (d *Dashboard) ClearAll(ctx context.Context) error {
	d.mu.Lock()
	paths := make([]string, len(d.images))
	for i, img := range d.images {
		paths[i] = img.Path
	}
	d.mu.Unlock()
	return d.BulkDelete(ctx, paths)
}

func (d *Dashboard) removeLocked(paths map[string]struct{}) {
	kept := d.images[:0:0]
	for _, img := range d.images {
		if _, ok := paths[img.Path]; !ok {
			kept = append(kept, img)
		}
	}
	d.images = kept
	for p := range paths {
		delete(d.cache, p)
	}
}

// Notify は画像以外の操作（名簿の編集など）の結果を次の表示に載せる。
func (d *Dashboard) Notify(kind FlashKind, text string) {
	d.setFlash(kind, text)
}

func (d *Dashboard) setFlash(kind FlashKind, text string) {
	d.mu.Lock()
	d.flash = &Flash{Kind: kind, Text: text}
	d.mu.Unlock()
}

// Images は表示リストのコピーを返す。
func (d *Dashboard) Images() []model.StoredImage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.StoredImage(nil), d.images...)
}

// CachedURL はキャッシュ済みの公開URLを返す。
func (d *Dashboard) CachedURL(path string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.cache[path]
	return u, ok
}

// Status は状態表示を返す。
func (d *Dashboard) Status() Status {
	st := d.sessions.Snapshot()
	d.mu.Lock()
	defer d.mu.Unlock()
	status := Status{
		Authenticated: st.Authenticated(),
		ImageCount:    len(d.images),
		CacheSize:     len(d.cache),
		Loading:       d.loading,
		LastLoadedAt:  d.lastLoadedAt,
	}
	if st.User != nil {
		status.Email = st.User.Email
	}
	return status
}

// View は表示内容を返し、メッセージを消費する。
func (d *Dashboard) View() View {
	status := d.Status()
	d.mu.Lock()
	defer d.mu.Unlock()
	v := View{
		Images: append([]model.StoredImage(nil), d.images...),
		Flash:  d.flash,
		Status: status,
	}
	d.flash = nil
	return v
}

// Close はセッション状態の購読を解除し、表示リストとキャッシュを破棄する。
func (d *Dashboard) Close() {
	d.unsubscribe()
	d.mu.Lock()
	d.images = nil
	d.cache = make(map[string]string)
	d.mu.Unlock()
}

func orderLike(order, subset []string) []string {
	in := make(map[string]struct{}, len(subset))
	for _, p := range subset {
		in[p] = struct{}{}
	}
	out := make([]string, 0, len(subset))
	for _, p := range order {
		if _, ok := in[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
