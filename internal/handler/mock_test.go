package handler

import (
	"context"
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/mdbsite/internal/admin"
	"github.com/hitoshi/mdbsite/internal/auth"
	"github.com/hitoshi/mdbsite/internal/backend"
	"github.com/hitoshi/mdbsite/internal/contact"
	"github.com/hitoshi/mdbsite/internal/middleware"
	"github.com/hitoshi/mdbsite/internal/model"
	"github.com/hitoshi/mdbsite/internal/roster"
	"github.com/hitoshi/mdbsite/internal/storage"
)

const (
	testSiteOrigin = "http://localhost:8080"
	testBackendURL = "https://project.supabase.co"
	adminEmail     = "admin@example.edu"
	adminPassword  = "correct-horse"
)

// fakePages はPageBodiesのテスト用実装。
type fakePages map[string]template.HTML

func (p fakePages) Body(name string) (template.HTML, bool) {
	b, ok := p[name]
	return b, ok
}

// mockContactSubmitter はContactSubmitterのテスト用モック。
type mockContactSubmitter struct {
	submitFn func(ctx context.Context, in contact.Input) (*model.ContactSubmission, error)
}

func (m *mockContactSubmitter) Submit(ctx context.Context, in contact.Input) (*model.ContactSubmission, error) {
	return m.submitFn(ctx, in)
}

// mockHealthChecker はHealthCheckerのテスト用モック。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// mockLoginRecorder はログイン試行の結果を記録する。
type mockLoginRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *mockLoginRecorder) RecordLoginAttempt(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *mockLoginRecorder) Outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.outcomes...)
}

// fakeAuthAPI はメールアドレスとパスワードが一致すればセッションを発行する認証APIのフェイク。
type fakeAuthAPI struct {
	mu     sync.Mutex
	tokens map[string]model.User
	seq    int
}

func newFakeAuthAPI() *fakeAuthAPI {
	return &fakeAuthAPI{tokens: make(map[string]model.User)}
}

func (f *fakeAuthAPI) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error) {
	if email != adminEmail || password != adminPassword {
		return nil, &auth.Error{Status: http.StatusBadRequest, Message: "Invalid login credentials"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	token := "access-" + strings.Repeat("x", f.seq)
	user := model.User{ID: "user-1", Email: email}
	f.tokens[token] = user
	return &model.AuthSession{
		AccessToken:  token,
		RefreshToken: "refresh-" + token,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         user,
	}, nil
}

func (f *fakeAuthAPI) RefreshSession(ctx context.Context, refreshToken string) (*model.AuthSession, error) {
	return nil, &auth.Error{Status: http.StatusBadRequest, Message: "Invalid Refresh Token"}
}

func (f *fakeAuthAPI) SignOut(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, accessToken)
	return nil
}

func (f *fakeAuthAPI) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.tokens[accessToken]
	if !ok {
		return nil, &auth.Error{Status: http.StatusUnauthorized, Message: "invalid JWT"}
	}
	return &user, nil
}

// fakeBucket はメモリ上のバケット。
type fakeBucket struct {
	mu        sync.Mutex
	objects   map[string]string // path → content type
	failPaths map[string]bool
}

func newFakeBucket(paths ...string) *fakeBucket {
	b := &fakeBucket{objects: make(map[string]string), failPaths: make(map[string]bool)}
	for _, p := range paths {
		b.objects[p] = "image/png"
	}
	return b
}

func (b *fakeBucket) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[path]; ok {
		return errors.New("The resource already exists")
	}
	b.objects[path] = contentType
	return nil
}

func (b *fakeBucket) List(ctx context.Context, limit int) ([]model.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.objects))
	for name := range b.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]model.ObjectInfo, 0, len(names))
	for _, name := range names {
		out = append(out, model.ObjectInfo{Name: name, ContentType: b.objects[name]})
	}
	return out, nil
}

func (b *fakeBucket) Remove(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPaths[path] {
		return errors.New("permission denied")
	}
	if _, ok := b.objects[path]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(b.objects, path)
	return nil
}

func (b *fakeBucket) Has(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok
}

func (b *fakeBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// testEnv はテスト用に組み立てたルーターと依存関係。
type testEnv struct {
	router   http.Handler
	bucket   *fakeBucket
	registry *admin.Registry
	contact  *mockContactSubmitter
	logins   *mockLoginRecorder
	limiter  *middleware.RateLimiter
}

type testEnvOptions struct {
	settings backend.Settings
	roster   roster.Service
	objects  []string
	health   HealthChecker
}

func newTestEnv(t *testing.T, opts testEnvOptions) *testEnv {
	t.Helper()

	if opts.settings.URL == "" && opts.settings.Key == "" {
		opts.settings = backend.Settings{URL: testBackendURL, Key: "anon-key"}
	}
	if opts.roster == nil {
		opts.roster = roster.NewStaticService()
	}

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	bucket := newFakeBucket(opts.objects...)
	authAPI := newFakeAuthAPI()
	source := backend.NewStaticConfigSource(opts.settings)
	registry := admin.NewRegistry(admin.Options{
		Source:        source,
		Storage:       backend.NewMemoryStorage(),
		MaxUploadSize: 1 << 20,
		NewAuth:       func(*backend.Settings) backend.AuthAPI { return authAPI },
		NewBucket: func(*backend.Settings, storage.TokenSource) (storage.Bucket, error) {
			return bucket, nil
		},
	})
	t.Cleanup(registry.Close)

	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(100, 100), nil)
	t.Cleanup(limiter.Stop)

	env := &testEnv{
		bucket:   bucket,
		registry: registry,
		contact: &mockContactSubmitter{submitFn: func(ctx context.Context, in contact.Input) (*model.ContactSubmission, error) {
			return &model.ContactSubmission{ID: "sub-1", Name: in.Name, Email: in.Email, Subject: in.Subject, Message: in.Message}, nil
		}},
		logins:  &mockLoginRecorder{},
		limiter: limiter,
	}

	env.router = NewRouter(&RouterDeps{
		HealthChecker: opts.health,
		RateLimiter:   limiter,
		SiteOrigin:    testSiteOrigin,
		MaxUploadSize: 1 << 20,
		Renderer:      renderer,
		Pages: fakePages{
			"home":     "<p>Welcome to MDB</p>",
			"about":    "<p>About MDB</p>",
			"services": "<p>We build apps</p>",
			"projects": "<p>Our work</p>",
			"contact":  "<p>Get in touch</p>",
		},
		Roster:        opts.roster,
		ConfigSource:  source,
		Contact:       env.contact,
		Consoles:      registry,
		LoginRecorder: env.logins,
	})
	return env
}

var csrfFieldPattern = regexp.MustCompile(`name="csrf_token" value="([0-9a-f]+)"`)

// browser はCookieを保持してルーターにリクエストを送るテスト用クライアント。
type browser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
	csrf    string
}

func newBrowser(t *testing.T, h http.Handler) *browser {
	return &browser{t: t, handler: h, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	req.RemoteAddr = "192.0.2.10:5555"
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	b.handler.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	if m := csrfFieldPattern.FindStringSubmatch(w.Body.String()); m != nil {
		b.csrf = m[1]
	}
	return w
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	if form == nil {
		form = url.Values{}
	}
	if form.Get(middleware.CSRFFieldName) == "" {
		form.Set(middleware.CSRFFieldName, b.csrf)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

// signIn はログイン画面を開いてからサインインし、ダッシュボードへのリダイレクトを確認する。
func (b *browser) signIn() {
	b.t.Helper()
	b.get("/admin-login")
	w := b.postForm("/admin-login", url.Values{"email": {adminEmail}, "password": {adminPassword}})
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/admin-dashboard" {
		b.t.Fatalf("sign in: status = %d, location = %q, body = %s", w.Code, w.Header().Get("Location"), w.Body.String())
	}
}
