package handler

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/mdbsite/internal/middleware"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type uploadFile struct {
	name        string
	contentType string
	data        []byte
}

// upload はダッシュボードのアップロードフォームと同じmultipartリクエストを送る。
func (b *browser) upload(files ...uploadFile) *httptest.ResponseRecorder {
	b.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+f.name+`"`)
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			b.t.Fatalf("CreatePart: %v", err)
		}
		part.Write(f.data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/admin-dashboard/images?csrf_token="+url.QueryEscape(b.csrf), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return b.do(req)
}

func TestAdminDashboard_Unauthenticated_RedirectsToLogin(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})

	w := newBrowser(t, env.router).get("/admin-dashboard")

	if w.Code != http.StatusSeeOther {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/admin-login" {
		t.Errorf("Location = %q, want /admin-login", loc)
	}
}

func TestAdminLogin_Form_DoesNotCreateConsole(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)

	w := b.get("/admin-login")

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if _, ok := b.cookies[middleware.ConsoleCookieName]; ok {
		t.Error("ログイン前にコンソールCookieが設定された")
	}
	if env.registry.Len() != 0 {
		t.Errorf("コンソール数 = %d, want 0", env.registry.Len())
	}
	if b.csrf == "" {
		t.Error("ログインフォームにCSRFトークンが含まれていない")
	}
}

func TestAdminRoutes_AnonymousRequests_DoNotCreateConsoles(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})

	for i := 0; i < 50; i++ {
		w := newBrowser(t, env.router).get("/admin-dashboard")
		if w.Code != http.StatusSeeOther {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusSeeOther)
		}
		newBrowser(t, env.router).get("/admin-login")
	}

	// 形式は正しいが未知のIDのCookieでも生成しない
	b := newBrowser(t, env.router)
	b.cookies[middleware.ConsoleCookieName] = &http.Cookie{Name: middleware.ConsoleCookieName, Value: middleware.NewConsoleID()}
	if w := b.get("/admin-dashboard"); w.Code != http.StatusSeeOther {
		t.Errorf("未知のコンソールID: ステータスコード = %d, want %d", w.Code, http.StatusSeeOther)
	}

	if n := env.registry.Len(); n != 0 {
		t.Errorf("匿名リクエスト後のコンソール数 = %d, want 0", n)
	}
}

func TestAdminLogin_Success_SetsConsoleCookieAndShowsDashboard(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{objects: []string{"1700000000000-logo.png"}})
	b := newBrowser(t, env.router)

	b.signIn()
	c, ok := b.cookies[middleware.ConsoleCookieName]
	if !ok {
		t.Fatal("ログイン後にコンソールCookieが設定されていない")
	}
	if !c.HttpOnly {
		t.Error("コンソールCookieがHttpOnlyでない")
	}
	if env.registry.Len() != 1 {
		t.Errorf("コンソール数 = %d, want 1", env.registry.Len())
	}

	if got := env.logins.Outcomes(); len(got) != 1 || got[0] != "success" {
		t.Errorf("ログイン結果 = %v, want [success]", got)
	}

	w := b.get("/admin-dashboard")
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Signed in as "+adminEmail) {
		t.Error("サインイン中のメールアドレスが表示されていない")
	}
	if !strings.Contains(body, "1700000000000-logo.png") {
		t.Error("既存の画像が一覧に表示されていない")
	}
	if !strings.Contains(body, testBackendURL+"/storage/v1/object/public/images/1700000000000-logo.png") {
		t.Error("画像の公開URLが表示されていない")
	}

	// ログイン済みでログイン画面を開くとダッシュボードへ戻される
	w = b.get("/admin-login")
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/admin-dashboard" {
		t.Errorf("ログイン済みのログイン画面: status = %d, location = %q", w.Code, w.Header().Get("Location"))
	}
}

func TestAdminLogin_Again_RotatesConsole(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)

	b.signIn()
	before := b.cookies[middleware.ConsoleCookieName].Value
	b.signIn()
	after := b.cookies[middleware.ConsoleCookieName].Value

	if before == after {
		t.Error("再ログイン後にコンソールIDが変わっていない")
	}
	if env.registry.Len() != 1 {
		t.Errorf("古いコンソールが破棄されていない: コンソール数 = %d", env.registry.Len())
	}
}

func TestAdminDashboard_RestoresPersistedSession(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{objects: []string{"1-a.png"}})
	b := newBrowser(t, env.router)
	b.signIn()

	// 再起動でプロセス内のコンソールが失われても、永続化されたセッションから復元する
	env.registry.Remove(b.cookies[middleware.ConsoleCookieName].Value)

	w := b.get("/admin-dashboard")
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "1-a.png") {
		t.Error("復元後のダッシュボードに画像が表示されていない")
	}
}

func TestAdminLogin_InvalidCredentials_Returns401(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)
	b.get("/admin-login")

	w := b.postForm("/admin-login", url.Values{"email": {adminEmail}, "password": {"wrong"}})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(w.Body.String(), "Invalid login credentials") {
		t.Error("認証エラーが表示されていない")
	}
	if got := env.logins.Outcomes(); len(got) != 1 || got[0] != "failure" {
		t.Errorf("ログイン結果 = %v, want [failure]", got)
	}

	w = b.get("/admin-dashboard")
	if w.Code != http.StatusSeeOther {
		t.Errorf("失敗後のダッシュボード: ステータスコード = %d, want %d", w.Code, http.StatusSeeOther)
	}
}

func TestAdminLogin_MissingFields_Returns400(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)
	b.get("/admin-login")

	w := b.postForm("/admin-login", url.Values{"email": {adminEmail}})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "Email and password are required") {
		t.Error("入力エラーが表示されていない")
	}
	if got := env.logins.Outcomes(); len(got) != 1 || got[0] != "invalid" {
		t.Errorf("ログイン結果 = %v, want [invalid]", got)
	}
}

func TestAdminLogin_WithoutCSRF_Returns403(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)

	w := b.postForm("/admin-login", url.Values{"email": {adminEmail}, "password": {adminPassword}})

	if w.Code != http.StatusForbidden {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestAdminLogout_RedirectsAndEndsSession(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)
	b.signIn()
	b.get("/admin-dashboard")

	w := b.postForm("/admin-logout", nil)

	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/admin-login" {
		t.Fatalf("status = %d, location = %q", w.Code, w.Header().Get("Location"))
	}
	if _, ok := b.cookies[middleware.ConsoleCookieName]; ok {
		t.Error("ログアウト後もコンソールCookieが残っている")
	}
	if env.registry.Len() != 0 {
		t.Errorf("ログアウト後のコンソール数 = %d, want 0", env.registry.Len())
	}
	w = b.get("/admin-dashboard")
	if w.Code != http.StatusSeeOther {
		t.Errorf("ログアウト後のダッシュボード: ステータスコード = %d, want %d", w.Code, http.StatusSeeOther)
	}
}

func TestAdminUpload_StoresImageAndShowsFlash(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)
	b.signIn()
	b.get("/admin-dashboard")

	w := b.upload(uploadFile{name: "logo.png", contentType: "image/png", data: pngHeader})

	if w.Code != http.StatusSeeOther {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if env.bucket.Len() != 1 {
		t.Fatalf("バケットのオブジェクト数 = %d, want 1", env.bucket.Len())
	}

	body := b.get("/admin-dashboard").Body.String()
	if !strings.Contains(body, "Successfully uploaded logo.png") {
		t.Error("アップロード完了メッセージが表示されていない")
	}
	if !strings.Contains(body, "-logo.png") {
		t.Error("アップロードした画像が一覧に表示されていない")
	}
}

func TestAdminUpload_MultipleFiles(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)
	b.signIn()
	b.get("/admin-dashboard")

	b.upload(
		uploadFile{name: "a.png", contentType: "image/png", data: pngHeader},
		// Content-Typeが無くても先頭バイトから画像と判定される
		uploadFile{name: "b.png", data: pngHeader},
	)

	if env.bucket.Len() != 2 {
		t.Fatalf("バケットのオブジェクト数 = %d, want 2", env.bucket.Len())
	}
	if body := b.get("/admin-dashboard").Body.String(); !strings.Contains(body, "Successfully uploaded 2 images") {
		t.Error("複数アップロードの完了メッセージが表示されていない")
	}
}

func TestAdminUpload_RejectsNonImage(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)
	b.signIn()
	b.get("/admin-dashboard")

	b.upload(uploadFile{name: "notes.txt", contentType: "text/plain", data: []byte("hello")})

	if env.bucket.Len() != 0 {
		t.Errorf("画像以外がアップロードされた: %d件", env.bucket.Len())
	}
	if body := b.get("/admin-dashboard").Body.String(); !strings.Contains(body, "Upload failed") {
		t.Error("アップロード失敗メッセージが表示されていない")
	}
}

func TestAdminUpload_Unauthenticated_RedirectsToLogin(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)
	b.get("/admin-login")

	w := b.upload(uploadFile{name: "logo.png", contentType: "image/png", data: pngHeader})

	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/admin-login" {
		t.Errorf("status = %d, location = %q", w.Code, w.Header().Get("Location"))
	}
	if env.bucket.Len() != 0 {
		t.Error("未認証でアップロードされた")
	}
}

func TestAdminDelete_RemovesImage(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{objects: []string{"1-a.png", "2-b.png"}})
	b := newBrowser(t, env.router)
	b.signIn()
	b.get("/admin-dashboard")

	w := b.postForm("/admin-dashboard/images/delete", url.Values{"path": {"1-a.png"}})

	if w.Code != http.StatusSeeOther {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if env.bucket.Has("1-a.png") {
		t.Error("画像が削除されていない")
	}
	if !env.bucket.Has("2-b.png") {
		t.Error("対象外の画像が削除された")
	}
	if body := b.get("/admin-dashboard").Body.String(); !strings.Contains(body, "Deleted 1-a.png") {
		t.Error("削除完了メッセージが表示されていない")
	}
}

func TestAdminBulkDelete_RemovesSelected(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{objects: []string{"1-a.png", "2-b.png", "3-c.png"}})
	b := newBrowser(t, env.router)
	b.signIn()
	b.get("/admin-dashboard")

	b.postForm("/admin-dashboard/images/bulk-delete", url.Values{"path": {"1-a.png", "3-c.png"}})

	if env.bucket.Has("1-a.png") || env.bucket.Has("3-c.png") {
		t.Error("選択した画像が削除されていない")
	}
	if !env.bucket.Has("2-b.png") {
		t.Error("選択していない画像が削除された")
	}
	if body := b.get("/admin-dashboard").Body.String(); !strings.Contains(body, "Deleted 2 images") {
		t.Error("一括削除の完了メッセージが表示されていない")
	}
}

func TestAdminBulkDelete_PartialFailure_KeepsList(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{objects: []string{"1-a.png", "2-b.png"}})
	env.bucket.failPaths["2-b.png"] = true
	b := newBrowser(t, env.router)
	b.signIn()
	b.get("/admin-dashboard")

	b.postForm("/admin-dashboard/images/bulk-delete", url.Values{"path": {"1-a.png", "2-b.png"}})

	if !env.bucket.Has("2-b.png") {
		t.Error("削除に失敗した画像がバケットから消えている")
	}
	body := b.get("/admin-dashboard").Body.String()
	if !strings.Contains(body, "flash-error") {
		t.Error("一括削除の失敗が表示されていない")
	}
	if !strings.Contains(body, `value="2-b.png"`) {
		t.Error("削除に失敗した画像が一覧から消えている")
	}
}

func TestAdminClear_RemovesAll(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{objects: []string{"1-a.png", "2-b.png"}})
	b := newBrowser(t, env.router)
	b.signIn()
	b.get("/admin-dashboard")

	b.postForm("/admin-dashboard/images/clear", nil)

	if env.bucket.Len() != 0 {
		t.Errorf("バケットのオブジェクト数 = %d, want 0", env.bucket.Len())
	}
	if body := b.get("/admin-dashboard").Body.String(); !strings.Contains(body, "No images uploaded yet.") {
		t.Error("全削除後に一覧が空になっていない")
	}
}

func TestAdminRoster_StaticRosterRejectsEdits(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)
	b.signIn()
	b.get("/admin-dashboard")

	w := b.postForm("/admin-dashboard/roster/members", url.Values{"name": {"Ada"}, "title": {"Developer"}})

	if w.Code != http.StatusSeeOther {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if body := b.get("/admin-dashboard").Body.String(); !strings.Contains(body, "Static data - cannot add members") {
		t.Error("静的名簿の編集エラーが表示されていない")
	}
}

func TestAdminRoster_UnknownKind(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	b := newBrowser(t, env.router)
	b.signIn()
	b.get("/admin-dashboard")

	b.postForm("/admin-dashboard/roster/alumni", url.Values{"name": {"Ada"}})

	if body := b.get("/admin-dashboard").Body.String(); !strings.Contains(body, "Unknown roster") {
		t.Error("不明な名簿のエラーが表示されていない")
	}
}
