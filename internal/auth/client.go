// Package auth はバックエンドの認証API（メール/パスワード認証、トークン更新、ログアウト、ユーザー取得）の
// クライアントを提供する。
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/mdbsite/internal/model"
)

const defaultTimeout = 10 * time.Second

// Config は認証APIクライアントの設定。
type Config struct {
	URL     string // バックエンドのベースURL（例: https://xxxx.supabase.co）
	AnonKey string // 公開APIキー

	// テスト用にオーバーライド可能
	HTTPClient *http.Client
}

// Client は認証APIのHTTPクライアント。
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	now        func() time.Time
}

// Error は認証APIが返したエラー。Messageはバックエンドのメッセージをそのまま保持する。
type Error struct {
	Status  int
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return e.Message
}

// NewClient はClientを生成する。
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		anonKey:    cfg.AnonKey,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

// userResponse はユーザーエンドポイントのレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// errorResponse はエラーレスポンス。エンドポイントによってフィールド名が異なる。
type errorResponse struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// SignInWithPassword はメールアドレスとパスワードでサインインし、セッションを返す。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error) {
	body := map[string]string{"email": email, "password": password}
	return c.token(ctx, "password", body)
}

// RefreshSession はリフレッシュトークンで新しいセッションを取得する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*model.AuthSession, error) {
	body := map[string]string{"refresh_token": refreshToken}
	return c.token(ctx, "refresh_token", body)
}

// SignOut はアクセストークンを失効させる。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	resp, err := c.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// GetUser はアクセストークンに対応するユーザーをサーバーに問い合わせる。
// トークンが無効または失効している場合はエラーを返す。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var u userResponse
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("empty id in user response")
	}
	return &model.User{ID: u.ID, Email: u.Email, Role: u.Role}, nil
}

// token はトークンエンドポイントを呼び出し、レスポンスをセッションに変換する。
func (c *Client) token(ctx context.Context, grantType string, body any) (*model.AuthSession, error) {
	resp, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type="+grantType, "", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return c.toSession(&tr), nil
}

// toSession はトークンレスポンスをセッションに変換する。
// 有効期限はexpires_at、expires_in、アクセストークンのexpクレームの順に採用する。
func (c *Client) toSession(tr *tokenResponse) *model.AuthSession {
	session := &model.AuthSession{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		User:         model.User{ID: tr.User.ID, Email: tr.User.Email, Role: tr.User.Role},
	}

	switch {
	case tr.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		session.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		if claims, err := ParseClaims(tr.AccessToken); err == nil && claims.ExpiresAt != nil {
			session.ExpiresAt = claims.ExpiresAt.Time
		}
	}

	// userが省略された場合はクレームから補完する
	if session.User.ID == "" {
		if claims, err := ParseClaims(tr.AccessToken); err == nil {
			session.User = claims.User()
		}
	}

	return session
}

// do はリクエストを送信し、2xx以外のレスポンスを*Errorに変換する。
func (c *Client) do(ctx context.Context, method, path, accessToken string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

// decodeError はエラーレスポンスから表示用メッセージを取り出す。
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil {
		for _, msg := range []string{er.Msg, er.ErrorDescription, er.Message, er.Error} {
			if msg != "" {
				return &Error{Status: resp.StatusCode, Message: msg}
			}
		}
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}
