// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// エラー種別。errors.Isで判定できるよう、APIErrorはKindをUnwrapで返す。
var (
	// ErrConfigUnavailable はバックエンド設定を取得できず、クライアントハンドルを構築できないことを示す。
	// そのクライアントの生存期間中は回復しない。
	ErrConfigUnavailable = errors.New("config unavailable")
	// ErrAuthRequired は有効なセッションなしで認証必須の操作を呼び出したことを示す。
	ErrAuthRequired = errors.New("authentication required")
	// ErrBackendOperationFailed はリモートバックエンドが操作を拒否したことを示す。
	ErrBackendOperationFailed = errors.New("backend operation failed")
	// ErrValidationFailed は入力検証エラーを示す。
	ErrValidationFailed = errors.New("validation failed")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ（ユーザーにそのまま表示する）
	Category string // カテゴリ: auth, validation, storage, system
	Action   string // ユーザー向け対処方法

	Kind error // エラー種別（ErrAuthRequired 等）
	Err  error // 原因となったエラー
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap はエラー種別と原因の両方をerrors.Is/errors.Asの探索対象にする。
func (e *APIError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// 定義済みエラーコード
const (
	ErrCodeConfigUnavailable    = "CONFIG_UNAVAILABLE"
	ErrCodeAuthRequired         = "AUTH_REQUIRED"
	ErrCodeBackendFailed        = "BACKEND_OPERATION_FAILED"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeStaticRoster         = "STATIC_ROSTER"
	ErrCodeMemberNotFound       = "MEMBER_NOT_FOUND"
	ErrCodeUploadTooLarge       = "UPLOAD_TOO_LARGE"
	ErrCodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
)

// NewConfigUnavailableError はバックエンド設定の取得失敗エラーを生成する。
func NewConfigUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeConfigUnavailable,
		Message:  "Unable to initialize backend client",
		Category: "system",
		Action:   "Reload the page. If the problem persists, check the server configuration.",
		Kind:     ErrConfigUnavailable,
		Err:      cause,
	}
}

// NewAuthRequiredError は未認証エラーを生成する。
func NewAuthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthRequired,
		Message:  "Authentication required: Please log in as admin",
		Category: "auth",
		Action:   "Sign in again from the admin login page.",
		Kind:     ErrAuthRequired,
	}
}

// NewBackendOperationError はバックエンド操作の失敗エラーを生成する。
// メッセージにはバックエンドのエラーメッセージをそのまま使う。
func NewBackendOperationError(cause error) *APIError {
	msg := "Unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return &APIError{
		Code:     ErrCodeBackendFailed,
		Message:  msg,
		Category: "storage",
		Action:   "Try the action again. Use Refresh to reload the current state.",
		Kind:     ErrBackendOperationFailed,
		Err:      cause,
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
		Action:   "Fill in every required field and submit again.",
		Kind:     ErrValidationFailed,
	}
}

// NewInvalidCredentialsError はサインイン失敗エラーを生成する。
// バックエンドのメッセージをそのまま表示する。
func NewInvalidCredentialsError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  message,
		Category: "auth",
		Action:   "Check the email address and password.",
		Kind:     ErrBackendOperationFailed,
	}
}

// NewStaticRosterError は静的名簿への変更操作エラーを生成する。
func NewStaticRosterError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeStaticRoster,
		Message:  fmt.Sprintf("Static data - cannot %s", operation),
		Category: "validation",
		Action:   "Set ROSTER_SOURCE=database to edit rosters from the dashboard.",
		Kind:     ErrValidationFailed,
	}
}

// NewMemberNotFoundError は名簿メンバーが見つからない場合のエラーを生成する。
func NewMemberNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("Member not found: %s", id),
		Category: "validation",
		Action:   "Refresh the dashboard and try again.",
		Kind:     ErrValidationFailed,
	}
}

// NewUploadTooLargeError はアップロードサイズ超過エラーを生成する。
func NewUploadTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodeUploadTooLarge,
		Message:  fmt.Sprintf("File exceeds the upload limit of %d MB", limit/(1<<20)),
		Category: "validation",
		Action:   "Resize or compress the image before uploading.",
		Kind:     ErrValidationFailed,
	}
}

// NewUnsupportedMediaTypeError は画像以外のファイルのアップロードエラーを生成する。
func NewUnsupportedMediaTypeError(contentType string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedMediaType,
		Message:  fmt.Sprintf("Unsupported file type: %s", contentType),
		Category: "validation",
		Action:   "Upload PNG, JPG or GIF images.",
		Kind:     ErrValidationFailed,
	}
}

// DisplayMessage はエラーを画面表示用の文字列に変換する。
// APIErrorであればそのメッセージを、それ以外はerror.Error()を返す。
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
