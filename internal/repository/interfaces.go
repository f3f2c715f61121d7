// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/mdbsite/internal/model"
)

// ErrDuplicateMember は同じ名簿に同名のメンバーが既に存在することを示す。
var ErrDuplicateMember = errors.New("member already exists in roster")

// ContactRepository はお問い合わせ送信の永続化インターフェース。
// サイトからは書き込みのみで、一覧取得は提供しない。
type ContactRepository interface {
	// Create はお問い合わせを1件挿入し、IDとCreatedAtを設定する。
	Create(ctx context.Context, submission *model.ContactSubmission) error
	// DeleteOlderThan はcutoffより前に作成されたお問い合わせを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RosterRepository は名簿メンバーの永続化インターフェース。
type RosterRepository interface {
	// ListByKind は指定名簿のメンバーをposition昇順で返す。
	ListByKind(ctx context.Context, kind model.RosterKind) ([]*model.Member, error)
	// FindByID は指定IDのメンバーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Member, error)
	// Create はメンバーを名簿の末尾に追加する。同名が存在する場合はErrDuplicateMemberを返す。
	Create(ctx context.Context, member *model.Member) error
	// Update はメンバーの表示項目を更新する。
	Update(ctx context.Context, member *model.Member) error
	// Delete は指定IDのメンバーを削除する。削除した場合にtrueを返す。
	Delete(ctx context.Context, id string) (bool, error)
}

// AuthSessionRepository は管理者の認証セッションをストレージキー単位で永続化するインターフェース。
type AuthSessionRepository interface {
	// Load は保存済みセッションを返す。存在しないか保存期限切れの場合はnilを返す。
	Load(ctx context.Context, key string) (*model.AuthSession, error)
	// Save はセッションを保存する。既存のキーは上書きする。
	Save(ctx context.Context, key string, session *model.AuthSession) error
	// Remove は保存済みセッションを削除する。存在しない場合もエラーにしない。
	Remove(ctx context.Context, key string) error
}
