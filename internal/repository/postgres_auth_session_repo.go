package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/mdbsite/internal/model"
)

// PostgresAuthSessionRepo はPostgreSQLを使用した認証セッションリポジトリ。
// セッションはJSONとしてdata列に保存し、保存期限はmaxAgeで決まる。
type PostgresAuthSessionRepo struct {
	db     *sql.DB
	maxAge time.Duration
	now    func() time.Time
}

// NewPostgresAuthSessionRepo はPostgresAuthSessionRepoを生成する。
func NewPostgresAuthSessionRepo(db *sql.DB, maxAge time.Duration) *PostgresAuthSessionRepo {
	return &PostgresAuthSessionRepo{db: db, maxAge: maxAge, now: time.Now}
}

// Load は保存済みセッションを返す。保存期限切れの場合はnilを返す。
func (r *PostgresAuthSessionRepo) Load(ctx context.Context, key string) (*model.AuthSession, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM auth_sessions
		 WHERE storage_key = $1 AND expires_at > now()`,
		key,
	).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auth session: %w", err)
	}

	var session model.AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode auth session: %w", err)
	}
	return &session, nil
}

// Save はセッションを保存する。既存のキーは上書きし、保存期限を延長する。
func (r *PostgresAuthSessionRepo) Save(ctx context.Context, key string, session *model.AuthSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode auth session: %w", err)
	}

	now := r.now()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (storage_key, data, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (storage_key) DO UPDATE
		 SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		key, data, now.Add(r.maxAge), now,
	)
	if err != nil {
		return fmt.Errorf("failed to save auth session: %w", err)
	}
	return nil
}

// Remove は保存済みセッションを削除する。
func (r *PostgresAuthSessionRepo) Remove(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE storage_key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to remove auth session: %w", err)
	}
	return nil
}

// DeleteExpired は保存期限切れのセッションを削除し、削除件数を返す。
func (r *PostgresAuthSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired auth sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted auth sessions: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ AuthSessionRepository = (*PostgresAuthSessionRepo)(nil)
