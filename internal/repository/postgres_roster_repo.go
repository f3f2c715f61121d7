package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"

	"github.com/hitoshi/mdbsite/internal/model"
)

// PostgresRosterRepo はPostgreSQLを使用した名簿リポジトリ。
type PostgresRosterRepo struct {
	db *sql.DB
}

// NewPostgresRosterRepo はPostgresRosterRepoを生成する。
func NewPostgresRosterRepo(db *sql.DB) *PostgresRosterRepo {
	return &PostgresRosterRepo{db: db}
}

const rosterColumns = `id, kind, name, title, image, COALESCE(image_path, ''), position, created_at, updated_at`

// ListByKind は指定名簿のメンバーをposition昇順で返す。
func (r *PostgresRosterRepo) ListByKind(ctx context.Context, kind model.RosterKind) ([]*model.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+rosterColumns+`
		 FROM roster_members
		 WHERE kind = $1
		 ORDER BY position ASC, created_at ASC`,
		string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list roster members: %w", err)
	}
	defer rows.Close()

	var members []*model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan roster member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roster members: %w", err)
	}
	return members, nil
}

// FindByID は指定IDのメンバーを取得する。見つからない場合はnilを返す。
func (r *PostgresRosterRepo) FindByID(ctx context.Context, id string) (*model.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+rosterColumns+` FROM roster_members WHERE id = $1`,
		id,
	)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find roster member: %w", err)
	}
	return m, nil
}

// Create はメンバーを名簿の末尾に追加する。
// positionは同じ名簿の最大値+1を割り当てる。
func (r *PostgresRosterRepo) Create(ctx context.Context, member *model.Member) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO roster_members (kind, name, title, image, image_path, position)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''),
		         (SELECT COALESCE(MAX(position), -1) + 1 FROM roster_members WHERE kind = $1))
		 RETURNING id, position, created_at, updated_at`,
		string(member.Kind), member.Name, member.Title, member.Image, member.ImagePath,
	).Scan(&member.ID, &member.Position, &member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMember
		}
		return fmt.Errorf("failed to create roster member: %w", err)
	}
	return nil
}

// Update はメンバーの表示項目を更新する。
func (r *PostgresRosterRepo) Update(ctx context.Context, member *model.Member) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE roster_members
		 SET name = $2, title = $3, image = $4, image_path = NULLIF($5, ''), updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		member.ID, member.Name, member.Title, member.Image, member.ImagePath,
	).Scan(&member.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("roster member not found: %s", member.ID)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMember
		}
		return fmt.Errorf("failed to update roster member: %w", err)
	}
	return nil
}

// Delete は指定IDのメンバーを削除する。
func (r *PostgresRosterRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM roster_members WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete roster member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count deleted roster members: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(s rowScanner) (*model.Member, error) {
	var m model.Member
	var kind string
	if err := s.Scan(&m.ID, &kind, &m.Name, &m.Title, &m.Image, &m.ImagePath, &m.Position, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Kind = model.RosterKind(kind)
	return &m, nil
}

// isUniqueViolation はPostgreSQLの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgerrcode.UniqueViolation
	}
	return false
}

// compile-time interface check
var _ RosterRepository = (*PostgresRosterRepo)(nil)
