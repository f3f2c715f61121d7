// Package roster は名簿（執行部、プロジェクトマネージャー、メンバー）の参照と編集を提供する。
//
// 静的な名簿はコードに埋め込まれたデータを返し、変更操作を拒否する。
// データベースの名簿はroster_membersテーブルに対するCRUDを提供する。
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/mdbsite/internal/content"
	"github.com/hitoshi/mdbsite/internal/model"
	"github.com/hitoshi/mdbsite/internal/repository"
	"github.com/hitoshi/mdbsite/internal/security"
	"github.com/hitoshi/mdbsite/internal/validation"
)

// Service は名簿の操作。
type Service interface {
	// List は名簿のメンバーを表示順で返す。
	List(ctx context.Context, kind model.RosterKind) ([]model.Member, error)
	// Editable は変更操作が可能かどうかを返す。
	Editable() bool
	// Add はメンバーを名簿の末尾に追加する。
	Add(ctx context.Context, kind model.RosterKind, in model.MemberInput) (*model.Member, error)
	// Update はメンバーの表示項目を更新する。
	Update(ctx context.Context, kind model.RosterKind, id string, in model.MemberInput) (*model.Member, error)
	// Remove はメンバーを削除する。
	Remove(ctx context.Context, kind model.RosterKind, id string) error
}

// ImageURLer はバケット内のパスから公開URLを導出する。storage.URLBuilderが実装する。
type ImageURLer interface {
	URL(path string) string
}

// StaticService は埋め込みデータを返す読み取り専用のService。
type StaticService struct{}

// NewStaticService はStaticServiceを生成する。
func NewStaticService() *StaticService {
	return &StaticService{}
}

// List は静的な名簿を返す。
func (StaticService) List(ctx context.Context, kind model.RosterKind) ([]model.Member, error) {
	return content.StaticRoster(kind), nil
}

// Editable は常にfalseを返す。
func (StaticService) Editable() bool { return false }

// Add は常に失敗する。
func (StaticService) Add(ctx context.Context, kind model.RosterKind, in model.MemberInput) (*model.Member, error) {
	return nil, model.NewStaticRosterError("add " + noun(kind))
}

// Update は常に失敗する。
func (StaticService) Update(ctx context.Context, kind model.RosterKind, id string, in model.MemberInput) (*model.Member, error) {
	return nil, model.NewStaticRosterError("update " + noun(kind))
}

// Remove は常に失敗する。
func (StaticService) Remove(ctx context.Context, kind model.RosterKind, id string) error {
	return model.NewStaticRosterError("remove " + noun(kind))
}

func noun(kind model.RosterKind) string {
	if kind == model.RosterProjectManagers {
		return "project managers"
	}
	return "members"
}

// DatabaseService はroster_membersテーブルを使うService。
type DatabaseService struct {
	repo      repository.RosterRepository
	sanitizer *security.TextSanitizer
	urls      ImageURLer
	logger    *slog.Logger
}

// NewDatabaseService はDatabaseServiceを生成する。urlsはnilでもよい。
func NewDatabaseService(repo repository.RosterRepository, urls ImageURLer, logger *slog.Logger) *DatabaseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatabaseService{
		repo:      repo,
		sanitizer: security.NewTextSanitizer(),
		urls:      urls,
		logger:    logger,
	}
}

// List は名簿のメンバーをposition順で返す。
// 画像URLが空でバケット内のパスがある場合は公開URLを導出する。
func (s *DatabaseService) List(ctx context.Context, kind model.RosterKind) ([]model.Member, error) {
	members, err := s.repo.ListByKind(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]model.Member, len(members))
	for i, m := range members {
		out[i] = s.withImageURL(*m)
	}
	return out, nil
}

// Editable は常にtrueを返す。
func (s *DatabaseService) Editable() bool { return true }

// Add はメンバーを名簿の末尾に追加する。
func (s *DatabaseService) Add(ctx context.Context, kind model.RosterKind, in model.MemberInput) (*model.Member, error) {
	in, err := s.clean(in)
	if err != nil {
		return nil, err
	}

	m := &model.Member{
		Kind:      kind,
		Name:      in.Name,
		Title:     in.Title,
		Image:     in.Image,
		ImagePath: in.ImagePath,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		if errors.Is(err, repository.ErrDuplicateMember) {
			return nil, model.NewValidationError(fmt.Sprintf("%s already exists in %s", m.Name, kind.Label()))
		}
		return nil, err
	}

	s.logger.Info("roster member added",
		slog.String("kind", string(kind)),
		slog.String("member_id", m.ID),
	)
	out := s.withImageURL(*m)
	return &out, nil
}

// Update はメンバーの表示項目を更新する。別の名簿のメンバーは見つからないものとして扱う。
func (s *DatabaseService) Update(ctx context.Context, kind model.RosterKind, id string, in model.MemberInput) (*model.Member, error) {
	in, err := s.clean(in)
	if err != nil {
		return nil, err
	}

	m, err := s.find(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	m.Name = in.Name
	m.Title = in.Title
	m.Image = in.Image
	m.ImagePath = in.ImagePath

	if err := s.repo.Update(ctx, m); err != nil {
		if errors.Is(err, repository.ErrDuplicateMember) {
			return nil, model.NewValidationError(fmt.Sprintf("%s already exists in %s", m.Name, kind.Label()))
		}
		return nil, err
	}

	s.logger.Info("roster member updated",
		slog.String("kind", string(kind)),
		slog.String("member_id", m.ID),
	)
	out := s.withImageURL(*m)
	return &out, nil
}

// Remove はメンバーを削除する。
func (s *DatabaseService) Remove(ctx context.Context, kind model.RosterKind, id string) error {
	if _, err := s.find(ctx, kind, id); err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return model.NewMemberNotFoundError(id)
	}

	s.logger.Info("roster member removed",
		slog.String("kind", string(kind)),
		slog.String("member_id", id),
	)
	return nil
}

func (s *DatabaseService) find(ctx context.Context, kind model.RosterKind, id string) (*model.Member, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewMemberNotFoundError(id)
	}
	m, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil || m.Kind != kind {
		return nil, model.NewMemberNotFoundError(id)
	}
	return m, nil
}

// clean はタグを除去してから入力を検証する。
func (s *DatabaseService) clean(in model.MemberInput) (model.MemberInput, error) {
	in.Name = s.sanitizer.Clean(in.Name)
	in.Title = s.sanitizer.Clean(in.Title)
	in.Image = s.sanitizer.Clean(in.Image)
	in.ImagePath = s.sanitizer.Clean(in.ImagePath)

	if err := validation.Struct(in); err != nil {
		var fe *validation.FieldError
		if errors.As(err, &fe) {
			return in, model.NewValidationError(fe.Message())
		}
		return in, err
	}
	return in, nil
}

func (s *DatabaseService) withImageURL(m model.Member) model.Member {
	if m.Image == "" && m.ImagePath != "" && s.urls != nil {
		m.Image = s.urls.URL(m.ImagePath)
	}
	return m
}

// compile-time interface check
var (
	_ Service = StaticService{}
	_ Service = (*DatabaseService)(nil)
)
