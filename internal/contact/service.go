// Package contact はお問い合わせフォームの受付を提供する。
package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/mdbsite/internal/model"
	"github.com/hitoshi/mdbsite/internal/notify"
	"github.com/hitoshi/mdbsite/internal/repository"
	"github.com/hitoshi/mdbsite/internal/validation"
)

// ErrRequiredFieldsMissing は必須項目が空であることを示すメッセージ。
const ErrRequiredFieldsMissing = "All fields are required"

// Recorder はお問い合わせの結果を記録する。metrics.Collectorが実装する。
type Recorder interface {
	RecordContactSubmission(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordContactSubmission(string) {}

// Input はお問い合わせフォームの入力。
type Input struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Service はお問い合わせの検証、保存、通知を行う。
type Service struct {
	repo     repository.ContactRepository
	notifier notify.Notifier
	recorder Recorder
	logger   *slog.Logger
}

// NewService はServiceを生成する。notifierとrecorderはnilでもよい。
func NewService(repo repository.ContactRepository, notifier notify.Notifier, recorder Recorder, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, recorder: recorder, logger: logger}
}

// Submit は前後の空白を除いた入力を1件保存する。
// 本文はそのまま保存し、HTMLの除去は行わない。表示や通知ではテンプレートがエスケープする。
// いずれかの項目が空または空白のみの場合はValidationFailedを返し、保存しない。
// 通知の失敗はログに残すだけで、送信自体は成功として扱う。
func (s *Service) Submit(ctx context.Context, in Input) (*model.ContactSubmission, error) {
	submission := &model.ContactSubmission{
		Name:    strings.TrimSpace(in.Name),
		Email:   strings.TrimSpace(in.Email),
		Subject: strings.TrimSpace(in.Subject),
		Message: strings.TrimSpace(in.Message),
	}

	if err := validation.Struct(submission); err != nil {
		s.recorder.RecordContactSubmission("invalid")
		var fe *validation.FieldError
		if errors.As(err, &fe) && fe.Tag == "required" {
			return nil, model.NewValidationError(ErrRequiredFieldsMissing)
		}
		if fe != nil {
			return nil, model.NewValidationError(fe.Message())
		}
		return nil, err
	}

	if err := s.repo.Create(ctx, submission); err != nil {
		s.recorder.RecordContactSubmission("error")
		return nil, fmt.Errorf("failed to save contact submission: %w", err)
	}
	s.recorder.RecordContactSubmission("success")

	if err := s.notifier.NotifyContact(ctx, submission); err != nil {
		s.logger.Warn("failed to send contact notification",
			slog.String("submission_id", submission.ID),
			slog.String("error", err.Error()),
		)
	}
	return submission, nil
}
