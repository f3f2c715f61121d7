// Package cleanup は保存期限を過ぎたデータの定期削除ジョブを提供する。
// 対象は期限切れの管理者セッションと、保持期間を超えたお問い合わせ。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションの削除。PostgreSQLのセッションリポジトリが実装する。
// Redisはキーの有効期限で自動的に消えるため対象外。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ContactPurger は古いお問い合わせの削除。
type ContactPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder は削除件数を記録する。metrics.Collectorが実装する。
type Recorder interface {
	RecordCleanupDeleted(kind string, count int64)
}

type noopRecorder struct{}

func (noopRecorder) RecordCleanupDeleted(string, int64) {}

// CleanupJob は期限切れデータの削除ジョブ。
// 何度実行しても結果は変わらない。
type CleanupJob struct {
	sessions SessionPurger
	contacts ContactPurger
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	// RetentionDays はお問い合わせの保持日数。0以下の場合は削除しない
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。sessionsとcontactsはnilでもよい。
func NewCleanupJob(sessions SessionPurger, contacts ContactPurger, recorder Recorder, logger *slog.Logger) *CleanupJob {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions: sessions,
		contacts: contacts,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は1回分の削除を行う。片方が失敗してももう片方は実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	var errs []error

	if j.sessions != nil {
		n, err := j.sessions.DeleteExpired(ctx)
		if err != nil {
			j.logger.Error("failed to delete expired sessions", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("session cleanup failed: %w", err))
		} else {
			j.recorder.RecordCleanupDeleted("auth_sessions", n)
			j.logger.Info("expired sessions deleted", slog.Int64("deleted_count", n))
		}
	}

	if j.contacts != nil && j.RetentionDays > 0 {
		cutoff := start.AddDate(0, 0, -j.RetentionDays)
		n, err := j.contacts.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			j.logger.Error("failed to delete old contact submissions",
				slog.String("error", err.Error()),
				slog.Int("retention_days", j.RetentionDays),
			)
			errs = append(errs, fmt.Errorf("contact cleanup failed: %w", err))
		} else {
			j.recorder.RecordCleanupDeleted("contact_submissions", n)
			j.logger.Info("old contact submissions deleted",
				slog.Int64("deleted_count", n),
				slog.Int("retention_days", j.RetentionDays),
			)
		}
	}

	j.logger.Info("cleanup job finished",
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return errors.Join(errs...)
}

// Start は起動直後に1回実行し、その後intervalごとに実行する。ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
