package contact

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/mdbsite/internal/model"
)

// mockContactRepo はContactRepositoryのテスト用モック。
type mockContactRepo struct {
	createFn func(ctx context.Context, s *model.ContactSubmission) error
	created  []*model.ContactSubmission
}

func (m *mockContactRepo) Create(ctx context.Context, s *model.ContactSubmission) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, s); err != nil {
			return err
		}
	}
	s.ID = "sub-1"
	s.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.created = append(m.created, s)
	return nil
}

func (m *mockContactRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockNotifier struct {
	err   error
	calls int
}

func (m *mockNotifier) NotifyContact(ctx context.Context, s *model.ContactSubmission) error {
	m.calls++
	return m.err
}

type countingRecorder struct {
	outcomes []string
}

func (r *countingRecorder) RecordContactSubmission(outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

func validInput() Input {
	return Input{
		Name:    "  Jane Doe ",
		Email:   " jane@example.com",
		Subject: "Partnership ",
		Message: "\nWe would like to work with you.\n",
	}
}

func TestSubmit_TrimsAndInsertsOnce(t *testing.T) {
	repo := &mockContactRepo{}
	notifier := &mockNotifier{}
	recorder := &countingRecorder{}
	svc := NewService(repo, notifier, recorder, nil)

	got, err := svc.Submit(context.Background(), validInput())
	require.NoError(t, err)

	require.Len(t, repo.created, 1)
	assert.Equal(t, "Jane Doe", got.Name)
	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, "Partnership", got.Subject)
	assert.Equal(t, "We would like to work with you.", got.Message)
	assert.Equal(t, "sub-1", got.ID)
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, []string{"success"}, recorder.outcomes)
}

func TestSubmit_RequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{name: "name empty", mutate: func(in *Input) { in.Name = "" }},
		{name: "email whitespace", mutate: func(in *Input) { in.Email = "   " }},
		{name: "subject empty", mutate: func(in *Input) { in.Subject = "" }},
		{name: "message whitespace", mutate: func(in *Input) { in.Message = "\n\t" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockContactRepo{}
			svc := NewService(repo, nil, nil, nil)

			in := validInput()
			tt.mutate(&in)
			_, err := svc.Submit(context.Background(), in)

			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrValidationFailed)
			assert.Equal(t, ErrRequiredFieldsMissing, model.DisplayMessage(err))
			assert.Empty(t, repo.created)
		})
	}
}

func TestSubmit_TooLong(t *testing.T) {
	repo := &mockContactRepo{}
	svc := NewService(repo, nil, nil, nil)

	in := validInput()
	in.Subject = strings.Repeat("a", 501)
	_, err := svc.Submit(context.Background(), in)

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidationFailed)
	assert.Equal(t, "Subject must be at most 500 characters", model.DisplayMessage(err))
	assert.Empty(t, repo.created)
}

func TestSubmit_FieldLimitsMatchColumns(t *testing.T) {
	repo := &mockContactRepo{}
	svc := NewService(repo, nil, nil, nil)

	in := Input{
		Name:    strings.Repeat("n", 255),
		Email:   strings.Repeat("e", 243) + "@example.com",
		Subject: strings.Repeat("s", 500),
		Message: strings.Repeat("m", 20000),
	}
	got, err := svc.Submit(context.Background(), in)

	require.NoError(t, err)
	assert.Len(t, got.Message, 20000)
	assert.Len(t, repo.created, 1)
}

func TestSubmit_StoresMarkupVerbatim(t *testing.T) {
	repo := &mockContactRepo{}
	svc := NewService(repo, nil, nil, nil)

	in := validInput()
	in.Message = "  <b>Hi</b> & a < b  "
	got, err := svc.Submit(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, "<b>Hi</b> & a < b", got.Message)
}

func TestSubmit_RepositoryFailure(t *testing.T) {
	repo := &mockContactRepo{createFn: func(ctx context.Context, s *model.ContactSubmission) error {
		return errors.New("connection refused")
	}}
	notifier := &mockNotifier{}
	recorder := &countingRecorder{}
	svc := NewService(repo, notifier, recorder, nil)

	_, err := svc.Submit(context.Background(), validInput())
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrValidationFailed)
	assert.Equal(t, 0, notifier.calls)
	assert.Equal(t, []string{"error"}, recorder.outcomes)
}

func TestSubmit_NotificationFailureDoesNotFail(t *testing.T) {
	repo := &mockContactRepo{}
	svc := NewService(repo, &mockNotifier{err: errors.New("resend down")}, nil, nil)

	got, err := svc.Submit(context.Background(), validInput())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Len(t, repo.created, 1)
}
