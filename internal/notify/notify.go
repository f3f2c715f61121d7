// Package notify は運営メールアドレスへの通知を提供する。
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/resend/resend-go/v2"

	"github.com/hitoshi/mdbsite/internal/model"
)

// Notifier はお問い合わせの受信を通知する。
type Notifier interface {
	NotifyContact(ctx context.Context, submission *model.ContactSubmission) error
}

// NoopNotifier は何も送らないNotifier。通知先が未設定の場合に使う。
type NoopNotifier struct{}

// NotifyContact は何もしない。
func (NoopNotifier) NotifyContact(ctx context.Context, submission *model.ContactSubmission) error {
	return nil
}

// ResendNotifier はResend APIでメールを送るNotifier。
type ResendNotifier struct {
	client *resend.Client
	from   string
	to     string
}

// NewResendNotifier はResendNotifierを生成する。
func NewResendNotifier(apiKey, from, to string) *ResendNotifier {
	return &ResendNotifier{
		client: resend.NewClient(apiKey),
		from:   from,
		to:     to,
	}
}

// New はapiKeyと通知先が揃っていればResendNotifierを、そうでなければNoopNotifierを返す。
func New(apiKey, from, to string) Notifier {
	if apiKey == "" || to == "" {
		return NoopNotifier{}
	}
	return NewResendNotifier(apiKey, from, to)
}

var contactTemplate = template.Must(template.New("contact").Parse(
	`<p>New contact form submission</p>
<p><strong>Name:</strong> {{.Name}}<br><strong>Email:</strong> {{.Email}}<br><strong>Subject:</strong> {{.Subject}}</p>
<p>{{.Message}}</p>`))

// NotifyContact はお問い合わせの内容を通知先に送る。返信先は送信者のアドレスにする。
func (n *ResendNotifier) NotifyContact(ctx context.Context, submission *model.ContactSubmission) error {
	var body bytes.Buffer
	if err := contactTemplate.Execute(&body, submission); err != nil {
		return fmt.Errorf("failed to render contact notification: %w", err)
	}

	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{n.to},
		Subject: "[Contact] " + submission.Subject,
		Html:    body.String(),
		ReplyTo: submission.Email,
	}

	sent, err := n.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}

	slog.Info("contact notification sent",
		slog.String("message_id", sent.Id),
		slog.String("submission_id", submission.ID),
	)
	return nil
}

// compile-time interface check
var (
	_ Notifier = NoopNotifier{}
	_ Notifier = (*ResendNotifier)(nil)
)
