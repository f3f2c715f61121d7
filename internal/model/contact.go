package model

import "time"

// ContactSubmission はお問い合わせフォームの送信内容を表す。
// サイトからは書き込みのみで、読み戻さない。
// 文字数の上限はcontact_submissionsの列の型と同じ。messageはTEXTのため上限を設けない。
type ContactSubmission struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name" validate:"required,max=255"`
	Email     string    `json:"email" validate:"required,max=255"`
	Subject   string    `json:"subject" validate:"required,max=500"`
	Message   string    `json:"message" validate:"required"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
