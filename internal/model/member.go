package model

import (
	"fmt"
	"time"
)

// RosterKind は名簿の種類を表す。
type RosterKind string

const (
	// RosterExec は執行部メンバー。
	RosterExec RosterKind = "exec"
	// RosterProjectManagers はプロジェクトマネージャー。
	RosterProjectManagers RosterKind = "project_managers"
	// RosterMembers は一般メンバー。
	RosterMembers RosterKind = "members"
)

// RosterKinds は表示順に並べた全名簿種別。
var RosterKinds = []RosterKind{RosterExec, RosterProjectManagers, RosterMembers}

// ParseRosterKind は文字列を名簿種別に変換する。
func ParseRosterKind(s string) (RosterKind, error) {
	for _, k := range RosterKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown roster kind: %q", s)
}

// Label は名簿種別の表示名を返す。
func (k RosterKind) Label() string {
	switch k {
	case RosterExec:
		return "Executive Board"
	case RosterProjectManagers:
		return "Project Managers"
	default:
		return "Members"
	}
}

// Member は名簿の1レコードを表す。
// 静的データではID・ImagePath・日時は空のまま。
type Member struct {
	ID        string
	Kind      RosterKind
	Name      string
	Title     string
	Image     string // 表示用の画像URLまたはサイト内パス
	ImagePath string // バケット内のオブジェクトパス（任意）
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemberInput は名簿メンバーの作成・更新の入力。
type MemberInput struct {
	Name      string `json:"name" validate:"required,max=120"`
	Title     string `json:"title" validate:"required,max=120"`
	Image     string `json:"image" validate:"omitempty,max=2048"`
	ImagePath string `json:"image_path" validate:"omitempty,max=1024"`
}
