package model

import "time"

// StoredImage はバケットに格納された1枚の画像を表す。
// Pathはバケット内で一意（アップロード時にエポックミリ秒を前置する）。
// URLはPathから導出される公開URLで、永続化しない。
type StoredImage struct {
	Path string
	URL  string
	Name string // 表示名。一覧取得時はPath、アップロード直後は元のファイル名
}

// ObjectInfo はバケット一覧APIが返すオブジェクト情報。
type ObjectInfo struct {
	Name         string
	Size         int64
	ContentType  string
	LastModified time.Time
}
