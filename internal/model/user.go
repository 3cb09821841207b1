package model

import "time"

// PlanFree は無料プランを表す。
// 無料プランのみ残り生成回数をクライアントに返す。
const PlanFree = "free"

// User はサービス利用ユーザーを表す。
// GenerationsUsed / LastResetAt はクォータ台帳経由でのみ更新される。
type User struct {
	ID               string
	Email            string
	CredentialHash   string
	DisplayName      string
	Plan             string
	GenerationsUsed  int
	GenerationsLimit int
	LastResetAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
