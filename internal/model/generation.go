package model

import (
	"encoding/json"
	"time"
)

// GenerationKind は生成の種別を表す。
type GenerationKind string

const (
	KindSingle  GenerationKind = "single"
	KindAgentic GenerationKind = "agentic"
)

// Generation は生成履歴の1レコードを表す。作成後は変更されない。
type Generation struct {
	ID         string
	UserID     string
	Kind       GenerationKind
	Input      json.RawMessage // 検証済みリクエストのJSON。そのまま保存する
	Output     string
	TokensUsed int
	Cost       float64
	CreatedAt  time.Time
}

// GenerationRequest は検証済みの生成リクエストを表す。
// 種別ごとの任意項目は該当しない種別では空のまま扱う。
type GenerationRequest struct {
	Kind           GenerationKind `json:"type"`
	MainIdea       string         `json:"mainIdea"`
	OutputFormat   string         `json:"outputFormat"`
	Tone           string         `json:"tone"`
	Length         string         `json:"length"`
	Context        string         `json:"context,omitempty"`
	Industry       string         `json:"industry,omitempty"`
	TargetAudience string         `json:"targetAudience,omitempty"`

	// single
	Requirements   string `json:"requirements,omitempty"`
	Examples       string `json:"examples,omitempty"`
	ReasoningStyle string `json:"reasoningStyle,omitempty"`
	AIRole         string `json:"aiRole,omitempty"`

	// agentic
	TaskDecomposition string `json:"taskDecomposition,omitempty"`
	AgentCapabilities string `json:"agentCapabilities,omitempty"`
	WorkflowParams    string `json:"workflowParams,omitempty"`
	AdvancedSettings  string `json:"advancedSettings,omitempty"`
}

// ProviderOutput は生成プロバイダの応答を表す。
type ProviderOutput struct {
	Content    string
	TokensUsed int
	Cost       float64
}

// GenerationResult はディスパッチャがクライアントに返す生成結果を表す。
// GenerationsRemaining は無料プランのみ設定され、有料プランではnil。
type GenerationResult struct {
	ID                   string
	Content              string
	TokensUsed           int
	Cost                 float64
	GenerationsRemaining *int
}
