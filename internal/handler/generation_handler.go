package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/sequelprompt/internal/history"
	"github.com/hitoshi/sequelprompt/internal/middleware"
	"github.com/hitoshi/sequelprompt/internal/model"
)

// GenerationDispatcher は生成ハンドラーが必要とするディスパッチャのインターフェース。
type GenerationDispatcher interface {
	Generate(ctx context.Context, userID string, req *model.GenerationRequest) (*model.GenerationResult, error)
}

// HistoryReader は履歴取得のインターフェース。
type HistoryReader interface {
	Page(ctx context.Context, userID string, page, pageSize int) (*history.Page, error)
}

// GenerationHandler は生成と履歴のHTTPハンドラー。
type GenerationHandler struct {
	dispatcher GenerationDispatcher
	history    HistoryReader
	validate   *validator.Validate
	responder
}

// NewGenerationHandler はGenerationHandlerを生成する。
func NewGenerationHandler(dispatcher GenerationDispatcher, history HistoryReader, debug bool) *GenerationHandler {
	return &GenerationHandler{
		dispatcher: dispatcher,
		history:    history,
		validate:   newValidator(),
		responder:  responder{debug: debug},
	}
}

// commonFields は単発・エージェント型で共通の入力項目。
type commonFields struct {
	MainIdea       string `json:"mainIdea" validate:"required,min=10"`
	Tone           string `json:"tone" validate:"required,oneof=professional casual technical creative formal friendly authoritative conversational"`
	Length         string `json:"length" validate:"required,oneof=brief detailed comprehensive"`
	Context        string `json:"context" validate:"max=5000"`
	Industry       string `json:"industry" validate:"max=200"`
	TargetAudience string `json:"targetAudience" validate:"max=200"`
}

type singleRequest struct {
	commonFields
	OutputFormat   string `json:"outputFormat" validate:"required,oneof=detailed-explanation bullet-points step-by-step code creative analysis"`
	Requirements   string `json:"requirements" validate:"max=5000"`
	Examples       string `json:"examples" validate:"max=5000"`
	ReasoningStyle string `json:"reasoningStyle" validate:"max=200"`
	AIRole         string `json:"aiRole" validate:"max=500"`
}

type agenticRequest struct {
	commonFields
	OutputFormat      string `json:"outputFormat" validate:"required,oneof=system-prompt workflow-spec json-config implementation-guide"`
	TaskDecomposition string `json:"taskDecomposition" validate:"max=5000"`
	AgentCapabilities string `json:"agentCapabilities" validate:"max=5000"`
	WorkflowParams    string `json:"workflowParams" validate:"max=5000"`
	AdvancedSettings  string `json:"advancedSettings" validate:"max=5000"`
}

type generationResponse struct {
	ID                   string  `json:"id"`
	Content              string  `json:"content"`
	TokensUsed           int     `json:"tokensUsed"`
	Cost                 float64 `json:"cost"`
	GenerationsRemaining *int    `json:"generationsRemaining"`
}

type historyItemResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Input      json.RawMessage `json:"input"`
	Output     string          `json:"output"`
	TokensUsed int             `json:"tokensUsed"`
	Cost       float64         `json:"cost"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type paginationResponse struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type historyResponse struct {
	Generations []historyItemResponse `json:"generations"`
	Pagination  paginationResponse    `json:"pagination"`
}

// GenerateSingle は単発プロンプトを生成する。
// POST /generation/single
func (h *GenerationHandler) GenerateSingle(w http.ResponseWriter, r *http.Request) {
	var req singleRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	req.MainIdea = strings.TrimSpace(req.MainIdea)
	if err := h.validate.Struct(req); err != nil {
		h.writeAPIError(w, validationError(err))
		return
	}

	h.generate(w, r, &model.GenerationRequest{
		Kind:           model.KindSingle,
		MainIdea:       req.MainIdea,
		OutputFormat:   req.OutputFormat,
		Tone:           req.Tone,
		Length:         req.Length,
		Context:        req.Context,
		Industry:       req.Industry,
		TargetAudience: req.TargetAudience,
		Requirements:   req.Requirements,
		Examples:       req.Examples,
		ReasoningStyle: req.ReasoningStyle,
		AIRole:         req.AIRole,
	})
}

// GenerateAgentic はエージェント型ワークフローを生成する。
// POST /generation/agentic
func (h *GenerationHandler) GenerateAgentic(w http.ResponseWriter, r *http.Request) {
	var req agenticRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	req.MainIdea = strings.TrimSpace(req.MainIdea)
	if err := h.validate.Struct(req); err != nil {
		h.writeAPIError(w, validationError(err))
		return
	}

	h.generate(w, r, &model.GenerationRequest{
		Kind:              model.KindAgentic,
		MainIdea:          req.MainIdea,
		OutputFormat:      req.OutputFormat,
		Tone:              req.Tone,
		Length:            req.Length,
		Context:           req.Context,
		Industry:          req.Industry,
		TargetAudience:    req.TargetAudience,
		TaskDecomposition: req.TaskDecomposition,
		AgentCapabilities: req.AgentCapabilities,
		WorkflowParams:    req.WorkflowParams,
		AdvancedSettings:  req.AdvancedSettings,
	})
}

func (h *GenerationHandler) generate(w http.ResponseWriter, r *http.Request, req *model.GenerationRequest) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		h.writeAPIError(w, model.NewUnauthorizedError())
		return
	}

	result, err := h.dispatcher.Generate(r.Context(), userID, req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, generationResponse{
		ID:                   result.ID,
		Content:              result.Content,
		TokensUsed:           result.TokensUsed,
		Cost:                 result.Cost,
		GenerationsRemaining: result.GenerationsRemaining,
	})
}

// History は生成履歴を新しい順にページ単位で返す。
// GET /generation/history?page=1&limit=10
func (h *GenerationHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		h.writeAPIError(w, model.NewUnauthorizedError())
		return
	}

	page, ok := h.queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	limit, ok := h.queryInt(w, r, "limit", history.DefaultPageSize)
	if !ok {
		return
	}

	result, err := h.history.Page(r.Context(), userID, page, limit)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	items := make([]historyItemResponse, 0, len(result.Generations))
	for _, g := range result.Generations {
		items = append(items, historyItemResponse{
			ID:         g.ID,
			Type:       string(g.Kind),
			Input:      g.Input,
			Output:     g.Output,
			TokensUsed: g.TokensUsed,
			Cost:       g.Cost,
			CreatedAt:  g.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Generations: items,
		Pagination: paginationResponse{
			Page:  result.Page,
			Limit: result.Limit,
			Total: result.Total,
			Pages: result.Pages,
		},
	})
}

// queryInt はクエリパラメータを整数として読み取る。未指定の場合はdefを返す。
func (h *GenerationHandler) queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		h.writeAPIError(w, model.NewValidationError("Query parameters must be integers.", map[string]any{
			"fields": map[string]any{name: "must be an integer"},
		}))
		return 0, false
	}
	return v, true
}
