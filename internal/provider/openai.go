package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hitoshi/sequelprompt/internal/model"
)

// OpenAIConfig はOpenAIプロバイダの設定。
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string // 空の場合は公式エンドポイント
	Model           string
	Temperature     float32
	MaxTokens       int
	CostPer1KTokens float64
}

// OpenAIProvider はOpenAI Chat Completions APIを使用するプロバイダ。
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
	logger *slog.Logger
}

// NewOpenAIProvider はOpenAIProviderを生成する。
func NewOpenAIProvider(config OpenAIConfig, httpClient *http.Client, logger *slog.Logger) *OpenAIProvider {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}

// Generate はChat Completions APIで成果物を生成する。
// ctxの期限切れはErrTimeoutとして返す。
func (p *OpenAIProvider) Generate(ctx context.Context, req *model.GenerationRequest) (*model.ProviderOutput, error) {
	system, user := BuildMessages(req)

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
	})
	duration := time.Since(start)

	if err != nil {
		p.logger.Error("OpenAI chat completion failed",
			slog.String("kind", string(req.Kind)),
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("openai returned no content")
	}

	tokens := resp.Usage.TotalTokens
	p.logger.Info("OpenAI chat completion succeeded",
		slog.String("kind", string(req.Kind)),
		slog.String("model", p.config.Model),
		slog.Int("tokens_used", tokens),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)

	return &model.ProviderOutput{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: tokens,
		Cost:       float64(tokens) / 1000 * p.config.CostPer1KTokens,
	}, nil
}

var _ Provider = (*OpenAIProvider)(nil)
