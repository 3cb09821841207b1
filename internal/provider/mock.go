package provider

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/hitoshi/sequelprompt/internal/model"
)

// 成果物1件あたりの固定コスト
const (
	mockSingleCost  = 0.02
	mockAgenticCost = 0.05
)

var mockFuncs = template.FuncMap{
	"humanize": humanize,
	"fallback": func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	},
}

var singleTemplate = template.Must(template.New("single").Funcs(mockFuncs).Parse(`# Optimized AI Prompt

## Context & Role
You are a {{fallback .Industry "professional"}} expert helping {{fallback .TargetAudience "users"}} with {{.MainIdea}}.

## Task
{{.MainIdea}}

## Requirements
- Tone: {{.Tone}}
- Format: {{humanize .OutputFormat}}
- Length: {{.Length}}
{{- if .Context}}
- Context: {{.Context}}{{end}}
{{- if .Requirements}}
- Additional Requirements: {{.Requirements}}{{end}}

## Instructions
1. Analyze the request carefully
2. Provide a {{.Length}} response in {{.Tone}} tone
3. Format the output as {{humanize .OutputFormat}}
4. Ensure accuracy and relevance

## Output Format
Please structure your response clearly and provide actionable insights.
`))

var agenticTemplate = template.Must(template.New("agentic").Funcs(mockFuncs).Parse(`# AI Agent Workflow Specification

## Agent Identity
**Role**: {{fallback .Industry "General"}} Automation Agent
**Objective**: {{.MainIdea}}

## System Prompt
You are an autonomous AI agent specialized in {{fallback .Industry "general tasks"}}. Your primary objective is to {{.MainIdea}}.
Always prioritize accuracy, efficiency, and user safety in your operations.

## Workflow Breakdown

### Phase 1: Planning & Analysis
1. Parse user input and context
2. Break down the task into subtasks with dependencies and priorities
3. Set success criteria and checkpoints

### Phase 2: Execution
1. Collect and validate relevant information
2. Execute core workflow logic
3. Validate outputs against criteria

### Phase 3: Delivery & Monitoring
1. Format outputs as {{humanize .OutputFormat}}
2. Track performance metrics and log decisions

## Required Tools & Capabilities
{{fallback .AgentCapabilities "- Web research\n- Data processing and analysis\n- File system operations"}}

## Success Criteria
{{fallback .WorkflowParams "- Task completion within the specified timeframe\n- Output quality meets defined standards"}}

## Safety & Constraints
- Always verify data before processing
- Require human approval for critical decisions
`))

// MockProvider は外部APIを呼ばずに定型の成果物を返す決定的なプロバイダ。
// 同じリクエストには常に同じ内容・トークン数・コストを返す。
type MockProvider struct {
	delay time.Duration
}

// NewMockProvider はMockProviderを生成する。delayは応答までの待ち時間。
func NewMockProvider(delay time.Duration) *MockProvider {
	return &MockProvider{delay: delay}
}

// Generate は種別に応じたテンプレートから成果物を生成する。
func (p *MockProvider) Generate(ctx context.Context, req *model.GenerationRequest) (*model.ProviderOutput, error) {
	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	tmpl, cost := singleTemplate, mockSingleCost
	if req.Kind == model.KindAgentic {
		tmpl, cost = agenticTemplate, mockAgenticCost
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, req); err != nil {
		return nil, fmt.Errorf("failed to render mock output: %w", err)
	}
	content := buf.String()

	return &model.ProviderOutput{
		Content:    content,
		TokensUsed: (len(content) + 3) / 4,
		Cost:       cost,
	}, nil
}

var _ Provider = (*MockProvider)(nil)
