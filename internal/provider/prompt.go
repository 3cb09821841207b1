package provider

import (
	"fmt"
	"strings"

	"github.com/hitoshi/sequelprompt/internal/model"
)

const singleSystemPrompt = `You are an expert prompt engineer. Turn the user's idea into a single, well-structured prompt ` +
	`that a large language model can follow without further clarification. Respond in markdown with the sections ` +
	`Context & Role, Task, Requirements, Instructions and Output Format.`

const agenticSystemPrompt = `You are an expert in autonomous agent design. Turn the user's idea into a complete agent ` +
	`workflow specification in markdown: agent identity, system prompt, phased workflow breakdown, required tools, ` +
	`success criteria, safety constraints and error handling.`

// BuildMessages は種別に応じたシステムプロンプトとユーザープロンプトを組み立てる。
func BuildMessages(req *model.GenerationRequest) (system, user string) {
	system = singleSystemPrompt
	if req.Kind == model.KindAgentic {
		system = agenticSystemPrompt
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Main idea: %s\n", req.MainIdea)
	fmt.Fprintf(&b, "Output format: %s\n", humanize(req.OutputFormat))
	fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	fmt.Fprintf(&b, "Length: %s\n", req.Length)

	optional := []struct {
		label string
		value string
	}{
		{"Context", req.Context},
		{"Industry", req.Industry},
		{"Target audience", req.TargetAudience},
		{"Requirements", req.Requirements},
		{"Examples", req.Examples},
		{"Reasoning style", req.ReasoningStyle},
		{"AI role", req.AIRole},
		{"Task decomposition", req.TaskDecomposition},
		{"Agent capabilities", req.AgentCapabilities},
		{"Workflow parameters", req.WorkflowParams},
		{"Advanced settings", req.AdvancedSettings},
	}
	for _, o := range optional {
		if v := strings.TrimSpace(o.value); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", o.label, v)
		}
	}

	return system, b.String()
}

// humanize は "step-by-step" を "step by step" のように読みやすくする。
func humanize(s string) string {
	return strings.ReplaceAll(s, "-", " ")
}
