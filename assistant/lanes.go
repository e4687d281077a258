package assistant

import (
	"github.com/aschepis/backscratcher/assist/llm"
)

// Lane selects how a request is served. Callers choose the lane; the client
// never infers it from the prompt.
type Lane string

const (
	// LaneFast answers quickly and may call tools.
	LaneFast Lane = "fast"
	// LaneDeep reasons with an extended thinking budget and no tools.
	LaneDeep Lane = "deep"
)

const (
	// DefaultFastModel serves LaneFast when no model is configured.
	DefaultFastModel = "gemini-2.5-flash-lite"
	// DefaultDeepModel serves LaneDeep when no model is configured.
	DefaultDeepModel = "gemini-3-pro-preview"
	// DefaultThinkingBudget is the deep lane's thinking budget in tokens.
	DefaultThinkingBudget int64 = 1024
)

// LanePolicy is the model and options used for one lane.
type LanePolicy struct {
	Model          string `yaml:"model"`
	Tools          bool   `yaml:"tools"`
	ThinkingBudget int64  `yaml:"thinking_budget,omitempty"`
	MaxTokens      int64  `yaml:"max_tokens,omitempty"`
}

// Lanes maps each lane to its policy.
type Lanes map[Lane]LanePolicy

// DefaultLanes returns the Gemini lane setup.
func DefaultLanes() Lanes {
	return Lanes{
		LaneFast: {Model: DefaultFastModel, Tools: true},
		LaneDeep: {Model: DefaultDeepModel, ThinkingBudget: DefaultThinkingBudget},
	}
}

// apply copies the lane's options onto req.
func (p LanePolicy) apply(req *llm.Request, tools []llm.ToolSpec) {
	req.Model = p.Model
	req.MaxTokens = p.MaxTokens
	if p.Tools {
		req.Tools = tools
	}
	if p.ThinkingBudget > 0 {
		req.Thinking = &llm.ThinkingConfig{BudgetTokens: p.ThinkingBudget}
	}
}
