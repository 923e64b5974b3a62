package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/robots/internal/governance"
	"github.com/rahul/robots/internal/observability"
	"github.com/rahul/robots/internal/tools"
)

// AgentSession performs one plan step inside a live execution session.
// Run must stop promptly when ctx is canceled.
type AgentSession interface {
	Run(ctx context.Context, req AgentRequest) (*AgentResult, error)
}

// AgentRequest is one step's worth of instructions.
type AgentRequest struct {
	System string
	Prompt string
	// OnStep receives every model turn after its tool calls ran. Returning
	// true ends the run early.
	OnStep func(AgentStep) bool
}

// AgentStep is a single model turn.
type AgentStep struct {
	Index     int
	Text      string
	ToolCalls []ToolInvocation
}

type ToolInvocation struct {
	Name      string
	Arguments string
	Output    string
	Denied    bool
}

// AgentResult is what a finished run produced. Text joins every turn's text.
type AgentResult struct {
	Text    string
	Steps   int
	Usage   TokenUsage
	Stopped bool
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *TokenUsage) add(o TokenUsage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// WorkerBrain is a ReAct agent bound to one session's toolset.
type WorkerBrain struct {
	Model     llms.Model
	Registry  *tools.Registry
	Policy    governance.PolicyEngine
	Logger    *observability.Logger
	SessionID string
	MaxSteps  int
}

func NewWorkerBrain(model llms.Model, registry *tools.Registry, policy governance.PolicyEngine, logger *observability.Logger, sessionID string) *WorkerBrain {
	return &WorkerBrain{
		Model:     model,
		Registry:  registry,
		Policy:    policy,
		Logger:    logger,
		SessionID: sessionID,
		MaxSteps:  25,
	}
}

func (b *WorkerBrain) Run(ctx context.Context, req AgentRequest) (*AgentResult, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.System)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(req.Prompt)},
	})

	var llmTools []llms.Tool
	if b.Registry != nil {
		for _, t := range b.Registry.List() {
			llmTools = append(llmTools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  t.Parameters(),
				},
			})
		}
	}

	var opts []llms.CallOption
	if len(llmTools) > 0 {
		opts = append(opts, llms.WithTools(llmTools))
	}

	maxSteps := b.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 25
	}

	result := &AgentResult{}
	var texts []string

	for i := 0; i < maxSteps; i++ {
		resp, err := b.Model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return result, fmt.Errorf("generate content: %w", err)
		}
		if len(resp.Choices) == 0 {
			return result, errors.New("model returned no choices")
		}
		choice := resp.Choices[0]
		result.Steps++
		result.Usage.add(usageFromInfo(choice.GenerationInfo))
		b.Logger.LogLLM(b.SessionID, req.Prompt, choice.Content, choice.ToolCalls)

		var assistantParts []llms.ContentPart
		if choice.Content != "" {
			assistantParts = append(assistantParts, llms.TextContent{Text: choice.Content})
			texts = append(texts, choice.Content)
		}
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, tc)
		}
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: assistantParts,
		})

		step := AgentStep{Index: i + 1, Text: choice.Content}
		for _, tc := range choice.ToolCalls {
			inv := b.executeTool(ctx, tc)
			step.ToolCalls = append(step.ToolCalls, inv)

			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       inv.Name,
						Content:    inv.Output,
					},
				},
			})
		}

		if req.OnStep != nil && req.OnStep(step) {
			result.Stopped = true
			break
		}

		// If no tool calls, this is the final answer
		if len(choice.ToolCalls) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	result.Text = strings.Join(texts, "\n")
	return result, nil
}

func (b *WorkerBrain) executeTool(ctx context.Context, tc llms.ToolCall) ToolInvocation {
	if tc.FunctionCall == nil {
		return ToolInvocation{Name: "unknown", Output: "Error: tool call without function"}
	}
	inv := ToolInvocation{Name: tc.FunctionCall.Name, Arguments: tc.FunctionCall.Arguments}

	var tool tools.Tool
	if b.Registry != nil {
		tool = b.Registry.Get(inv.Name)
	}
	if tool == nil {
		inv.Output = fmt.Sprintf("Error: Tool %s not found", inv.Name)
		return inv
	}

	if b.Policy != nil {
		decision, err := b.Policy.Evaluate(ctx, governance.Request{
			Tool:      inv.Name,
			Arguments: inv.Arguments,
			SessionID: b.SessionID,
		})
		if err != nil {
			inv.Output = fmt.Sprintf("Error: policy check failed: %v", err)
			return inv
		}
		if decision.Effect == governance.EffectDeny {
			inv.Denied = true
			inv.Output = "Denied: " + decision.Reason
			b.Logger.LogToolCall(b.SessionID, inv.Name, inv.Arguments, true)
			return inv
		}
	}

	b.Logger.LogToolCall(b.SessionID, inv.Name, inv.Arguments, false)
	res, err := tool.Execute(ctx, inv.Arguments)
	if err != nil {
		log.Printf("[session %s] tool %s failed: %v", b.SessionID, inv.Name, err)
		res = fmt.Sprintf("Error: %v", err)
	}
	inv.Output = res
	return inv
}

// usageFromInfo reads token counts from provider generation info. OpenAI
// style keys are tried first, then Anthropic style.
func usageFromInfo(info map[string]any) TokenUsage {
	var u TokenUsage
	if info == nil {
		return u
	}
	u.PromptTokens = firstInt(info, "PromptTokens", "InputTokens")
	u.CompletionTokens = firstInt(info, "CompletionTokens", "OutputTokens")
	u.TotalTokens = firstInt(info, "TotalTokens")
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
