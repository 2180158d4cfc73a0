// Package agent implements a tool-calling chat agent. Each user message
// runs a completion loop against an OpenAI-compatible model: the model
// either answers directly or requests tool calls, which are executed
// against the session's MCP tool server and fed back until the model
// produces a final answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	slogctx "github.com/veqryn/slog-context"
)

const defaultSystemPrompt = "You are a helpful assistant."

// ErrTooManyTurns reports that the completion loop hit the turn limit
// without the model producing a final answer.
var ErrTooManyTurns = errors.New("agent exceeded the maximum number of tool-calling turns")

// Tools is the tool surface the agent drives. *toolclient.Client
// satisfies it.
type Tools interface {
	Tools() []mcp.Tool
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

type Config struct {
	LLM          LLMConfig
	SystemPrompt string
	MaxTurns     int
}

// ChatAgent holds one session's conversation and its tool connection.
// It is not safe for concurrent use; callers serialize per session.
type ChatAgent struct {
	llm      *llmClient
	tools    Tools
	maxTurns int

	mu       sync.Mutex
	messages []chatMessage
}

func New(conf Config, tools Tools, httpClient *http.Client) *ChatAgent {
	prompt := conf.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	maxTurns := conf.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 8
	}

	return &ChatAgent{
		llm:      newLLMClient(conf.LLM, httpClient),
		tools:    tools,
		maxTurns: maxTurns,
		messages: []chatMessage{{Role: "system", Content: prompt}},
	}
}

// Handle runs one user message through the completion loop and returns
// the model's final answer. The conversation history is kept, so
// follow-up messages see earlier turns.
func (a *ChatAgent) Handle(ctx context.Context, message string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	defs, err := toolDefinitions(a.tools.Tools())
	if err != nil {
		return "", err
	}

	history := append(a.messages, chatMessage{Role: "user", Content: message})

	for turn := 0; turn < a.maxTurns; turn++ {
		reply, err := a.llm.complete(ctx, history, defs)
		if err != nil {
			return "", err
		}

		history = append(history, reply)

		if len(reply.ToolCalls) == 0 {
			a.messages = history

			return reply.Content, nil
		}

		for _, call := range reply.ToolCalls {
			result := a.execute(ctx, call)
			history = append(history, chatMessage{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return "", ErrTooManyTurns
}

// execute runs one requested tool call. Failures are reported back to
// the model as the tool result instead of aborting the conversation.
func (a *ChatAgent) execute(ctx context.Context, call toolCall) string {
	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Sprintf("invalid tool arguments: %v", err)
		}
	}

	slogctx.Info(ctx, "Calling a tool", "tool", call.Function.Name)

	result, err := a.tools.CallTool(ctx, call.Function.Name, args)
	if err != nil {
		slogctx.Warn(ctx, "Tool call failed", "tool", call.Function.Name, "error", err)

		return fmt.Sprintf("tool call failed: %v", err)
	}

	return result
}

func (a *ChatAgent) Close() error {
	return a.tools.Close()
}

func toolDefinitions(tools []mcp.Tool) ([]toolDefinition, error) {
	defs := make([]toolDefinition, 0, len(tools))
	for _, tool := range tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("encoding input schema of tool %s: %w", tool.Name, err)
		}

		defs = append(defs, toolDefinition{
			Type: "function",
			Function: functionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		})
	}

	return defs, nil
}
