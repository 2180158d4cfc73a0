package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LLMConfig points the agent at an OpenAI-compatible chat completion
// endpoint.
type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolDefinition struct {
	Type     string             `json:"type"`
	Function functionDefinition `json:"function"`
}

type functionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []chatMessage    `json:"messages"`
	Tools    []toolDefinition `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// llmClient is a minimal client for the chat completion API. Only the
// non-streaming tool-calling subset the agent loop needs is covered.
type llmClient struct {
	conf   LLMConfig
	client *http.Client
}

func newLLMClient(conf LLMConfig, client *http.Client) *llmClient {
	if client == nil {
		client = http.DefaultClient
	}

	return &llmClient{conf: conf, client: client}
}

func (c *llmClient) complete(ctx context.Context, messages []chatMessage, tools []toolDefinition) (chatMessage, error) {
	if c.conf.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.RequestTimeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.conf.Model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return chatMessage{}, fmt.Errorf("encoding chat request: %w", err)
	}

	url := strings.TrimSuffix(c.conf.BaseURL, "/") + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return chatMessage{}, fmt.Errorf("creating chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.conf.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.conf.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return chatMessage{}, fmt.Errorf("calling chat completion endpoint: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return chatMessage{}, fmt.Errorf("reading chat completion response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return chatMessage{}, fmt.Errorf("decoding chat completion response: %w", err)
	}

	if parsed.Error != nil {
		return chatMessage{}, fmt.Errorf("chat completion failed: %s", parsed.Error.Message)
	}

	if resp.StatusCode != http.StatusOK {
		return chatMessage{}, fmt.Errorf("chat completion endpoint answered with status %d", resp.StatusCode)
	}

	if len(parsed.Choices) == 0 {
		return chatMessage{}, fmt.Errorf("chat completion response contains no choices")
	}

	return parsed.Choices[0].Message, nil
}
