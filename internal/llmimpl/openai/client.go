// Package openai implements llm.Client over OpenAI-compatible chat
// completions. Kimi, OpenRouter and other compatible endpoints use it with
// a custom base URL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"missioncontrol/pkg/config"
	"missioncontrol/pkg/llm"
	"missioncontrol/pkg/llmerrors"
)

const providerName = "openai"

// DefaultModel is used when a provider row names no model.
const DefaultModel = "gpt-4o"

// ChatClient wraps the official OpenAI client to implement llm.Client.
type ChatClient struct {
	client openai.Client
	model  string
}

// NewChatClient creates a raw client; middleware is applied by the caller.
func NewChatClient(cfg llm.Config) *ChatClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.ModelName
	if model == "" {
		model = DefaultModel
	}
	return &ChatClient{client: openai.NewClient(opts...), model: model}
}

// buildMessages maps the conversation onto the system + messages shape.
// Tool results become one tool message per call.
func buildMessages(messages []llm.CompletionMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Parameters)
				if err != nil || call.Parameters == nil {
					args = []byte("{}")
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			for _, res := range msg.ToolResults {
				out = append(out, openai.ToolMessage(res.Content, res.ToolCallID))
			}
			if msg.Content != "" {
				out = append(out, openai.UserMessage(msg.Content))
			}
		}
	}
	return out
}

func buildTools(in llm.CompletionRequest) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(in.Tools))
	for i := range in.Tools {
		def := &in.Tools[i]
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(def.InputSchema.JSONSchema()),
			},
		})
	}
	return out
}

// Complete implements llm.Client.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (c *ChatClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	maxTokens := config.MaxOutputTokens(c.model, in.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    buildMessages(in.Messages),
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(float64(in.Temperature)),
	}
	if len(in.Tools) > 0 {
		params.Tools = buildTools(in)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return llm.CompletionResponse{}, llmerrors.FromProvider(providerName, apiErr.StatusCode, err)
		}
		return llm.CompletionResponse{}, llmerrors.FromProvider(providerName, 0, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from chat completions")
	}

	choice := resp.Choices[0]
	out := llm.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for _, call := range choice.Message.ToolCalls {
		var args map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return llm.CompletionResponse{}, fmt.Errorf("failed to parse arguments of tool %s: %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: call.ID, Name: call.Function.Name, Parameters: args})
	}
	return out, nil
}

// GetModelName returns the model name for this client.
func (c *ChatClient) GetModelName() string {
	return c.model
}
