package openai

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/llm"
	"missioncontrol/pkg/llmerrors"
	"missioncontrol/pkg/testkit"
	"missioncontrol/pkg/tools"
)

func newTestClient(server *testkit.MockServer, model string) *ChatClient {
	return NewChatClient(llm.Config{APIKey: "test-key", BaseURL: server.URL + "/v1", ModelName: model})
}

func TestCompleteSendsSystemMessageFirst(t *testing.T) {
	server := testkit.MockOpenAIServer(testkit.Reply{Text: "A minor pentatonic", InputTokens: 9, OutputTokens: 4})
	defer server.Close()

	resp, err := newTestClient(server, "moonshotai/kimi-k2.5").Complete(context.Background(),
		llm.NewCompletionRequest([]llm.CompletionMessage{
			llm.NewSystemMessage("You are TheoryBot."),
			llm.NewUserMessage("Name a scale"),
		}))
	require.NoError(t, err)
	assert.Equal(t, "A minor pentatonic", resp.Content)
	assert.Equal(t, 13, resp.Usage.Total())

	sent := server.Requests()[0]
	assert.Equal(t, "moonshotai/kimi-k2.5", sent["model"])
	msgs := sent["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestCompleteToolCalls(t *testing.T) {
	server := testkit.MockOpenAIServer(
		testkit.Reply{ToolUses: []testkit.ToolUse{{ID: "call_1", Name: tools.ToolValidateTab, Input: map[string]any{"tab": "e|--|"}}}},
		testkit.Reply{Text: "valid"},
	)
	defer server.Close()
	client := newTestClient(server, "gpt-4o")

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("check my tab")})
	req.Tools = []tools.ToolDefinition{tools.NewValidateTabTool().Definition()}
	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "e|--|", resp.ToolCalls[0].Parameters["tab"])

	req.Messages = append(req.Messages,
		llm.NewAssistantMessage("", resp.ToolCalls),
		llm.NewToolResultMessage([]llm.ToolResult{{ToolCallID: "call_1", Content: `{"valid":true}`}}),
	)
	_, err = client.Complete(context.Background(), req)
	require.NoError(t, err)

	msgs := server.Requests()[1]["messages"].([]any)
	require.Len(t, msgs, 3)
	toolMsg := msgs[2].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_1", toolMsg["tool_call_id"])

	fn := server.Requests()[0]["tools"].([]any)[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, tools.ToolValidateTab, fn["name"])
}

func TestCompleteClassifiesAuthErrors(t *testing.T) {
	server := testkit.MockOpenAIServer(testkit.Reply{Status: http.StatusUnauthorized})
	defer server.Close()

	_, err := newTestClient(server, "gpt-4o").Complete(context.Background(),
		llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth), "got %v", err)
}
