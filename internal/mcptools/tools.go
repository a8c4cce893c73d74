// Package mcptools exposes the chat orchestrator as MCP tools.
package mcptools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/brightgems/openai-api-server/internal/chat"
)

type Chatter interface {
	Ask(ctx context.Context, req chat.Request) (chat.Reply, error)
	Embed(ctx context.Context, text, model string) ([]float32, error)
	Reset(id string)
}

type ChatParams struct {
	Message        string   `json:"message" jsonschema:"the user message"`
	ConversationID string   `json:"conversation_id,omitempty" jsonschema:"conversation to continue; a new one is started when empty"`
	Model          string   `json:"model,omitempty" jsonschema:"completion model (default: server setting)"`
	Temperature    *float32 `json:"temperature,omitempty" jsonschema:"sampling temperature"`
	MaxTokens      int      `json:"max_tokens,omitempty" jsonschema:"upper bound for the answer length in tokens"`
	BasePrompt     string   `json:"base_prompt,omitempty" jsonschema:"system prompt override for this exchange"`
}

type EmbedParams struct {
	Text  string `json:"text" jsonschema:"text to embed"`
	Model string `json:"model,omitempty" jsonschema:"embedding model (default: server setting)"`
}

type ResetParams struct {
	ConversationID string `json:"conversation_id" jsonschema:"conversation to forget"`
}

type Tools struct {
	chat Chatter
	log  *zap.Logger
}

func New(chatter Chatter, log *zap.Logger) *Tools {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tools{chat: chatter, log: log.Named("mcp")}
}

// NewServer returns an MCP server with every tool registered.
func NewServer(chatter Chatter, version string, log *zap.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "openai-api-server-chat",
		Version: version,
	}, nil)
	New(chatter, log).Register(server)
	return server
}

func (t *Tools) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat",
		Description: "Sends a message to the assistant, continuing a conversation when conversation_id is given",
	}, t.Chat)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "embed",
		Description: "Returns the embedding vector of a text",
	}, t.Embed)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset_conversation",
		Description: "Forgets a conversation and its history",
	}, t.ResetConversation)
}

func errorResult(format string, args ...any) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func (t *Tools) Chat(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ChatParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	reply, err := t.chat.Ask(ctx, chat.Request{
		Message:        args.Message,
		ConversationID: args.ConversationID,
		Model:          args.Model,
		Temperature:    args.Temperature,
		MaxTokens:      args.MaxTokens,
		BasePrompt:     args.BasePrompt,
		User:           "mcp",
	})
	if err != nil {
		t.log.Warn("chat tool failed", zap.Error(err))
		return errorResult("chat failed: %v", err), nil
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: reply.Response}},
		Meta: map[string]interface{}{
			"conversation_id": reply.ConversationID,
			"message_id":      reply.MessageID,
			"model":           reply.Model,
			"trimmed":         reply.Trimmed,
			"over_budget":     reply.OverBudget,
		},
	}, nil
}

func (t *Tools) Embed(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[EmbedParams]) (*mcp.CallToolResultFor[any], error) {
	vec, err := t.chat.Embed(ctx, params.Arguments.Text, params.Arguments.Model)
	if err != nil {
		t.log.Warn("embed tool failed", zap.Error(err))
		return errorResult("embedding failed: %v", err), nil
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("embedding with %d dimensions", len(vec))}},
		Meta: map[string]interface{}{
			"embedding":  vec,
			"dimensions": len(vec),
		},
	}, nil
}

func (t *Tools) ResetConversation(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ResetParams]) (*mcp.CallToolResultFor[any], error) {
	id := params.Arguments.ConversationID
	if id == "" {
		return errorResult("conversation_id is required"), nil
	}
	t.chat.Reset(id)
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("conversation %s reset", id)}},
	}, nil
}
