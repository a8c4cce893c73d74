package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	role := Role(s)
	if !role.Valid() {
		return fmt.Errorf("unknown message role %q", s)
	}
	*r = role
	return nil
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Request carries everything a provider needs for one completion.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float32
	MaxTokens   int
	Stop        []string
}

type Response struct {
	ID               string
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Chunk is one fragment of a streamed completion. Done marks a fragment
// that carried a finish reason.
type Chunk struct {
	ID   string
	Text string
	Done bool
}

// Stream yields chunks in generation order. Recv returns io.EOF once the
// upstream closes the stream.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	CompleteStream(ctx context.Context, req Request) (Stream, error)
}

type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

var (
	ErrNoChoices   = errors.New("completion api returned no choices")
	ErrNoMessage   = errors.New("completion api returned no message")
	ErrRateLimited = errors.New("completion api rate limited")
	ErrNoEmbedding = errors.New("embedding api returned no data")
)

// IsProtocolError reports whether err means the upstream answered with a
// response the caller cannot use.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrNoChoices) || errors.Is(err, ErrNoMessage)
}
