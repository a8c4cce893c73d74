package storage

import "time"

// Event is one completed exchange: the user's message and the reply that
// was appended to the conversation history.
type Event struct {
	Timestamp         time.Time `json:"timestamp"`
	ConversationID    string    `json:"conversation_id"`
	MessageID         string    `json:"message_id"`
	User              string    `json:"user,omitempty"`
	Model             string    `json:"model"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	Streamed          bool      `json:"streamed,omitempty"`
	// Trimmed counts history entries evicted to fit the prompt budget.
	Trimmed int `json:"trimmed,omitempty"`
}

// Recorder persists interaction events. LoadInteractions returns events in
// the order they were appended. Implementations must be safe for
// concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
