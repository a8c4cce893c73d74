// Package prompt assembles the message window sent to the completion API,
// evicting the oldest history entries until it fits a token budget.
package prompt

import (
	"strings"

	"github.com/brightgems/openai-api-server/internal/llm"
	"github.com/brightgems/openai-api-server/internal/tokenizer"
)

const (
	DefaultBasePrompt = "You are ChatGPT, a large language model trained by OpenAI. " +
		"Respond conversationally. Do not answer as the user."

	// ContextBase is the window the buffer is subtracted from.
	ContextBase = 4000
	// DefaultBudget applies when no buffer is configured.
	DefaultBudget = 3600

	separator = "\n\n"
)

// Window is the result of one Build call.
type Window struct {
	Messages []llm.Message
	// Text is the serialized prompt the token count was taken from.
	Text    string
	Tokens  int
	Budget  int
	Trimmed int
	// OverBudget is set when history ran out before the prompt fit; the
	// window is then sent untrimmed beyond that point.
	OverBudget bool
}

type Builder struct {
	counter    tokenizer.Counter
	basePrompt string
	history    []llm.Message
	buffer     int
}

type Option func(*Builder)

// WithBuffer reserves buffer tokens of ContextBase for the answer. Negative
// values leave the default budget in place.
func WithBuffer(buffer int) Option {
	return func(b *Builder) { b.buffer = buffer }
}

// NewBuilder binds a builder to a private copy of history.
func NewBuilder(counter tokenizer.Counter, basePrompt string, history []llm.Message, opts ...Option) *Builder {
	if basePrompt == "" {
		basePrompt = DefaultBasePrompt
	}
	b := &Builder{
		counter:    counter,
		basePrompt: basePrompt,
		history:    append([]llm.Message(nil), history...),
		buffer:     -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) Budget() int {
	if b.buffer >= 0 {
		return ContextBase - b.buffer
	}
	return DefaultBudget
}

// Build returns system + history + user, dropping history from the front
// one entry at a time until the serialized prompt fits the budget. The
// loop runs at most len(history)+1 times.
func (b *Builder) Build(userMessage, basePromptOverride string) Window {
	base := b.basePrompt
	if basePromptOverride != "" {
		base = basePromptOverride
	}
	budget := b.Budget()
	trimmed := 0
	for {
		msgs := make([]llm.Message, 0, len(b.history)+2)
		msgs = append(msgs, llm.SystemMessage(base))
		msgs = append(msgs, b.history...)
		msgs = append(msgs, llm.UserMessage(userMessage))

		text := Serialize(msgs)
		tokens := b.counter.Count(text)
		w := Window{Messages: msgs, Text: text, Tokens: tokens, Budget: budget, Trimmed: trimmed}
		if tokens <= budget {
			return w
		}
		if len(b.history) == 0 {
			w.OverBudget = true
			return w
		}
		b.history = b.history[1:]
		trimmed++
	}
}

// AppendExchange records a completed user/assistant pair.
func (b *Builder) AppendExchange(userMessage, assistantResponse string) {
	b.history = append(b.history, llm.UserMessage(userMessage), llm.AssistantMessage(assistantResponse))
}

// History returns a copy of the working history, including any trimming
// done by Build.
func (b *Builder) History() []llm.Message {
	return append([]llm.Message{}, b.history...)
}

// Serialize joins message contents the way the budget is measured.
func Serialize(msgs []llm.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, separator)
}
