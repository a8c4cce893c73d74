// Package chat runs one conversational exchange end to end: it loads the
// conversation, fits the prompt window to the token budget, calls the
// completion API and commits the new exchange back to the store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightgems/openai-api-server/internal/budget"
	"github.com/brightgems/openai-api-server/internal/history"
	"github.com/brightgems/openai-api-server/internal/llm"
	"github.com/brightgems/openai-api-server/internal/prompt"
	"github.com/brightgems/openai-api-server/internal/storage"
	"github.com/brightgems/openai-api-server/internal/tokenizer"
)

const (
	DefaultModel          = "gpt-3.5-turbo"
	DefaultEmbeddingModel = "text-embedding-ada-002"
	DefaultTemperature    = 0.5
	DefaultMaxTokens      = 4000
	DefaultTimeout        = 120 * time.Second
)

// DefaultStop keeps the model from running on past a paragraph break.
var DefaultStop = []string{"\n\n\n"}

var (
	ErrEmptyMessage        = errors.New("message is empty")
	ErrUpstreamTimeout     = errors.New("completion api timed out")
	ErrClientGone          = errors.New("client stopped receiving")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrNoEmbedder          = errors.New("embeddings are not configured")
)

type Options struct {
	BasePrompt     string
	DefaultModel   string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	// TokenBuffer is subtracted from the prompt context base; -1 keeps the
	// default budget.
	TokenBuffer int
	Timeout     time.Duration
	Stop        []string
}

func DefaultOptions() Options {
	return Options{
		DefaultModel:   DefaultModel,
		EmbeddingModel: DefaultEmbeddingModel,
		Temperature:    DefaultTemperature,
		MaxTokens:      DefaultMaxTokens,
		TokenBuffer:    -1,
		Timeout:        DefaultTimeout,
		Stop:           DefaultStop,
	}
}

type Request struct {
	Message        string
	ConversationID string
	// ParentMessageID is accepted for client compatibility and ignored.
	ParentMessageID string
	Model           string
	Temperature     *float32
	MaxTokens       int
	BasePrompt      string
	User            string
}

type Reply struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Prompt         string `json:"ask"`
	Response       string `json:"response"`
	Model          string `json:"model"`
	PromptTokens   int    `json:"promptTokens"`
	MaxTokens      int    `json:"maxTokens"`
	Trimmed        int    `json:"trimmed"`
	OverBudget     bool   `json:"overBudget"`
}

type Option func(*Orchestrator)

func WithEmbedder(e llm.Embedder) Option {
	return func(o *Orchestrator) { o.embedder = e }
}

func WithRecorder(r storage.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

type Orchestrator struct {
	store    *history.Store
	client   llm.Client
	counter  tokenizer.Counter
	policy   *budget.Policy
	embedder llm.Embedder
	recorder storage.Recorder
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

func New(store *history.Store, client llm.Client, counter tokenizer.Counter, policy *budget.Policy, opts Options, options ...Option) *Orchestrator {
	def := DefaultOptions()
	if opts.DefaultModel == "" {
		opts.DefaultModel = def.DefaultModel
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = def.EmbeddingModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Stop == nil {
		opts.Stop = def.Stop
	}
	if policy == nil {
		policy = budget.NewPolicy(counter, nil)
	}
	o := &Orchestrator{
		store:   store,
		client:  client,
		counter: counter,
		policy:  policy,
		opts:    opts,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// exchange is the prepared state of one request, held under the
// conversation lock.
type exchange struct {
	req     Request
	builder *prompt.Builder
	window  prompt.Window
	llmReq  llm.Request
	log     *zap.Logger
}

func (o *Orchestrator) normalize(req Request) (Request, error) {
	if strings.TrimSpace(req.Message) == "" {
		return req, ErrEmptyMessage
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if req.Model == "" {
		req.Model = o.opts.DefaultModel
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = o.opts.MaxTokens
	}
	if req.BasePrompt == "" {
		req.BasePrompt = o.opts.BasePrompt
	}
	return req, nil
}

// prepare must be called with the conversation lock held. The builder works
// on a copy, so nothing in the store changes until commit.
func (o *Orchestrator) prepare(req Request) *exchange {
	h, _ := o.store.Get(req.ConversationID)
	b := prompt.NewBuilder(o.counter, o.opts.BasePrompt, h, prompt.WithBuffer(o.opts.TokenBuffer))
	w := b.Build(req.Message, req.BasePrompt)

	temperature := o.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := o.policy.MaxOutputTokens(req.Model, w.Text, req.MaxTokens)

	log := o.log.With(
		zap.String("conversation_id", req.ConversationID),
		zap.String("model", req.Model),
	)
	if w.Trimmed > 0 {
		log.Debug("history trimmed to fit prompt budget", zap.Int("trimmed", w.Trimmed), zap.Int("budget", w.Budget))
	}
	if w.OverBudget {
		log.Warn("prompt exceeds budget with no history left",
			zap.Int("tokens", w.Tokens), zap.Int("budget", w.Budget))
	}

	return &exchange{
		req:     req,
		builder: b,
		window:  w,
		log:     log,
		llmReq: llm.Request{
			Messages:    w.Messages,
			Model:       req.Model,
			Temperature: temperature,
			MaxTokens:   maxTokens,
			Stop:        o.opts.Stop,
		},
	}
}

// Ask performs a synchronous exchange. On any error the conversation is
// left exactly as it was.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (Reply, error) {
	req, err := o.normalize(req)
	if err != nil {
		return Reply{}, err
	}
	unlock, err := o.store.Lock(ctx, req.ConversationID)
	if err != nil {
		return Reply{}, fmt.Errorf("waiting for conversation: %w", err)
	}
	defer unlock()

	ex := o.prepare(req)

	callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	started := o.now()
	resp, err := o.client.Complete(callCtx, ex.llmReq)
	if err != nil {
		err = upstreamError(ctx, callCtx, err)
		ex.log.Error("completion failed", zap.Error(err))
		return Reply{}, err
	}
	ex.log.Info("completion done",
		zap.Duration("elapsed", o.now().Sub(started)),
		zap.Int("prompt_tokens", resp.PromptTokens),
		zap.Int("completion_tokens", resp.CompletionTokens),
	)
	return o.commit(ex, resp.ID, resp.Content, false), nil
}

// AskStream forwards response fragments to emit in generation order. A
// fragment marked done, or one with only whitespace, ends the stream. The
// conversation is updated once, after the stream completes; if emit fails
// the exchange is dropped.
func (o *Orchestrator) AskStream(ctx context.Context, req Request, emit func(string) error) (Reply, error) {
	req, err := o.normalize(req)
	if err != nil {
		return Reply{}, err
	}
	unlock, err := o.store.Lock(ctx, req.ConversationID)
	if err != nil {
		return Reply{}, fmt.Errorf("waiting for conversation: %w", err)
	}
	defer unlock()

	ex := o.prepare(req)

	callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	stream, err := o.client.CompleteStream(callCtx, ex.llmReq)
	if err != nil {
		err = upstreamError(ctx, callCtx, err)
		ex.log.Error("completion stream failed to open", zap.Error(err))
		return Reply{}, err
	}
	defer stream.Close()

	var (
		sb        strings.Builder
		messageID string
		received  bool
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			err = upstreamError(ctx, callCtx, err)
			ex.log.Error("completion stream broke", zap.Error(err))
			return Reply{}, err
		}
		if messageID == "" {
			messageID = chunk.ID
		}
		if strings.TrimSpace(chunk.Text) == "" {
			break
		}
		received = true
		sb.WriteString(chunk.Text)
		if err := emit(chunk.Text); err != nil {
			ex.log.Info("client went away mid-stream, exchange dropped", zap.Error(err))
			return Reply{}, fmt.Errorf("%w: %v", ErrClientGone, err)
		}
		if chunk.Done {
			break
		}
	}
	if !received {
		ex.log.Error("completion stream ended without content")
		return Reply{}, llm.ErrNoMessage
	}
	return o.commit(ex, messageID, sb.String(), true), nil
}

func (o *Orchestrator) commit(ex *exchange, messageID, content string, streamed bool) Reply {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	ex.builder.AppendExchange(ex.req.Message, content)
	o.store.Replace(ex.req.ConversationID, ex.builder.History())

	reply := Reply{
		ConversationID: ex.req.ConversationID,
		MessageID:      messageID,
		Prompt:         ex.req.Message,
		Response:       content,
		Model:          ex.req.Model,
		PromptTokens:   ex.window.Tokens,
		MaxTokens:      ex.llmReq.MaxTokens,
		Trimmed:        ex.window.Trimmed,
		OverBudget:     ex.window.OverBudget,
	}
	o.record(ex, reply, streamed)
	return reply
}

func (o *Orchestrator) record(ex *exchange, reply Reply, streamed bool) {
	if o.recorder == nil {
		return
	}
	err := o.recorder.AppendInteraction(storage.Event{
		Timestamp:         o.now().UTC(),
		ConversationID:    reply.ConversationID,
		MessageID:         reply.MessageID,
		User:              ex.req.User,
		Model:             reply.Model,
		UserMessage:       reply.Prompt,
		AssistantResponse: reply.Response,
		Streamed:          streamed,
		Trimmed:           reply.Trimmed,
	})
	if err != nil {
		ex.log.Warn("failed to record interaction", zap.Error(err))
	}
}

// upstreamError maps a deadline hit by our own timeout to
// ErrUpstreamTimeout. Cancellation by the caller is passed through.
func upstreamError(parent, call context.Context, err error) error {
	if parent.Err() == nil && errors.Is(call.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("completion: %w", err)
}

func (o *Orchestrator) Embed(ctx context.Context, text, model string) ([]float32, error) {
	if o.embedder == nil {
		return nil, ErrNoEmbedder
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if model == "" {
		model = o.opts.EmbeddingModel
	}
	callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	vec, err := o.embedder.Embed(callCtx, text, model)
	if err != nil {
		return nil, upstreamError(ctx, callCtx, err)
	}
	return vec, nil
}

// History returns a copy of the stored conversation.
func (o *Orchestrator) History(id string) (history.History, bool) {
	return o.store.Get(id)
}

// Conversations lists the stored conversation ids in lexical order.
func (o *Orchestrator) Conversations() []string {
	return o.store.IDs()
}

// Reset forgets a conversation. It waits for an exchange in flight on the
// same id to finish.
func (o *Orchestrator) Reset(id string) {
	unlock, _ := o.store.Lock(context.Background(), id)
	defer unlock()
	o.store.Remove(id)
	o.log.Info("conversation reset", zap.String("conversation_id", id))
}

// Rollback drops the newest n messages of a conversation and returns what
// is left.
func (o *Orchestrator) Rollback(id string, n int) (history.History, error) {
	unlock, _ := o.store.Lock(context.Background(), id)
	defer unlock()
	h, ok := o.store.Get(id)
	if !ok {
		return nil, ErrUnknownConversation
	}
	if n <= 0 {
		return h, nil
	}
	if n > len(h) {
		n = len(h)
	}
	h = h[:len(h)-n]
	o.store.Replace(id, h)
	o.log.Info("conversation rolled back", zap.String("conversation_id", id), zap.Int("dropped", n))
	return h, nil
}
