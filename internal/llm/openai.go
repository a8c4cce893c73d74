package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const DefaultEmbeddingModel = string(openai.AdaEmbeddingV2)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

func NewOpenAI(apiKey, baseURL, model, referrer, title string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	// Inject optional headers (useful for OpenRouter)
	if referrer != "" || title != "" {
		h := http.Header{}
		if referrer != "" {
			h.Set("HTTP-Referer", referrer)
		}
		if title != "" {
			h.Set("X-Title", title)
		}
		base := http.DefaultTransport
		config.HTTPClient = &http.Client{Transport: headerTransport{rt: base, headers: h}}
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (c *OpenAIClient) chatRequest(req Request, stream bool) openai.ChatCompletionRequest {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    oaMsgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      stream,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	oaReq := c.chatRequest(req, false)
	resp, err := c.client.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		return Response{}, fmt.Errorf("failed to create chat completion: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return Response{}, ErrNoChoices
	}
	msg := resp.Choices[0].Message
	if msg.Content == "" && msg.Role == "" {
		return Response{}, ErrNoMessage
	}

	out := Response{
		ID:      resp.ID,
		Content: msg.Content,
		Model:   oaReq.Model,
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}
	out.PromptTokens = resp.Usage.PromptTokens
	out.CompletionTokens = resp.Usage.CompletionTokens
	out.TotalTokens = resp.Usage.TotalTokens
	return out, nil
}

func (c *OpenAIClient) CompleteStream(ctx context.Context, req Request) (Stream, error) {
	s, err := c.client.CreateChatCompletionStream(ctx, c.chatRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion stream: %w", classify(err))
	}
	return &openAIStream{stream: s}, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text, model string) ([]float32, error) {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", classify(err))
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoEmbedding
	}
	return resp.Data[0].Embedding, nil
}

// openAIStream adapts go-openai's stream to Stream. Whitespace-only deltas
// (newlines between paragraphs) are held back and prefixed to the next
// delta, so a whitespace-only chunk never reaches the caller mid-answer.
type openAIStream struct {
	stream  *openai.ChatCompletionStream
	pending string
}

func (s *openAIStream) Recv() (Chunk, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		if err != nil {
			return Chunk{}, fmt.Errorf("stream recv: %w", classify(err))
		}
		if len(resp.Choices) == 0 {
			return Chunk{}, ErrNoChoices
		}
		choice := resp.Choices[0]
		done := choice.FinishReason != ""
		text := choice.Delta.Content
		if !done && strings.TrimSpace(text) == "" {
			if text == "" && choice.Delta.Role == "" {
				return Chunk{ID: resp.ID}, nil
			}
			// role announcement or a whitespace token
			s.pending += text
			continue
		}
		if strings.TrimSpace(text) != "" {
			text = s.pending + text
			s.pending = ""
		}
		return Chunk{ID: resp.ID, Text: text, Done: done}, nil
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}
