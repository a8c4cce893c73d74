package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Morwran/yagpt"
)

// IAM tokens expire after 12 hours.
const iamRefreshEvery = time.Hour

// YandexClient answers through YandexGPT. The folder decides which model
// runs, so Request.Model, Temperature and MaxTokens are not forwarded.
type YandexClient struct {
	ya    yagpt.YaGPTFace
	issue func() (string, error)
	now   func() time.Time

	mu       sync.Mutex
	iamToken string
	issuedAt time.Time
}

func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	if oauthToken == "" || folderID == "" {
		return nil, fmt.Errorf("yandex provider needs YANDEX_OAUTH_TOKEN and YANDEX_FOLDER_ID")
	}
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}
	c := &YandexClient{
		ya: ya,
		issue: func() (string, error) {
			resp, err := iam.Create()
			if err != nil {
				return "", err
			}
			return resp.IamToken, nil
		},
		now: time.Now,
	}
	if _, err := c.token(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *YandexClient) token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iamToken != "" && c.now().Sub(c.issuedAt) < iamRefreshEvery {
		return c.iamToken, nil
	}
	tok, err := c.issue()
	if err != nil {
		return "", fmt.Errorf("failed to create iam token: %w", err)
	}
	c.iamToken, c.issuedAt = tok, c.now()
	return tok, nil
}

func (c *YandexClient) Complete(ctx context.Context, req Request) (Response, error) {
	tok, err := c.token()
	if err != nil {
		return Response{}, err
	}
	messages := make([]yagpt.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, yagpt.Message{Role: string(m.Role), Content: m.Content})
	}

	resp, err := c.ya.CompletionWithCtx(ctx, tok, messages)
	if err != nil {
		return Response{}, fmt.Errorf("yagpt completion failed: %w", err)
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return Response{}, ErrNoChoices
	}
	content := resp.Alternatives[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return Response{}, ErrNoMessage
	}
	return Response{
		Content:          content,
		Model:            yagpt.YaModelLite,
		PromptTokens:     int(resp.Usage.InputTextTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}, nil
}

// CompleteStream has no native counterpart in YandexGPT; the whole answer
// is delivered as one finished chunk.
func (c *YandexClient) CompleteStream(ctx context.Context, req Request) (Stream, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return &singleChunkStream{chunk: Chunk{ID: resp.ID, Text: resp.Content, Done: true}}, nil
}

type singleChunkStream struct {
	chunk Chunk
	sent  bool
}

func (s *singleChunkStream) Recv() (Chunk, error) {
	if s.sent {
		return Chunk{}, io.EOF
	}
	s.sent = true
	return s.chunk, nil
}

func (s *singleChunkStream) Close() error { return nil }
