package llm

import (
	"fmt"
	"strings"

	"github.com/brightgems/openai-api-server/internal/config"
)

const (
	ProviderOpenAI = "openai"
	ProviderYandex = "yandex"
)

// Factory builds provider clients from the credentials in config.
type Factory struct {
	openAIKey     string
	openAIBaseURL string
	referrer      string
	title         string
	yandexToken   string
	yandexFolder  string
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		openAIKey:     cfg.OpenAIAPIKey,
		openAIBaseURL: cfg.OpenAIBaseURL,
		referrer:      cfg.OpenRouterReferrer,
		title:         cfg.OpenRouterTitle,
		yandexToken:   cfg.YandexOAuthToken,
		yandexFolder:  cfg.YandexFolderID,
	}
}

// CreateClient returns the chat client for provider. model is the default
// used when a request does not name one.
func (f *Factory) CreateClient(provider, model string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderOpenAI:
		return f.OpenAI(model), nil
	case ProviderYandex:
		return NewYandex(f.yandexToken, f.yandexFolder)
	}
	return nil, fmt.Errorf("unknown llm provider: %s", provider)
}

// OpenAI returns the OpenAI-compatible client. Embeddings are always served
// by it, whatever provider answers chat requests.
func (f *Factory) OpenAI(model string) *OpenAIClient {
	return NewOpenAI(f.openAIKey, f.openAIBaseURL, model, f.referrer, f.title)
}
