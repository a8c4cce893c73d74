package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	ChatModel        string      `env:"CHAT_MODEL" envDefault:"gpt-3.5-turbo"`
	EmbeddingModel   string      `env:"EMBEDDING_MODEL" envDefault:"text-embedding-ada-002"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Prompt window
	BasePrompt         string        `env:"CUSTOM_BASE_PROMPT"`
	PromptTokenBuffer  int           `env:"PROMPT_TOKEN_BUFFER" envDefault:"-1"`
	DefaultTemperature float32       `env:"DEFAULT_TEMPERATURE" envDefault:"0.5"`
	DefaultMaxTokens   int           `env:"DEFAULT_MAX_TOKENS" envDefault:"4000"`
	CompletionTimeout  time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"120s"`
	ModelLimitsPath    string        `env:"MODEL_LIMITS_PATH"`

	// Conversation persistence
	ConversationFile string        `env:"CONVERSATION_FILE" envDefault:"conversation.json"`
	SaveInterval     time.Duration `env:"SAVE_INTERVAL" envDefault:"600s"`

	// HTTP
	HTTPAddr    string   `env:"HTTP_ADDR" envDefault:":8000"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`

	// Auth
	JWTSecretKey       string        `env:"JWT_SECRET_KEY,required"`
	TokenTTL           time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	LoginPassword      string        `env:"LOGIN_PASSWORD"`
	AllowedUserDomains []string      `env:"ALLOWED_USER_DOMAINS" envSeparator:","`
	AllowlistFilePath  string        `env:"ALLOWLIST_FILE_PATH" envDefault:"data/allowlist.json"`
	// AdminUsers may manage the allowlist over HTTP.
	AdminUsers []string `env:"ADMIN_USERS" envSeparator:","`

	// Storage
	InteractionLogPath string `env:"INTERACTION_LOG_PATH" envDefault:"logs/interactions.jsonl"`
	DailyReportCron    string `env:"DAILY_REPORT_CRON" envDefault:"0 21 * * *"`

	// Telegram front-end (optional)
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`

	// Logging
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	LogFilePath string `env:"LOG_FILE_PATH"`
}

// Parse reads the configuration from the environment.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.SaveInterval < time.Second {
		return nil, fmt.Errorf("SAVE_INTERVAL must be at least 1s, got %s", cfg.SaveInterval)
	}
	return cfg, nil
}
