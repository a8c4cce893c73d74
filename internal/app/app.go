// Package app builds the object graph from configuration and owns the
// process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/brightgems/openai-api-server/internal/analytics"
	"github.com/brightgems/openai-api-server/internal/auth"
	"github.com/brightgems/openai-api-server/internal/budget"
	"github.com/brightgems/openai-api-server/internal/chat"
	"github.com/brightgems/openai-api-server/internal/config"
	"github.com/brightgems/openai-api-server/internal/history"
	"github.com/brightgems/openai-api-server/internal/httpapi"
	"github.com/brightgems/openai-api-server/internal/llm"
	"github.com/brightgems/openai-api-server/internal/scheduler"
	"github.com/brightgems/openai-api-server/internal/storage"
	"github.com/brightgems/openai-api-server/internal/telegram"
	"github.com/brightgems/openai-api-server/internal/tokenizer"
)

const (
	Version = "1.0.0"

	defaultUpstream = "https://api.openai.com/v1"
	shutdownTimeout = 10 * time.Second
)

// Core is the chat engine shared by every front-end.
type Core struct {
	History      *history.Service
	Chat         *chat.Orchestrator
	Interactions *storage.FileRecorder
}

// NewCore restores conversations and wires the orchestrator to the
// configured provider.
func NewCore(cfg *config.Config, log *zap.Logger) (*Core, error) {
	if log == nil {
		log = zap.NewNop()
	}
	counter, err := tokenizer.New()
	if err != nil {
		return nil, err
	}

	rules := budget.DefaultRules
	if cfg.ModelLimitsPath != "" {
		rules, err = budget.LoadRules(cfg.ModelLimitsPath)
		if err != nil {
			return nil, err
		}
		log.Info("model limits loaded", zap.String("path", cfg.ModelLimitsPath), zap.Int("rules", len(rules)))
	}
	policy := budget.NewPolicy(counter, rules)

	factory := llm.NewFactory(cfg)
	client, err := factory.CreateClient(string(cfg.LLMProvider), cfg.ChatModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	options := []chat.Option{chat.WithLogger(log.Named("chat"))}
	if cfg.OpenAIAPIKey != "" {
		options = append(options, chat.WithEmbedder(factory.OpenAI(cfg.ChatModel)))
	} else {
		log.Warn("OPENAI_API_KEY is empty, embeddings are disabled")
	}

	var rec *storage.FileRecorder
	if cfg.InteractionLogPath != "" {
		rec, err = storage.NewFileRecorder(cfg.InteractionLogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to init interaction log: %w", err)
		}
		options = append(options, chat.WithRecorder(rec))
	}

	hist, err := history.NewService(cfg.ConversationFile, cfg.SaveInterval, log.Named("history"))
	if err != nil {
		return nil, err
	}

	orch := chat.New(hist.Store, client, counter, policy, chat.Options{
		BasePrompt:     cfg.BasePrompt,
		DefaultModel:   cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Temperature:    cfg.DefaultTemperature,
		MaxTokens:      cfg.DefaultMaxTokens,
		TokenBuffer:    cfg.PromptTokenBuffer,
		Timeout:        cfg.CompletionTimeout,
		Stop:           chat.DefaultStop,
	}, options...)

	return &Core{History: hist, Chat: orch, Interactions: rec}, nil
}

type App struct {
	*Core

	cfg   *config.Config
	log   *zap.Logger
	http  *httpapi.Server
	bot   *telegram.Bot
	sched *scheduler.Scheduler
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	core, err := NewCore(cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{Core: core, cfg: cfg, log: log, sched: scheduler.New(log)}

	var repo auth.Repository
	if cfg.AllowlistFilePath != "" {
		fr, err := auth.NewFileRepository(cfg.AllowlistFilePath)
		if err != nil {
			log.Warn("failed to init allowlist repo", zap.Error(err))
		} else {
			repo = fr
		}
	}
	users, err := auth.NewWithRepo(repo, auth.Options{
		InitialUsers: cfg.AdminUsers,
		Domains:      cfg.AllowedUserDomains,
		Password:     cfg.LoginPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init auth: %w", err)
	}
	if users.Open() {
		log.Warn("login is open: no allowlist, domains or password configured, any username gets a token")
	}
	issuer, err := auth.NewIssuer(cfg.JWTSecretKey, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	deps := httpapi.Deps{
		Chat:        core.Chat,
		Users:       users,
		Tokens:      issuer,
		Admins:      cfg.AdminUsers,
		CORSOrigins: cfg.CORSOrigins,
		Log:         log,
	}
	if core.Interactions != nil {
		deps.Interactions = core.Interactions
	}
	if cfg.OpenAIAPIKey != "" {
		base := cfg.OpenAIBaseURL
		if base == "" {
			base = defaultUpstream
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid OPENAI_BASE_URL: %w", err)
		}
		deps.Upstream, deps.UpstreamKey = u, cfg.OpenAIAPIKey
	}
	a.http = httpapi.New(deps)

	if cfg.TelegramBotToken != "" {
		a.bot, err = telegram.New(cfg.TelegramBotToken, core.Chat, users, log)
		if err != nil {
			return nil, err
		}
	}

	if core.Interactions != nil && cfg.DailyReportCron != "" {
		if err := a.sched.AddJob("daily-report", cfg.DailyReportCron, a.DailyReport); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Run serves until ctx is cancelled, then shuts down and writes a final
// conversation snapshot.
func (a *App) Run(ctx context.Context) error {
	a.History.Start()
	a.sched.Start()
	if a.bot != nil {
		go a.bot.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.http.Start(a.cfg.HTTPAddr) }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			a.log.Error("http server stopped", zap.Error(runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.http.Stop(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	a.sched.Stop()
	if err := a.History.Stop(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if a.Interactions != nil {
		if err := a.Interactions.Close(); err != nil {
			a.log.Warn("closing interaction log", zap.Error(err))
		}
	}
	a.log.Info("stopped")
	return runErr
}

// DailyReport logs usage statistics for the previous UTC day.
func (a *App) DailyReport(context.Context) error {
	events, err := a.Interactions.LoadInteractions()
	if err != nil {
		return fmt.Errorf("load interactions: %w", err)
	}
	day := time.Now().UTC().AddDate(0, 0, -1)
	stats := analytics.AnalyzeDailyLogs(events, day)
	a.log.Info("daily report",
		zap.String("date", stats.Date),
		zap.Int("messages", stats.TotalMessages),
		zap.Int("users", stats.UniqueUsers),
		zap.Int("conversations", stats.UniqueConversations),
		zap.String("summary", stats.GenerateReportSummary()),
	)
	return nil
}
