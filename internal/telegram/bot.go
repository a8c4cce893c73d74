package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/brightgems/openai-api-server/internal/auth"
	"github.com/brightgems/openai-api-server/internal/chat"
	"github.com/brightgems/openai-api-server/internal/llm"
)

const resetCmd = "reset_ctx"

// Chatter is what the bot needs from the orchestrator.
type Chatter interface {
	Ask(ctx context.Context, req chat.Request) (chat.Reply, error)
	Reset(id string)
}

type Bot struct {
	api   *tgbotapi.BotAPI
	s     sender
	chat  Chatter
	users *auth.Service
	log   *zap.Logger
}

// New connects to the Bot API. users may be nil to let every chat in.
func New(botToken string, chatter Chatter, users *auth.Service, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		api:   api,
		s:     botAPISender{api: api},
		chat:  chatter,
		users: users,
		log:   log.Named("telegram").With(zap.String("bot", api.Self.UserName)),
	}, nil
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	b.log.Info("polling for updates")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleIncomingMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(update.CallbackQuery)
	}
}

// conversationID maps a Telegram chat onto a conversation.
func conversationID(chatID int64) string {
	return fmt.Sprintf("tg-%d", chatID)
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	log := b.log.With(zap.Int64("chat_id", msg.Chat.ID), zap.String("user", msg.From.UserName))

	if b.users != nil && !b.users.IsAllowed(msg.From.UserName) {
		log.Warn("unauthorized telegram user")
		b.sendMessage(msg.Chat.ID, "Access denied.")
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.sendMessage(msg.Chat.ID, "Hi! Send me a message to start a conversation. /reset clears the context.")
		case "reset":
			b.chat.Reset(conversationID(msg.Chat.ID))
			b.sendMessage(msg.Chat.ID, "Context reset.")
		default:
			b.sendMessage(msg.Chat.ID, "Unknown command.")
		}
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	reply, err := b.chat.Ask(ctx, chat.Request{
		Message:        msg.Text,
		ConversationID: conversationID(msg.Chat.ID),
		User:           "tg:" + msg.From.UserName,
	})
	if err != nil {
		log.Error("chat failed", zap.Error(err))
		b.sendMessage(msg.Chat.ID, userFacingError(err))
		return
	}
	log.Info("reply sent",
		zap.String("model", reply.Model),
		zap.Int("trimmed", reply.Trimmed),
		zap.Bool("over_budget", reply.OverBudget),
	)

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Reset context", resetCmd),
		),
	)
	parts := splitMessage(reply.Response, maxMessageLen)
	for i, part := range parts {
		out := tgbotapi.NewMessage(msg.Chat.ID, part)
		if i == len(parts)-1 {
			out.ReplyMarkup = kb
		}
		if _, err := b.s.Send(out); err != nil {
			log.Error("failed to send message", zap.Error(err))
			return
		}
	}
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	if cb.Data != resetCmd || cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	if _, err := b.s.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn("failed to answer callback", zap.Error(err))
	}
	b.chat.Reset(conversationID(cb.Message.Chat.ID))
	b.sendMessage(cb.Message.Chat.ID, "Context reset.")
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.s.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Error("failed to send message", zap.Error(err))
	}
}

func userFacingError(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return "Too many requests right now, please try again later."
	case errors.Is(err, chat.ErrUpstreamTimeout):
		return "The model took too long to answer, please try again."
	}
	return "Sorry, something went wrong."
}
