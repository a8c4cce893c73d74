package telegram

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLen is the Bot API text limit, counted in UTF-16 code units.
const maxMessageLen = 4096

// sender is the slice of the Bot API the bot talks to; tests swap it out.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type botAPISender struct{ api *tgbotapi.BotAPI }

func (s botAPISender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return s.api.Send(c)
}

func (s botAPISender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return s.api.Request(c)
}

// splitMessage cuts text into pieces that fit one message, preferring to
// break after a newline.
func splitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = maxMessageLen
	}
	var parts []string
	for text != "" {
		cut, lastNL, units := len(text), -1, 0
		for i, r := range text {
			n := utf16.RuneLen(r)
			if n < 0 {
				n = 1
			}
			if units+n > limit {
				cut = i
				break
			}
			units += n
			if r == '\n' {
				lastNL = i + 1
			}
		}
		switch {
		case cut == 0:
			_, cut = utf8.DecodeRuneInString(text)
		case cut < len(text) && lastNL > 0:
			cut = lastNL
		}
		part := strings.TrimRight(text[:cut], "\n")
		if part != "" {
			parts = append(parts, part)
		}
		text = text[cut:]
	}
	return parts
}
