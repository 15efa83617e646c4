// Package notify delivers out-of-band circuit-breaker alerts.
package notify

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Telegram sends breaker transitions to a chat. Sends run in a
// goroutine so a slow API never blocks the step loop.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram authenticates against the bot API.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) BreakerOpened(reason string, statistic float64, resumeAt time.Time) {
	t.send(fmt.Sprintf("⛔ trading halted: %s (stat %.4f), resumes %s",
		reason, statistic, resumeAt.Format(time.RFC3339)))
}

func (t *Telegram) BreakerClosed(reason string) {
	t.send(fmt.Sprintf("✅ trading resumed after %s", reason))
}

func (t *Telegram) send(text string) {
	go func() {
		if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
			log.Warn().Err(err).Msg("telegram send failed")
		}
	}()
}
