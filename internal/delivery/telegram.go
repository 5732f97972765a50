package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/mediasync/internal/types"
)

const maxTelegramMessage = 4096

// Telegram pushes events to a chat through a bot. Sends happen in the
// background; Wait blocks until they finish.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	wg     sync.WaitGroup
}

// NewTelegram connects the bot identified by token. endpoint may be empty
// for the public Bot API.
func NewTelegram(token string, chatID int64, endpoint string) (*Telegram, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Deliver(ctx context.Context, ev *types.Event) error {
	text := formatTelegram(ev)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.send(text)
	}()
	return nil
}

// Wait blocks until every pending send has completed.
func (t *Telegram) Wait() {
	t.wg.Wait()
}

func (t *Telegram) send(text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(t.chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := t.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := t.bot.Send(msg); err != nil {
				slog.Warn("telegram send failed", "chat_id", t.chatID, "error", err)
			}
		}
	}
}

func formatTelegram(ev *types.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*", ev.Title)
	if msg := PlainMessage(ev.Message); msg != "" {
		b.WriteString("\n")
		b.WriteString(msg)
	}
	if ev.Progress != nil {
		fmt.Fprintf(&b, "\nProgress: %d%%", *ev.Progress)
	}
	if ev.Metadata.OutputURL != "" {
		b.WriteString("\n")
		b.WriteString(ev.Metadata.OutputURL)
	}
	return b.String()
}

// splitMessage cuts text into parts of at most maxTelegramMessage bytes.
// A cut never lands inside a UTF-8 sequence and moves back to a line
// break when one sits in the second half of the part.
func splitMessage(text string) []string {
	var parts []string
	for len(text) > maxTelegramMessage {
		cut := maxTelegramMessage
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl >= cut/2 {
			cut = nl + 1
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	return append(parts, text)
}
