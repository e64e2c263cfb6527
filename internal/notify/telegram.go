package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers notifications through the Telegram Bot API. The bot
// is initialised on first use because the library validates the token with a
// getMe round trip.
type TelegramSender struct {
	token    string
	chatID   string
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
// chatID is either a numeric chat id or an @channel username.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:    token,
		chatID:   chatID,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithEndpoint overrides the Bot API endpoint format (tests, self-hosted API).
func (t *TelegramSender) WithEndpoint(endpoint string) *TelegramSender {
	t.endpoint = endpoint
	return t
}

// Send posts title and message to the configured chat using Markdown.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	bot, err := t.botAPI()
	if err != nil {
		return err
	}

	text := fmt.Sprintf("*%s*\n%s", title, message)
	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else if strings.HasPrefix(t.chatID, "@") {
		msg = tgbotapi.NewMessageToChannel(t.chatID, text)
	} else {
		return fmt.Errorf("telegram: invalid chat id %q", t.chatID)
	}
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

func (t *TelegramSender) botAPI() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	t.bot = bot
	return bot, nil
}
