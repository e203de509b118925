package notify

import (
	"context"
	"go-poll/internal/config"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Telegram sends plain text messages through a bot. The bot is created on first use and
// recreated when token or endpoint change.
type Telegram struct {
	settings Settings
	client   *http.Client
	pacer    *rate.Limiter

	mu       sync.Mutex
	bot      *tgbotapi.BotAPI
	botToken string
	endpoint string
}

func NewTelegram(settings Settings) *Telegram {
	return &Telegram{
		settings: settings,
		client:   newHTTPClient(),
		pacer:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Enabled(ctx context.Context) bool {
	return t.settings.Bool(ctx, config.TelegramEnabled) &&
		t.settings.String(ctx, config.TelegramToken) != "" &&
		t.settings.String(ctx, config.TelegramChatID) != ""
}

func (t *Telegram) Send(ctx context.Context, message Message) error {
	chatId, err := strconv.ParseInt(t.settings.String(ctx, config.TelegramChatID), 10, 64)
	if err != nil {
		return errors.Wrap(err, "invalid telegram chat id")
	}
	bot, err := t.getBot(ctx)
	if err != nil {
		return err
	}
	if err = t.pacer.Wait(ctx); err != nil {
		return errors.Wrap(err, "failed waiting for telegram send slot")
	}

	msg := tgbotapi.NewMessage(chatId, message.Title(UrgentMarker)+"\n\n"+message.Body())
	msg.DisableWebPagePreview = true
	if _, err = bot.Send(msg); err != nil {
		return errors.Wrap(err, "failed sending telegram message")
	}
	return nil
}

func (t *Telegram) getBot(ctx context.Context) (*tgbotapi.BotAPI, error) {
	token := t.settings.String(ctx, config.TelegramToken)
	endpoint := t.settings.String(ctx, config.TelegramAPIEndpoint)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil && t.botToken == token && t.endpoint == endpoint {
		return t.bot, nil
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, t.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed creating telegram bot")
	}
	log.WithFields(log.Fields{"channel": t.Name(), "bot": bot.Self.UserName}).Info("Telegram bot authorized")
	t.bot, t.botToken, t.endpoint = bot, token, endpoint
	return bot, nil
}
