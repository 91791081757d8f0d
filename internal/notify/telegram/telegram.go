// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single sendMessage call.
const DefaultTimeout = 10 * time.Second

// Config holds the bot credentials and destination chat.
type Config struct {
	Token  string
	ChatID string
	// ServerURL overrides the Bot API endpoint; empty means the public API.
	ServerURL string
	Timeout   time.Duration
}

// Validate ensures the credentials are present.
func (c Config) Validate() error {
	if c.Token == "" {
		return errors.New("telegram token is required")
	}
	if c.ChatID == "" {
		return errors.New("telegram chat id is required")
	}
	return nil
}

// Notifier sends plain text messages to one chat.
type Notifier struct {
	bot     *bot.Bot
	chatID  string
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a Notifier. The bot is not contacted until the first Send.
func New(cfg Config, logger *zap.Logger) (*Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.ServerURL))
	}
	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{bot: b, chatID: cfg.ChatID, timeout: timeout, logger: logger}, nil
}

// Send implements watch.Notifier. Link previews are disabled so the message
// stays compact.
func (n *Notifier) Send(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             n.chatID,
		Text:               text,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	n.logger.Debug("telegram sent", zap.Int("message_id", msg.ID))
	return nil
}
