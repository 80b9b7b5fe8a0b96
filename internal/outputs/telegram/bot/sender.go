package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/bakkerme/marketwatch/internal/outputs/telegram"
)

const defaultTimeout = 15 * time.Second

// chat addresses a chat by numeric id or "@channel" username.
type chat string

func (c chat) Recipient() string { return string(c) }

// Sender delivers messages through the Telegram Bot API.
type Sender struct {
	bot    *tele.Bot
	chat   chat
	logger *slog.Logger
}

// Config configures the bot sender. APIURL and Client are optional and exist
// mostly so tests can point the bot at a fake API.
type Config struct {
	Token   string
	ChatID  string
	APIURL  string
	Client  *http.Client
	Timeout time.Duration
}

func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, errors.New("telegram chat id is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	// Offline skips the getMe round trip; the sender never polls.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  client,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Sender{bot: b, chat: chat(strings.TrimSpace(cfg.ChatID)), logger: logger}, nil
}

// Send posts message. A photo message that Telegram rejects (bad image URL,
// caption too long) is re-sent as text.
func (s *Sender) Send(ctx context.Context, message telegram.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := &tele.SendOptions{ParseMode: tele.ParseMode(message.ParseMode)}

	if message.PhotoURL != "" && len([]rune(message.Text)) <= telegram.CaptionLimit {
		photo := &tele.Photo{File: tele.FromURL(message.PhotoURL), Caption: message.Text}
		_, err := s.bot.Send(s.chat, photo, opts)
		if err == nil {
			return nil
		}
		s.logger.Warn("telegram photo send failed; sending text only", "error", err)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if _, err := s.bot.Send(s.chat, message.Text, opts); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
