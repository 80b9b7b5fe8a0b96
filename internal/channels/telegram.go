package channels

import (
	"context"
	"strings"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/outputs/telegram"
)

// DescriptionLimit is how many characters of a description make it into a
// notification.
const DescriptionLimit = 200

// Telegram formats listings as MarkdownV2 messages with the listing photo.
type Telegram struct {
	sender telegram.Sender
}

func NewTelegram(sender telegram.Sender) *Telegram {
	return &Telegram{sender: sender}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) SendItem(ctx context.Context, item core.Item) error {
	return t.sender.Send(ctx, telegram.Message{
		Text:      FormatTelegramItem(item),
		PhotoURL:  item.ImageURL,
		ParseMode: telegram.ParseModeMarkdownV2,
	})
}

// SendStatus sends text as-is with no parse mode.
func (t *Telegram) SendStatus(ctx context.Context, text string) error {
	return t.sender.Send(ctx, telegram.Message{Text: text})
}

// FormatTelegramItem renders item as a MarkdownV2 message body.
func FormatTelegramItem(item core.Item) string {
	esc := telegram.EscapeMarkdownV2
	lines := []string{
		"🆕 *New Marketplace Listing\\!*",
		"",
		"📦 *" + esc(item.Title) + "*",
		"💰 " + esc(item.Price),
		"📍 " + esc(item.Location),
	}
	if desc := strings.TrimSpace(item.Description); desc != "" {
		lines = append(lines, "📝 "+esc(telegram.Truncate(desc, DescriptionLimit)))
	}
	if item.Term != "" {
		lines = append(lines, "🔎 "+esc(item.Term))
	}
	lines = append(lines, "", "🔗 [View Listing]("+telegram.EscapeLinkURL(item.URL)+")")
	return strings.Join(lines, "\n")
}
