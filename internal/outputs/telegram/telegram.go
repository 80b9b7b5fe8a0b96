package telegram

import "context"

type ParseMode string

const (
	ParseModeNone       ParseMode = ""
	ParseModeMarkdownV2 ParseMode = "MarkdownV2"
)

// Message is one outbound chat message. When PhotoURL is set the sender tries
// a photo with Text as its caption first.
type Message struct {
	Text      string
	PhotoURL  string
	ParseMode ParseMode
}

type Sender interface {
	Send(ctx context.Context, message Message) error
}
