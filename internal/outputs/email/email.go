package email

import "context"

// Message is one outbound email. HTMLBody is required; TextBody, when set,
// is attached as the plain-text alternative. ListingID is set on listing
// emails and empty on status emails.
type Message struct {
	From      string
	To        string
	Subject   string
	HTMLBody  string
	TextBody  string
	ListingID string
}

type Sender interface {
	Send(ctx context.Context, message Message) error
}
