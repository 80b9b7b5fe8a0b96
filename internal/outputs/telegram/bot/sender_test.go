package bot

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/bakkerme/marketwatch/internal/outputs/telegram"
)

const (
	testToken   = "123:abc"
	apiBase     = "https://api.telegram.org/bot" + testToken
	okMessage   = `{"ok":true,"result":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"hi"}}`
	okPhoto     = `{"ok":true,"result":{"message_id":2,"date":1700000000,"chat":{"id":42,"type":"private"},"caption":"hi","photo":[{"file_id":"f1","file_unique_id":"u1","width":90,"height":90}]}}`
	badRequest  = `{"ok":false,"error_code":400,"description":"Bad Request: wrong file identifier/HTTP URL specified"}`
	sendMessage = "POST " + apiBase + "/sendMessage"
	sendPhoto   = "POST " + apiBase + "/sendPhoto"
)

func newTestSender(t *testing.T) (*Sender, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	sender, err := NewSender(Config{Token: testToken, ChatID: "42", Client: &http.Client{Transport: transport}}, nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	return sender, transport
}

func TestSendText(t *testing.T) {
	sender, transport := newTestSender(t)
	transport.RegisterResponder("POST", apiBase+"/sendMessage", httpmock.NewStringResponder(200, okMessage))

	err := sender.Send(context.Background(), telegram.Message{Text: "hi", ParseMode: telegram.ParseModeMarkdownV2})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := transport.GetCallCountInfo()[sendMessage]; got != 1 {
		t.Fatalf("sendMessage calls=%d, want 1", got)
	}
}

func TestSendPhoto(t *testing.T) {
	sender, transport := newTestSender(t)
	transport.RegisterResponder("POST", apiBase+"/sendPhoto", httpmock.NewStringResponder(200, okPhoto))
	transport.RegisterResponder("POST", apiBase+"/sendMessage", httpmock.NewStringResponder(200, okMessage))

	err := sender.Send(context.Background(), telegram.Message{Text: "hi", PhotoURL: "https://example.com/a.jpg"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := transport.GetCallCountInfo()
	if calls[sendPhoto] != 1 || calls[sendMessage] != 0 {
		t.Fatalf("unexpected calls: %v", calls)
	}
}

func TestSendPhotoFallsBackToText(t *testing.T) {
	sender, transport := newTestSender(t)
	transport.RegisterResponder("POST", apiBase+"/sendPhoto", httpmock.NewStringResponder(400, badRequest))
	transport.RegisterResponder("POST", apiBase+"/sendMessage", httpmock.NewStringResponder(200, okMessage))

	err := sender.Send(context.Background(), telegram.Message{Text: "hi", PhotoURL: "https://example.com/broken.jpg"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := transport.GetCallCountInfo()
	if calls[sendPhoto] != 1 || calls[sendMessage] != 1 {
		t.Fatalf("expected photo attempt then text fallback, got %v", calls)
	}
}

func TestSendReportsAPIError(t *testing.T) {
	sender, transport := newTestSender(t)
	transport.RegisterResponder("POST", apiBase+"/sendMessage", httpmock.NewStringResponder(400, badRequest))

	if err := sender.Send(context.Background(), telegram.Message{Text: "hi"}); err == nil {
		t.Fatalf("expected error from rejected message")
	}
}

func TestSendHonorsCancelledContext(t *testing.T) {
	sender, transport := newTestSender(t)
	transport.RegisterResponder("POST", apiBase+"/sendMessage", httpmock.NewStringResponder(200, okMessage))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sender.Send(ctx, telegram.Message{Text: "hi"}); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("no request expected after cancellation, got %d", got)
	}
}

func TestNewSenderValidates(t *testing.T) {
	if _, err := NewSender(Config{ChatID: "42"}, nil); err == nil {
		t.Fatalf("expected missing token error")
	}
	if _, err := NewSender(Config{Token: testToken}, nil); err == nil {
		t.Fatalf("expected missing chat id error")
	}
}
