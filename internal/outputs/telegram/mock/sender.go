package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/bakkerme/marketwatch/internal/outputs/telegram"
)

// Sender records messages. Err fails every send; FailOn fails sends whose
// text contains one of its keys.
type Sender struct {
	mu       sync.Mutex
	Messages []telegram.Message
	Attempts int
	Err      error
	FailOn   map[string]error
}

func (s *Sender) Send(ctx context.Context, message telegram.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attempts++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Err != nil {
		return s.Err
	}
	for needle, err := range s.FailOn {
		if needle != "" && strings.Contains(message.Text, needle) {
			return err
		}
	}
	s.Messages = append(s.Messages, message)
	return nil
}

func (s *Sender) Sent() []telegram.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]telegram.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}
