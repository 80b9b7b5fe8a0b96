package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mail "github.com/wneessen/go-mail"

	"github.com/bakkerme/marketwatch/internal/outputs/email"
	"github.com/bakkerme/marketwatch/internal/retry"
)

// ListingHeader carries the listing id on listing emails so mail filters can
// thread or dedupe them.
const ListingHeader mail.Header = "X-Marketwatch-Listing"

const defaultFromName = "Marketplace Monitor"

// Config is the relay listing and status emails go through.
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	TLSMode            string
	InsecureSkipVerify bool
}

// TLSMode determines how the SMTP client should negotiate TLS.
type TLSMode string

const (
	// TLSModeAuto picks implicit TLS on 465 and STARTTLS elsewhere.
	TLSModeAuto     TLSMode = "auto"
	TLSModeDisabled TLSMode = "disabled"
	TLSModeStartTLS TLSMode = "starttls"
	TLSModeImplicit TLSMode = "implicit"
)

// Sender delivers emails over one relay. The client is built once and sends
// are serialized; a temporary (4xx) rejection is retried once.
type Sender struct {
	cfg    Config
	mode   TLSMode
	client *mail.Client
	retry  retry.Config
	mu     sync.Mutex
}

func NewSender(cfg Config) (*Sender, error) {
	if err := ValidateConfig(cfg.Host, cfg.Port, cfg.TLSMode); err != nil {
		return nil, err
	}
	mode, _ := parseTLSMode(cfg.TLSMode)
	mode = resolveTLSMode(mode, cfg.Port)

	client, err := mail.NewClient(cfg.Host, clientOptions(cfg, mode)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return &Sender{
		cfg:    cfg,
		mode:   mode,
		client: client,
		retry:  retry.Config{Attempts: 2, BaseDelay: time.Second, MaxDelay: 5 * time.Second},
	}, nil
}

func clientOptions(cfg Config, mode TLSMode) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSConfig(&tls.Config{
			ServerName:         cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}),
	}
	switch mode {
	case TLSModeDisabled:
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	case TLSModeImplicit:
		opts = append(opts, mail.WithSSL())
	default:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}
	return opts
}

func (s *Sender) Send(ctx context.Context, message email.Message) error {
	m, err := s.compose(message)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return retry.Do(ctx, s.retry, func(ctx context.Context) error {
		if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
			err = fmt.Errorf("failed to send email: %w", err)
			if !isTemporary(err) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
}

func (s *Sender) compose(message email.Message) (*mail.Msg, error) {
	from := message.From
	if from == "" {
		from = s.defaultFrom()
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", from, err)
	}
	if err := m.EnvelopeFrom(from); err != nil {
		return nil, fmt.Errorf("invalid envelope from address %q: %w", from, err)
	}
	if err := m.ToFromString(message.To); err != nil {
		return nil, fmt.Errorf("invalid to address(es) %q: %w", message.To, err)
	}
	m.Subject(message.Subject)
	m.SetDate()
	m.SetMessageID()
	if message.ListingID != "" {
		m.SetGenHeader(ListingHeader, message.ListingID)
	}
	if message.TextBody != "" {
		m.SetBodyString(mail.TypeTextPlain, message.TextBody)
		m.AddAlternativeString(mail.TypeTextHTML, message.HTMLBody)
	} else {
		m.SetBodyString(mail.TypeTextHTML, message.HTMLBody)
	}
	return m, nil
}

// defaultFrom uses the login when it is an address, else a marketwatch
// mailbox on the relay host.
func (s *Sender) defaultFrom() string {
	addr := "marketwatch@" + s.cfg.Host
	if strings.Contains(s.cfg.Username, "@") {
		addr = s.cfg.Username
	}
	return fmt.Sprintf("%s <%s>", defaultFromName, addr)
}

func isTemporary(err error) bool {
	var sendErr *mail.SendError
	return errors.As(err, &sendErr) && sendErr.IsTemp()
}

func resolveTLSMode(mode TLSMode, port int) TLSMode {
	if mode != TLSModeAuto {
		return mode
	}
	if port == 465 {
		return TLSModeImplicit
	}
	return TLSModeStartTLS
}

func parseTLSMode(mode string) (TLSMode, error) {
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "", "auto":
		return TLSModeAuto, nil
	case "disabled", "off", "none":
		return TLSModeDisabled, nil
	case "starttls", "start_tls":
		return TLSModeStartTLS, nil
	case "implicit", "smtptls", "smtp_tls":
		return TLSModeImplicit, nil
	default:
		return "", fmt.Errorf("invalid SMTP_TLS_MODE %q (auto, disabled, starttls, implicit)", mode)
	}
}

// ValidateConfig checks the static SMTP settings without dialing.
func ValidateConfig(host string, port int, tlsMode string) error {
	if strings.TrimSpace(host) == "" {
		return fmt.Errorf("smtp host is required")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("smtp port %d is out of range", port)
	}
	if _, err := parseTLSMode(tlsMode); err != nil {
		return err
	}
	return nil
}
