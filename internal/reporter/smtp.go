package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/setevik/proxywatch/internal/config"
)

const defaultSMTPPort = 25

// SMTPTransport sends plain-text mail through an SMTP relay, by default the
// local MTA.
type SMTPTransport struct {
	host     string
	port     int
	policy   mail.TLSPolicy
	username string
	password string
	timeout  time.Duration
	now      func() time.Time
}

// NewSMTP creates a new SMTPTransport. PLAIN auth is used when a username
// is configured.
func NewSMTP(cfg *config.Config) *SMTPTransport {
	host, port := splitSMTPAddr(cfg.SMTP.Addr)
	return &SMTPTransport{
		host:     host,
		port:     port,
		policy:   tlsPolicy(cfg.SMTP.StartTLS, host),
		username: cfg.SMTP.Username,
		password: cfg.SMTP.Password,
		timeout:  cfg.Notify.Timeout.Duration,
		now:      time.Now,
	}
}

// Send delivers msg as a single mail transaction addressed to every
// recipient.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("no mail recipients configured")
	}

	m, err := t.compose(msg)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(t.port),
		mail.WithTLSPolicy(t.policy),
	}
	if t.timeout > 0 {
		opts = append(opts, mail.WithTimeout(t.timeout))
	}
	if t.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.username),
			mail.WithPassword(t.password),
		)
	}
	client, err := mail.NewClient(t.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client for %s: %w", t.addr(), err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("sending via %s: %w", t.addr(), err)
	}

	slog.Info("notification sent", "transport", "smtp", "recipients", len(msg.To), "kind", msg.Kind)
	return nil
}

// compose builds the MIME message for msg.
func (t *SMTPTransport) compose(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("sender %q: %w", msg.From, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("recipients %v: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(t.now())
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, strings.ReplaceAll(msg.Body, "\r\n", "\n"))
	return m, nil
}

func (t *SMTPTransport) addr() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

// tlsPolicy maps smtp.starttls onto a go-mail policy. Auto leaves loopback
// relays in plain text; local MTAs often present self-signed certificates.
func tlsPolicy(starttls, host string) mail.TLSPolicy {
	switch strings.ToLower(starttls) {
	case config.StartTLSAlways:
		return mail.TLSMandatory
	case config.StartTLSNever:
		return mail.NoTLS
	}
	if isLoopback(host) {
		return mail.NoTLS
	}
	return mail.TLSOpportunistic
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// splitSMTPAddr splits host:port, defaulting the port to 25.
func splitSMTPAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultSMTPPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return host, defaultSMTPPort
	}
	return host, port
}
