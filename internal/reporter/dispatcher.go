package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/setevik/proxywatch/internal/config"
	"github.com/setevik/proxywatch/internal/enricher"
	"github.com/setevik/proxywatch/internal/event"
)

// ErrNoRecipients is returned when a message has nobody to go to.
var ErrNoRecipients = errors.New("no recipients configured")

// NewTransport returns the transport selected by notify.transport.
func NewTransport(cfg *config.Config) (Transport, error) {
	switch strings.ToLower(cfg.Notify.Transport) {
	case config.TransportSMTP, "":
		return NewSMTP(cfg), nil
	case config.TransportNtfy:
		return NewNtfy(cfg), nil
	default:
		return nil, fmt.Errorf("unknown notify transport %q", cfg.Notify.Transport)
	}
}

// Dispatcher turns batches into one notification each and carries
// operational notices to the admin channel.
type Dispatcher struct {
	transport    Transport
	enricher     *enricher.Enricher // nil when summaries are disabled
	from         string
	recipients   []string
	admins       []string
	subject      string
	adminSubject string
	timeout      time.Duration
	now          func() time.Time
}

// NewDispatcher creates a Dispatcher sending through t. Admin notices go to
// notify.admin_recipients, or to the primary recipients when none are set.
func NewDispatcher(cfg *config.Config, t Transport) *Dispatcher {
	d := &Dispatcher{
		transport:    t,
		from:         cfg.Notify.From,
		recipients:   cfg.Notify.Recipients,
		admins:       cfg.Notify.AdminRecipients,
		subject:      cfg.Notify.Subject,
		adminSubject: cfg.Notify.AdminSubject,
		timeout:      cfg.Notify.Timeout.Duration,
		now:          time.Now,
	}
	if len(d.admins) == 0 {
		d.admins = d.recipients
	}
	if cfg.Notify.Summary {
		d.enricher = enricher.New()
	}
	return d
}

// Notify sends one alert for a non-empty batch and returns the alert as it
// should be recorded. An empty batch sends nothing and returns nil, nil.
// A delivery failure is returned as a *DispatchError together with the
// unsent alert.
func (d *Dispatcher) Notify(ctx context.Context, b *event.Batch) (*event.Alert, error) {
	if b.Empty() {
		return nil, nil
	}

	var summary *enricher.Summary
	if d.enricher != nil {
		s := d.enricher.Enrich(b)
		summary = &s
	}

	subject := FormatSubject(d.subject, b)
	body := FormatBody(b, summary)
	alert := event.FromBatch(b, d.now(), subject, body)

	msg := Message{
		From:    d.from,
		To:      d.recipients,
		Subject: subject,
		Body:    body,
		Kind:    event.KindSlowQuery,
	}
	if err := d.send(ctx, b.Instance, msg); err != nil {
		alert.Error = err.Error()
		return alert, err
	}

	alert.Notified = true
	slog.Info("slow query alert sent",
		"instance", b.Instance,
		"matches", len(b.Records),
		"max_ms", alert.MaxLatency,
	)
	return alert, nil
}

// NotifyAdmin sends an operational notice about instance. instance may be
// empty for notices that concern the whole run.
func (d *Dispatcher) NotifyAdmin(ctx context.Context, instance, detail string) (*event.Alert, error) {
	subject := FormatAdminSubject(d.adminSubject, instance)
	alert := event.NewAlert(instance, d.now(), event.KindAdmin, subject)
	alert.Body = detail

	msg := Message{
		From:    d.from,
		To:      d.admins,
		Subject: subject,
		Body:    detail,
		Kind:    event.KindAdmin,
	}
	if err := d.send(ctx, instance, msg); err != nil {
		alert.Error = err.Error()
		return alert, err
	}

	alert.Notified = true
	slog.Info("admin notice sent", "instance", instance)
	return alert, nil
}

// SendDigest sends a digest to the primary recipients.
func (d *Dispatcher) SendDigest(ctx context.Context, title, body string) error {
	return d.send(ctx, "", Message{
		From:    d.from,
		To:      d.recipients,
		Subject: title,
		Body:    body,
		Kind:    event.KindSlowQuery,
	})
}

func (d *Dispatcher) send(ctx context.Context, instance string, msg Message) error {
	if len(msg.To) == 0 {
		return &DispatchError{Kind: msg.Kind, Instance: instance, Err: ErrNoRecipients}
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.transport.Send(ctx, msg); err != nil {
		return &DispatchError{Kind: msg.Kind, Instance: instance, To: msg.To, Err: err}
	}
	return nil
}
