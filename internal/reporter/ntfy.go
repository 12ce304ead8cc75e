package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/setevik/proxywatch/internal/config"
	"github.com/setevik/proxywatch/internal/event"
)

// NtfyTransport publishes messages to ntfy topics. Each recipient is a topic
// name on the configured server or a full topic URL.
type NtfyTransport struct {
	server   string
	priority string
	client   *http.Client
}

// NewNtfy creates a new NtfyTransport.
func NewNtfy(cfg *config.Config) *NtfyTransport {
	return &NtfyTransport{
		server:   strings.TrimRight(cfg.Ntfy.Server, "/"),
		priority: cfg.Ntfy.Priority,
		client: &http.Client{
			Timeout: cfg.Notify.Timeout.Duration,
		},
	}
}

// Send posts msg to every recipient topic. All topics are attempted; the
// returned error joins the failures.
func (t *NtfyTransport) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("no ntfy topics configured")
	}

	priority := t.priority
	if msg.Kind == event.KindAdmin {
		priority = "default"
	}

	var errs []error
	for _, topic := range msg.To {
		if err := t.post(ctx, t.topicURL(topic), msg, priority); err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", topic, err))
			continue
		}
		slog.Info("notification sent", "transport", "ntfy", "topic", topic, "kind", msg.Kind)
	}
	return errors.Join(errs...)
}

func (t *NtfyTransport) topicURL(topic string) string {
	if strings.HasPrefix(topic, "http://") || strings.HasPrefix(topic, "https://") {
		return topic
	}
	return t.server + "/" + strings.TrimLeft(topic, "/")
}

func (t *NtfyTransport) post(ctx context.Context, url string, msg Message, priority string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("creating ntfy request: %w", err)
	}

	req.Header.Set("Title", msg.Subject)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", TagsForKind(msg.Kind))

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}
