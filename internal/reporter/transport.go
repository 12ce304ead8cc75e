// Package reporter delivers slow-query alerts and operational notices.
package reporter

import (
	"context"
	"fmt"
	"strings"

	"github.com/setevik/proxywatch/internal/event"
)

// Message is one outbound notification.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
	Kind    event.Kind
}

// Transport delivers a Message to all of its recipients in one attempt.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// DispatchError reports a failed delivery.
type DispatchError struct {
	Kind     event.Kind
	Instance string
	To       []string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("sending %s alert for %s to %s: %v",
		e.Kind, e.Instance, strings.Join(e.To, ","), e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
