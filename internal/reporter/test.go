package reporter

import (
	"context"
	"fmt"
	"os"
	"time"
)

// TestNotice describes a synthetic admin notice for checking delivery.
type TestNotice struct {
	Host string
	Time time.Time
}

// Body renders the notice text.
func (n TestNotice) Body() string {
	host := n.Host
	if host == "" {
		host = "unknown host"
	}
	return fmt.Sprintf("This is a test notification from proxywatch on %s, sent %s.\n"+
		"If you see this, alert delivery is configured correctly.",
		host, n.Time.Format("2006-01-02 15:04:05 MST"))
}

// SendTest sends a TestNotice over the admin channel.
func (d *Dispatcher) SendTest(ctx context.Context) error {
	host, _ := os.Hostname()
	n := TestNotice{Host: host, Time: d.now()}
	_, err := d.NotifyAdmin(ctx, "", n.Body())
	return err
}
