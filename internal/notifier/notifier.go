package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/downloadhub/internal/download"
	"github.com/italolelis/downloadhub/internal/logctx"
	"github.com/italolelis/downloadhub/internal/telemetry"
)

// ntfy priorities, 1 is min and 5 is max.
const (
	PriorityDefault = 3
	PriorityHigh    = 4
)

var defaultClient = &http.Client{Timeout: 10 * time.Second}

// Message is a push notification independent of the delivery channel.
type Message struct {
	Title    string
	Body     string
	Priority int
	Tags     []string
}

type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// Dispatcher sends download outcome messages to every configured notifier. Delivery failures
// are logged and counted, never returned.
type Dispatcher struct {
	notifiers []Notifier
	telemetry *telemetry.Telemetry
}

func NewDispatcher(tel *telemetry.Telemetry, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, telemetry: tel}
}

// Len reports how many notifiers are configured.
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}

func (d *Dispatcher) DownloadCompleted(ctx context.Context, dl download.Download) {
	d.send(ctx, CompletedMessage(dl))
}

func (d *Dispatcher) DownloadFailed(ctx context.Context, dl download.Download) {
	d.send(ctx, FailedMessage(dl))
}

func (d *Dispatcher) send(ctx context.Context, msg Message) {
	logger := logctx.LoggerFromContext(ctx)

	for _, n := range d.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			logger.Error("failed to send notification", "channel", n.Name(), "title", msg.Title, "err", err)
			d.telemetry.RecordNotification(ctx, n.Name(), "error")

			continue
		}

		logger.Info("notification sent", "channel", n.Name(), "title", msg.Title)
		d.telemetry.RecordNotification(ctx, n.Name(), "success")
	}
}

func CompletedMessage(dl download.Download) Message {
	size := "unknown size"
	if dl.SizeBytes != nil {
		size = humanize.IBytes(uint64(max(*dl.SizeBytes, 0)))
	}

	return Message{
		Title:    "✅ Download Complete",
		Body:     fmt.Sprintf("%s (%s) has finished downloading", dl.Name, size),
		Priority: PriorityDefault,
		Tags:     []string{"white_check_mark", "movie_camera"},
	}
}

func FailedMessage(dl download.Download) Message {
	reason := dl.ErrorMessage
	if reason == "" {
		reason = "unknown error"
	}

	return Message{
		Title:    "❌ Download Failed",
		Body:     fmt.Sprintf("%s failed: %s", dl.Name, reason),
		Priority: PriorityHigh,
		Tags:     []string{"x", "warning"},
	}
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}

	return defaultClient
}
