package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// maxOutstanding bounds undelivered messages held by the pull stream.
// The dispatcher's worker semaphore is the real concurrency limit; this
// just keeps the client from prefetching a large backlog.
const maxOutstanding = 10

// Handler consumes one decoded notification. A non-nil error requests
// redelivery.
type Handler interface {
	Process(ctx context.Context, n Notification) error
}

// Receiver pulls Gmail notifications from a Pub/Sub subscription and
// feeds them to a handler, acking on success and nacking on failure so
// the subscription redelivers retryable work.
type Receiver struct {
	client     *pubsub.Client
	subID      string
	handler    Handler
	ackTimeout time.Duration
}

// NewReceiver wraps an existing Pub/Sub client.
func NewReceiver(client *pubsub.Client, subID string, handler Handler, ackTimeout time.Duration) *Receiver {
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Minute
	}
	return &Receiver{client: client, subID: subID, handler: handler, ackTimeout: ackTimeout}
}

// Run blocks receiving until ctx is canceled. Message callbacks run on
// the client's goroutines; the handler is expected to bound its own
// concurrency.
func (r *Receiver) Run(ctx context.Context) error {
	sub := r.client.Subscription(r.subID)
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding

	slog.Info("listening for gmail notifications", "subscription", r.subID)
	if err := sub.Receive(ctx, r.handle); err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

func (r *Receiver) handle(ctx context.Context, m *pubsub.Message) {
	if err := r.dispatch(ctx, m.ID, m.Data); err != nil {
		m.Nack()
		return
	}
	m.Ack()
}

// dispatch decodes and processes one message, returning non-nil when it
// should be nacked for redelivery. The processing context is detached
// from the receive context: cancellation stops the pull stream from
// accepting new deliveries while Receive blocks until in-flight
// callbacks return, so a shutdown never kills an agent run mid-flight.
// The ack timeout still bounds each dispatch.
func (r *Receiver) dispatch(ctx context.Context, pubsubID string, data []byte) error {
	n, err := DecodeNotification(data)
	if err != nil {
		slog.Error("undecodable notification",
			"pubsub_id", pubsubID, "payload", string(data), "error", err)
		return err
	}
	if n.HistoryID == "" {
		slog.Warn("notification missing historyId, will be dropped",
			"pubsub_id", pubsubID, "payload", string(data))
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.ackTimeout)
	defer cancel()

	if err := r.handler.Process(pctx, n); err != nil {
		slog.Warn("notification failed, nacking for redelivery",
			"pubsub_id", pubsubID, "history_id", n.HistoryID, "error", err)
		return err
	}
	return nil
}
