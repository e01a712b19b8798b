package pubsub

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type handlerFunc func(context.Context, Notification) error

func (f handlerFunc) Process(ctx context.Context, n Notification) error { return f(ctx, n) }

// waitingHandler blocks until its context ends or a grace period passes,
// reporting which one happened.
type waitingHandler struct {
	started chan struct{}
	ctxErr  chan error
}

func newWaitingHandler() *waitingHandler {
	return &waitingHandler{started: make(chan struct{}), ctxErr: make(chan error, 1)}
}

func (h *waitingHandler) Process(ctx context.Context, n Notification) error {
	close(h.started)
	select {
	case <-ctx.Done():
		h.ctxErr <- ctx.Err()
	case <-time.After(100 * time.Millisecond):
		h.ctxErr <- nil
	}
	return nil
}

// TestReceiver_ShutdownDoesNotCancelInFlight verifies that cancelling the
// receive context mid-dispatch does not propagate into the handler: the
// pull stream stops accepting new deliveries, but work already underway
// keeps its own context and runs to its own ack timeout.
func TestReceiver_ShutdownDoesNotCancelInFlight(t *testing.T) {
	h := newWaitingHandler()
	r := NewReceiver(nil, "sub", h, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.dispatch(ctx, "m1", []byte(`{"emailAddress":"me@example.com","historyId":42}`))
	}()

	<-h.started
	cancel()

	if err := <-h.ctxErr; err != nil {
		t.Fatalf("in-flight handler context ended early: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("dispatch returned error: %v", err)
	}
}

func TestReceiver_AckTimeoutBoundsDispatch(t *testing.T) {
	h := newWaitingHandler()
	r := NewReceiver(nil, "sub", h, 10*time.Millisecond)

	if err := r.dispatch(context.Background(), "m1", []byte(`{"historyId":"7"}`)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := <-h.ctxErr; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("handler context error = %v, want deadline exceeded", err)
	}
}

func TestReceiver_UndecodablePayloadErrors(t *testing.T) {
	r := NewReceiver(nil, "sub", handlerFunc(func(context.Context, Notification) error {
		t.Fatal("handler must not run for an undecodable payload")
		return nil
	}), time.Minute)

	if err := r.dispatch(context.Background(), "m1", []byte("\x00garbage")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestReceiver_HandlerErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	r := NewReceiver(nil, "sub", handlerFunc(func(context.Context, Notification) error {
		return boom
	}), time.Minute)

	if err := r.dispatch(context.Background(), "m1", []byte(`{"historyId":"7"}`)); !errors.Is(err, boom) {
		t.Fatalf("dispatch error = %v, want the handler's", err)
	}
}

// TestReceiver_MissingHistoryIDLogsPayload checks that a well-formed
// payload without a historyId is called out with the raw payload, since
// the dispatcher will ack-and-drop it.
func TestReceiver_MissingHistoryIDLogsPayload(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	var got Notification
	r := NewReceiver(nil, "sub", handlerFunc(func(_ context.Context, n Notification) error {
		got = n
		return nil
	}), time.Minute)

	payload := []byte(`{"emailAddress":"me@example.com"}`)
	if err := r.dispatch(context.Background(), "m1", payload); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got.HistoryID != "" {
		t.Fatalf("history id = %q, want empty", got.HistoryID)
	}
	out := buf.String()
	if !strings.Contains(out, "missing historyId") || !strings.Contains(out, "me@example.com") {
		t.Fatalf("log output %q should name the payload", out)
	}
}
