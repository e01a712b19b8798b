package pubsub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxWebhookBody = 1 << 20

// pushEnvelope is the wrapper Pub/Sub push delivery puts around the
// notification: the payload sits base64-encoded in message.data.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// WebhookServer receives Pub/Sub push deliveries over HTTP as an
// alternative to the pull subscription. Push acking is HTTP status
// based, so the response is sent before processing finishes; dedup in
// the handler absorbs the resulting redeliveries.
type WebhookServer struct {
	handler    Handler
	ackTimeout time.Duration
	srv        *http.Server
}

// NewWebhookServer builds the push listener on addr ("host:port").
func NewWebhookServer(addr string, handler Handler, ackTimeout time.Duration) *WebhookServer {
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Minute
	}
	ws := &WebhookServer{handler: handler, ackTimeout: ackTimeout}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", methodOnly(http.MethodPost, ws.handlePush))
	mux.HandleFunc("/health", methodOnly(http.MethodGet, ws.handleHealth))

	ws.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (ws *WebhookServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("webhook listening", "addr", ws.srv.Addr)
		errCh <- ws.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (ws *WebhookServer) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Message.Data == "" {
		slog.Warn("malformed push envelope", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed push envelope"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		slog.Warn("push data is not base64", "pubsub_id", env.Message.MessageID, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message data is not base64"})
		return
	}

	n, err := DecodeNotification(data)
	if err != nil {
		slog.Error("undecodable notification", "pubsub_id", env.Message.MessageID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "undecodable notification"})
		return
	}

	// Respond before processing: agent runs take minutes and push
	// delivery would time out waiting. Redeliveries caused by the early
	// 200 are absorbed by the dedup ledger.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ws.ackTimeout)
		defer cancel()
		if err := ws.handler.Process(ctx, n); err != nil {
			slog.Warn("webhook notification failed", "history_id", n.HistoryID, "error", err)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (ws *WebhookServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// methodOnly restricts a handler to one HTTP method, mirroring the
// method-pattern ServeMux behavior ("POST /webhook") that requires Go
// 1.22+; this module builds with Go 1.21.
func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
