package pubsub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type captureHandler struct {
	got chan Notification
}

func (h *captureHandler) Process(ctx context.Context, n Notification) error {
	h.got <- n
	return nil
}

func pushBody(t *testing.T, payload string) []byte {
	t.Helper()
	env := map[string]any{
		"message": map[string]string{
			"data":      base64.StdEncoding.EncodeToString([]byte(payload)),
			"messageId": "pm-1",
		},
		"subscription": "projects/p/subscriptions/s",
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestWebhook_PushDelivery(t *testing.T) {
	h := &captureHandler{got: make(chan Notification, 1)}
	ws := NewWebhookServer("127.0.0.1:0", h, time.Minute)
	srv := httptest.NewServer(ws.srv.Handler)
	defer srv.Close()

	body := pushBody(t, `{"emailAddress":"me@example.com","historyId":777}`)
	resp, err := http.Post(srv.URL+"/webhook", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	select {
	case n := <-h.got:
		if n.HistoryID != "777" || n.EmailAddress != "me@example.com" {
			t.Fatalf("handler got %+v", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never received the notification")
	}
}

func TestWebhook_MalformedEnvelope(t *testing.T) {
	h := &captureHandler{got: make(chan Notification, 1)}
	ws := NewWebhookServer("127.0.0.1:0", h, time.Minute)
	srv := httptest.NewServer(ws.srv.Handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhook", "application/json", bytes.NewReader([]byte(`{"nope":true}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

// TestWebhook_UndecodablePayload checks an envelope whose inner payload
// is not a Gmail event yields a 500 without reaching the handler.
func TestWebhook_UndecodablePayload(t *testing.T) {
	h := &captureHandler{got: make(chan Notification, 1)}
	ws := NewWebhookServer("127.0.0.1:0", h, time.Minute)
	srv := httptest.NewServer(ws.srv.Handler)
	defer srv.Close()

	body := pushBody(t, "definitely not a gmail event")
	resp, err := http.Post(srv.URL+"/webhook", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for undecodable payload", resp.StatusCode)
	}

	select {
	case n := <-h.got:
		t.Fatalf("handler should not run for bad payload, got %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhook_Health(t *testing.T) {
	ws := NewWebhookServer("127.0.0.1:0", &captureHandler{got: make(chan Notification, 1)}, time.Minute)
	srv := httptest.NewServer(ws.srv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "healthy" {
		t.Fatalf("health body = %v", out)
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	ws := NewWebhookServer("127.0.0.1:0", &captureHandler{got: make(chan Notification, 1)}, time.Minute)
	srv := httptest.NewServer(ws.srv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/webhook")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
