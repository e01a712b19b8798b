// Package pubsub carries Gmail push notifications into the dispatcher,
// either over a Cloud Pub/Sub pull subscription or an HTTP push webhook,
// and provisions the Pub/Sub resources the watch publishes to.
package pubsub

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/mailclaw/internal/dispatch"
)

// Notification aliases the dispatcher's notification type; this package
// only decodes and routes it.
type Notification = dispatch.Notification

// notificationPayload is the Gmail watch event. historyId arrives as a
// JSON number from Gmail itself but as a string from some relays, so it
// is decoded leniently.
type notificationPayload struct {
	EmailAddress string          `json:"emailAddress"`
	HistoryID    json.RawMessage `json:"historyId"`
}

// DecodeNotification parses a Gmail push payload. The bytes may be the
// raw JSON event or a base64 encoding of it, depending on which hop
// delivered them.
func DecodeNotification(data []byte) (dispatch.Notification, error) {
	n, err := decodeJSON(data)
	if err == nil {
		return n, nil
	}

	decoded, b64err := decodeBase64(data)
	if b64err != nil {
		return dispatch.Notification{}, fmt.Errorf("notification is neither JSON nor base64 JSON: %w", err)
	}
	return decodeJSON(decoded)
}

func decodeJSON(data []byte) (dispatch.Notification, error) {
	var p notificationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return dispatch.Notification{}, err
	}
	return dispatch.Notification{
		EmailAddress: p.EmailAddress,
		HistoryID:    historyIDString(p.HistoryID),
	}, nil
}

// decodeBase64 handles standard and URL-safe alphabets, padded or not.
func decodeBase64(data []byte) ([]byte, error) {
	s := strings.TrimRight(string(bytes.TrimSpace(data)), "=")
	if decoded, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// historyIDString normalizes the flexible historyId field to a decimal
// string, which is the cursor form the rest of the pipeline uses.
func historyIDString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return strings.TrimSpace(string(raw))
}
