package gmail

import (
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"
)

// header returns the named header's value, or "" when absent. Gmail
// header names are matched case-insensitively.
func header(msg *gmailapi.Message, name string) string {
	if msg == nil || msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// extractAddress reduces a header like `Alice <alice@example.com>` to the
// bare address. Malformed headers fall back to the trimmed raw value so a
// bad display name never hides a usable address.
func extractAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return addr.Address
	}
	if i := strings.IndexByte(raw, '<'); i >= 0 {
		if j := strings.IndexByte(raw[i:], '>'); j > 0 {
			return strings.TrimSpace(raw[i+1 : i+j])
		}
	}
	return raw
}

// bodyText extracts the plain-text body from a message payload. Gmail
// nests alternatives arbitrarily deep; the first text/plain part wins,
// with text/html as a last resort for messages without a plain part.
func bodyText(payload *gmailapi.MessagePart) string {
	if payload == nil {
		return ""
	}
	if text := findPart(payload, "text/plain"); text != "" {
		return text
	}
	return findPart(payload, "text/html")
}

func findPart(part *gmailapi.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}
	for _, child := range part.Parts {
		if text := findPart(child, mimeType); text != "" {
			return text
		}
	}
	return ""
}

// decodeBody decodes Gmail's web-safe base64 body data, which arrives
// both padded and unpadded depending on the producing client.
func decodeBody(data string) string {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}

// encodeMessage builds a minimal RFC 2822 plain-text message and encodes
// it the way the send API expects.
func encodeMessage(to, subject, body string) string {
	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		to, subject, body)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}
