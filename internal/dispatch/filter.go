package dispatch

import (
	"strconv"
	"strings"
)

// systemMarkers are lower-case substrings that identify bodies produced by
// this system itself: the ack, progress, completion, and failure replies.
// Any body containing one of them is rejected before dispatch, which is
// the second line of defense against feedback loops after the sent-reply
// ledger.
var systemMarkers = []string{
	"ack",
	"progress update:",
	"task completed!",
	"claude processing failed with error:",
	"processing with claude code",
	"claude response generated",
}

// Filter is the eligibility allow-list a message must pass before it is
// dispatched to the agent. It is an immutable value; the dispatcher swaps
// the whole value on config reload.
type Filter struct {
	// TargetAddress must equal both the sender and the recipient
	// (self-addressed mail only). Compared case-insensitively.
	TargetAddress string
	// RequiredSubject must equal the trimmed subject, case-insensitively.
	RequiredSubject string
	// MinBodyChars is the minimum trimmed body length.
	MinBodyChars int
}

// NewFilter builds a filter, applying defaults for unset knobs.
func NewFilter(target, subject string, minBody int) Filter {
	if subject == "" {
		subject = "CLAUDE"
	}
	if minBody <= 0 {
		minBody = 10
	}
	return Filter{TargetAddress: target, RequiredSubject: subject, MinBodyChars: minBody}
}

// Eligible checks the header gates: sender, recipient, and subject. It
// returns false with a human-readable reason on the first failing gate.
// Body gates are checked separately by BodyEligible since the body is
// fetched later and only for messages that pass here.
func (f Filter) Eligible(sender, recipient, subject string) (bool, string) {
	if !strings.EqualFold(strings.TrimSpace(sender), f.TargetAddress) {
		return false, "sender is not the target address"
	}
	if !strings.EqualFold(strings.TrimSpace(recipient), f.TargetAddress) {
		return false, "recipient is not the target address"
	}
	if !strings.EqualFold(strings.TrimSpace(subject), f.RequiredSubject) {
		return false, "subject does not match"
	}
	return true, ""
}

// BodyEligible checks the body gates: absence of system markers, then
// minimum length. Marker rejection is reported first so an echoed "ack"
// reads as what it is, not as a short body.
func (f Filter) BodyEligible(body string) (bool, string) {
	trimmed := strings.TrimSpace(body)
	if marker, ok := f.systemMarker(trimmed); ok {
		return false, "body contains system marker " + strconv.Quote(marker)
	}
	if len(trimmed) < f.MinBodyChars {
		return false, "body too short"
	}
	return true, ""
}

// systemMarker reports whether the body contains any marker this system
// writes into its own replies, and which one.
func (f Filter) systemMarker(body string) (string, bool) {
	lower := strings.ToLower(body)
	for _, m := range systemMarkers {
		if strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}
