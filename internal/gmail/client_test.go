package gmail

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &googleapi.Error{Code: 429}, true},
		{"request timeout", &googleapi.Error{Code: 408}, true},
		{"server error", &googleapi.Error{Code: 503}, true},
		{"internal error", &googleapi.Error{Code: 500}, true},
		{"not found", &googleapi.Error{Code: 404}, false},
		{"bad request", &googleapi.Error{Code: 400}, false},
		{"forbidden", &googleapi.Error{Code: 403}, false},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsTransient_Wrapped(t *testing.T) {
	err := fmt.Errorf("get message m1: %w", &googleapi.Error{Code: 503})
	if !IsTransient(err) {
		t.Fatal("wrapped API errors must still classify")
	}
	err = fmt.Errorf("send reply: %w", &googleapi.Error{Code: 400})
	if IsTransient(err) {
		t.Fatal("wrapped client errors must stay non-transient")
	}
}
