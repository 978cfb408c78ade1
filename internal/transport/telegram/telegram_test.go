package telegram

import (
	"errors"
	"fmt"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "forecastbot/internal/transport"
)

func TestClassifyDelivered(t *testing.T) {
	t.Parallel()
	d := classify(nil)
	if d.Outcome != kit.Delivered || d.Err != nil {
		t.Fatalf("classify(nil) = %+v", d)
	}
}

func TestClassifyFlood(t *testing.T) {
	t.Parallel()
	// Constructed the way telebot's extractOk does: RetryAfter set, the
	// embedded API error left nil. Passed unwrapped, as bot.Send returns it.
	d := classify(tele.FloodError{RetryAfter: 14})
	if d.Outcome != kit.RateLimited {
		t.Fatalf("outcome = %v, want rate_limited", d.Outcome)
	}
	if d.RetryAfter != 14*time.Second {
		t.Fatalf("retry after = %v, want 14s", d.RetryAfter)
	}
}

func TestClassifyBlocked(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
	}{
		{"blocked by user", tele.ErrBlockedByUser},
		{"not started", tele.ErrNotStartedByUser},
		{"deactivated", tele.ErrUserIsDeactivated},
		{"chat not found", tele.ErrChatNotFound},
		{"kicked from group", tele.ErrKickedFromGroup},
		{"wrapped", fmt.Errorf("send: %w", tele.ErrBlockedByUser)},
		{"unlisted 403", tele.NewError(403, "Forbidden: some new variant")},
	}
	for _, tc := range cases {
		d := classify(tc.err)
		if d.Outcome != kit.Blocked {
			t.Errorf("%s: outcome = %v, want blocked", tc.name, d.Outcome)
		}
		if d.Err == nil {
			t.Errorf("%s: underlying error dropped", tc.name)
		}
	}
}

func TestClassifyOtherFailure(t *testing.T) {
	t.Parallel()
	cases := []error{
		errors.New("network down"),
		tele.NewError(400, "Bad Request: message is too long"),
		tele.NewError(500, "Internal Server Error"),
	}
	for _, err := range cases {
		d := classify(err)
		if d.Outcome != kit.Failed {
			t.Errorf("classify(%v).Outcome = %v, want failed", err, d.Outcome)
		}
	}
}
