package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Outcome categorizes a single delivery attempt to one recipient.
type Outcome int

const (
	Delivered Outcome = iota
	// Blocked means the recipient made the bot unreachable (blocked the bot,
	// deleted the chat). The subscriber should be deactivated.
	Blocked
	// RateLimited means the platform asked us to slow down. RetryAfter
	// carries the requested pause.
	RateLimited
	// Failed is any other delivery error; isolated to the recipient.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Blocked:
		return "blocked"
	case RateLimited:
		return "rate_limited"
	default:
		return "failed"
	}
}

// Delivery is the categorized result of one send. Err is set for
// Blocked/RateLimited/Failed and carries the underlying platform error.
type Delivery struct {
	Outcome    Outcome
	RetryAfter time.Duration
	Err        error
}

// Adapter is the messaging channel abstraction. Implementations map
// platform-specific failures onto Delivery dispositions; callers branch on
// the disposition value, never on error types.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)

	// Deliver sends text and classifies the outcome.
	Deliver(ctx context.Context, to ChatTarget, text string, opt *SendOptions) Delivery
}
