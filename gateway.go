package main

import (
	"context"
	"fmt"
	"time"
)

// Event is one inbound chat message, already normalized by the transport.
type Event struct {
	RoomID    string
	AccountID string
	Username  string
	FirstName string
	Text      string
	// ReplyToAccountID is set when the message replies to another member.
	ReplyToAccountID string
	ReplyToFirstName string
	// Direct is true for a one-on-one conversation with the service.
	Direct bool
}

// Payload is one outbound message. MediaRef, when set, is delivered with
// Caption; otherwise Text is sent alone.
type Payload struct {
	Text     string
	MediaRef string
	Caption  string
	Spoiler  bool
}

// Recipient is one broadcast target: a room or a direct conversation.
type Recipient struct {
	ID     string
	Direct bool
}

// DeliveryError classifies a failed send. Permanent failures (blocked,
// deactivated, unknown recipient) are never retried; transient ones are,
// honoring RetryAfter when the platform supplies a pacing hint.
type DeliveryError struct {
	Permanent  bool
	RetryAfter time.Duration
	Reason     string
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("delivery failed (%s): %s", kind, e.Reason)
}

// Sender pushes a payload to a single recipient.
type Sender interface {
	Send(ctx context.Context, target string, p Payload) error
}
