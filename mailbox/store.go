// Package mailbox defines the mailbox store contract: per-recipient ordered
// message collections with insertion, listing, retrieval and persisted
// soft-deletion. The POP3 engine's two-phase deletion protocol marks
// messages in session state and calls Expunge only at session close.
package mailbox

import (
	"context"
	"time"
)

// Message is one stored message as seen by a single recipient. Body is
// only populated by GetMessage; listings carry metadata and size.
type Message struct {
	ID          int64
	Sender      string
	Recipient   string
	Subject     string
	Body        string
	Size        int64 // Length of the rendered message (headers + body)
	ContentHash string
	ReceivedAt  time.Time
}

// Delivery is one accepted SMTP transaction: a message fanned out to one
// or more recipients.
type Delivery struct {
	Sender     string
	Recipients []string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Store is the mailbox contract. Implementations must keep listing order
// stable (ascending receipt time, ties broken by insertion order) and must
// not interleave Deliver and Expunge for the same recipient in a way that
// loses messages.
type Store interface {
	// Deliver stores one message copy per recipient. The fan-out is
	// atomic: either every recipient receives the message or none does.
	Deliver(ctx context.Context, d Delivery) error

	// ListMessages returns the non-deleted messages for recipient in
	// stable order, without bodies.
	ListMessages(ctx context.Context, recipient string) ([]Message, error)

	// GetMessage returns one message including its body.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// Expunge soft-deletes the given messages. Expunged messages never
	// reappear in listings but their rows are retained.
	Expunge(ctx context.Context, ids ...int64) error
}
