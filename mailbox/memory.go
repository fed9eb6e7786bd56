package mailbox

import (
	"context"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/willowmail/willow/consts"
	"github.com/willowmail/willow/helpers"
	"lukechampine.com/blake3"
)

type memoryMessage struct {
	Message
	deleted bool
}

// Memory is an in-process Store backed by a slice. Tests use it to drive
// the protocol engines without a database.
type Memory struct {
	mu       sync.Mutex
	messages []*memoryMessage
	nextID   int64
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory mailbox store.
func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

func (m *Memory) Deliver(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, recipient := range d.Recipients {
		rendered := helpers.RenderMessage(d.Sender, recipient, d.Subject, d.ReceivedAt, d.Body)
		sum := blake3.Sum256([]byte(rendered))
		m.messages = append(m.messages, &memoryMessage{
			Message: Message{
				ID:          m.nextID,
				Sender:      d.Sender,
				Recipient:   recipient,
				Subject:     d.Subject,
				Body:        d.Body,
				Size:        int64(len(rendered)),
				ContentHash: hex.EncodeToString(sum[:]),
				ReceivedAt:  d.ReceivedAt,
			},
		})
		m.nextID++
	}
	return nil
}

func (m *Memory) ListMessages(_ context.Context, recipient string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Message
	for _, msg := range m.messages {
		if msg.deleted || msg.Recipient != recipient {
			continue
		}
		listed := msg.Message
		listed.Body = ""
		result = append(result, listed)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.Before(result[j].ReceivedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) GetMessage(_ context.Context, id int64) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id && !msg.deleted {
			copied := msg.Message
			return &copied, nil
		}
	}
	return nil, consts.ErrNoSuchMessage
}

func (m *Memory) Expunge(_ context.Context, ids ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for _, msg := range m.messages {
			if msg.ID == id {
				msg.deleted = true
			}
		}
	}
	return nil
}
