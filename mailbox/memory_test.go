package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverFansOutToAllRecipients(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	err := store.Deliver(ctx, Delivery{
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com", "carol@example.com"},
		Subject:    "Hello",
		Body:       "Body text\r\n",
		ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	for _, recipient := range []string{"bob@example.com", "carol@example.com"} {
		messages, err := store.ListMessages(ctx, recipient)
		require.NoError(t, err)
		require.Len(t, messages, 1, "recipient %s", recipient)
		assert.Equal(t, "alice@example.com", messages[0].Sender)
		assert.Equal(t, "Hello", messages[0].Subject)
		assert.Equal(t, recipient, messages[0].Recipient)
	}
}

func TestListMessagesKeepsStableOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	base := time.Now().UTC()
	for i, subject := range []string{"first", "second", "third"} {
		err := store.Deliver(ctx, Delivery{
			Sender:     "alice@example.com",
			Recipients: []string{"bob@example.com"},
			Subject:    subject,
			Body:       "b\r\n",
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	messages, err := store.ListMessages(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Subject)
	assert.Equal(t, "second", messages[1].Subject)
	assert.Equal(t, "third", messages[2].Subject)
}

func TestListMessagesOrdersByReceiptTime(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	base := time.Now().UTC()
	// Delivered out of receipt order; the listing must sort by
	// ReceivedAt with insertion order breaking ties.
	deliveries := []struct {
		subject string
		at      time.Time
	}{
		{"late", base.Add(2 * time.Second)},
		{"early", base},
		{"tie-a", base.Add(time.Second)},
		{"tie-b", base.Add(time.Second)},
	}
	for _, d := range deliveries {
		require.NoError(t, store.Deliver(ctx, Delivery{
			Sender:     "alice@example.com",
			Recipients: []string{"bob@example.com"},
			Subject:    d.subject,
			Body:       "b\r\n",
			ReceivedAt: d.at,
		}))
	}

	messages, err := store.ListMessages(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, "early", messages[0].Subject)
	assert.Equal(t, "tie-a", messages[1].Subject)
	assert.Equal(t, "tie-b", messages[2].Subject)
	assert.Equal(t, "late", messages[3].Subject)
}

func TestListMessagesOmitsBodies(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Deliver(ctx, Delivery{
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com"},
		Subject:    "Hello",
		Body:       "Secret body\r\n",
		ReceivedAt: time.Now().UTC(),
	}))

	messages, err := store.ListMessages(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Empty(t, messages[0].Body, "listings must not carry bodies")
	assert.Positive(t, messages[0].Size)

	msg, err := store.GetMessage(ctx, messages[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Secret body\r\n", msg.Body)
}

func TestExpungeHidesMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Deliver(ctx, Delivery{
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com"},
		Subject:    "One",
		Body:       "b\r\n",
		ReceivedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.Deliver(ctx, Delivery{
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com"},
		Subject:    "Two",
		Body:       "b\r\n",
		ReceivedAt: time.Now().UTC(),
	}))

	messages, err := store.ListMessages(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Len(t, messages, 2)

	require.NoError(t, store.Expunge(ctx, messages[0].ID))

	remaining, err := store.ListMessages(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "Two", remaining[0].Subject)

	// Expunge is idempotent
	require.NoError(t, store.Expunge(ctx, messages[0].ID))
}

func TestGetMessageUnknownID(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, err := store.GetMessage(ctx, 12345)
	assert.Error(t, err)
}

func TestContentHashDistinguishesMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Deliver(ctx, Delivery{
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com", "carol@example.com"},
		Subject:    "Same",
		Body:       "b\r\n",
		ReceivedAt: time.Now().UTC(),
	}))

	bobMessages, err := store.ListMessages(ctx, "bob@example.com")
	require.NoError(t, err)
	carolMessages, err := store.ListMessages(ctx, "carol@example.com")
	require.NoError(t, err)

	require.Len(t, bobMessages, 1)
	require.Len(t, carolMessages, 1)
	assert.NotEmpty(t, bobMessages[0].ContentHash)

	// Same content but different recipient headers yield different hashes
	assert.NotEqual(t, bobMessages[0].ContentHash, carolMessages[0].ContentHash)
}
