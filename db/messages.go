package db

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/willowmail/willow/consts"
	"github.com/willowmail/willow/helpers"
	"github.com/willowmail/willow/mailbox"
	"lukechampine.com/blake3"
)

var _ mailbox.Store = (*Database)(nil)

// Deliver stores one copy of the message per recipient inside a single
// transaction, so a storage failure for any recipient rolls back the whole
// commit and the client can resubmit.
func (db *Database) Deliver(ctx context.Context, d mailbox.Delivery) error {
	start := time.Now()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		observeQuery("deliver", start, err)
		return fmt.Errorf("%w: %v", consts.ErrDBBeginTransactionFailed, err)
	}
	defer tx.Rollback(ctx)

	for _, recipient := range d.Recipients {
		rendered := helpers.RenderMessage(d.Sender, recipient, d.Subject, d.ReceivedAt, d.Body)
		sum := blake3.Sum256([]byte(rendered))
		contentHash := hex.EncodeToString(sum[:])
		_, err := tx.Exec(ctx,
			`INSERT INTO messages (sender, recipient, subject, body, size, content_hash, received_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			d.Sender, recipient, d.Subject, d.Body, int64(len(rendered)), contentHash, d.ReceivedAt)
		if err != nil {
			observeQuery("deliver", start, err)
			return fmt.Errorf("%w: %v", consts.ErrDBInsertFailed, err)
		}
	}

	err = tx.Commit(ctx)
	observeQuery("deliver", start, err)
	if err != nil {
		return fmt.Errorf("failed to commit delivery: %w", err)
	}
	return nil
}

// ListMessages returns the non-deleted messages for recipient in stable
// order: ascending receipt time, ties broken by row id. Bodies are not
// loaded; GetMessage fetches them on demand.
func (db *Database) ListMessages(ctx context.Context, recipient string) ([]mailbox.Message, error) {
	start := time.Now()

	rows, err := db.Pool.Query(ctx,
		`SELECT id, sender, recipient, subject, size, content_hash, received_at
		 FROM messages
		 WHERE recipient = $1 AND deleted = FALSE
		 ORDER BY received_at, id`,
		recipient)
	observeQuery("list_messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("database error listing messages: %w", err)
	}
	defer rows.Close()

	var messages []mailbox.Message
	for rows.Next() {
		var msg mailbox.Message
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Recipient, &msg.Subject, &msg.Size, &msg.ContentHash, &msg.ReceivedAt); err != nil {
			return nil, fmt.Errorf("database error scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error listing messages: %w", err)
	}
	return messages, nil
}

// GetMessage returns one non-deleted message including its body.
func (db *Database) GetMessage(ctx context.Context, id int64) (*mailbox.Message, error) {
	start := time.Now()

	var msg mailbox.Message
	err := db.Pool.QueryRow(ctx,
		`SELECT id, sender, recipient, subject, body, size, content_hash, received_at
		 FROM messages
		 WHERE id = $1 AND deleted = FALSE`,
		id).Scan(&msg.ID, &msg.Sender, &msg.Recipient, &msg.Subject, &msg.Body, &msg.Size, &msg.ContentHash, &msg.ReceivedAt)
	observeQuery("get_message", start, err)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrNoSuchMessage
		}
		return nil, fmt.Errorf("database error fetching message: %w", err)
	}
	return &msg, nil
}

// Expunge soft-deletes the given messages. Rows stay behind with the
// deleted flag set so listings never resurrect them.
func (db *Database) Expunge(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()

	_, err := db.Pool.Exec(ctx,
		"UPDATE messages SET deleted = TRUE WHERE id = ANY($1)", ids)
	observeQuery("expunge", start, err)

	if err != nil {
		return fmt.Errorf("database error expunging messages: %w", err)
	}
	return nil
}
