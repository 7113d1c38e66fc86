package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderchat/internal/logger"
	"github.com/orderchat/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Append inserts the message and folds it into the parent conversation's
// summary (last message, one unread counter) in a single transaction, so a
// reader never sees one write without the other. The counter moves in SQL,
// not read-modify-write, so concurrent sends and mark-reads are not lost.
// Returns ErrNotFound when the conversation does not exist.
func (r *MessageRepository) Append(ctx context.Context, m *model.Message, incrementForCustomer bool) error {
	defer logger.DeferLogDuration("msg.Append", time.Now())()

	custInc, merchInc := 0, 1
	if incrementForCustomer {
		custInc, merchInc = 1, 0
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Append begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE conversations
		 SET last_message_text = $1, last_message_at = $2,
		     unread_for_customer = unread_for_customer + $3,
		     unread_for_merchant = unread_for_merchant + $4
		 WHERE id = $5`,
		m.Text, m.CreatedAt, custInc, merchInc, m.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Append update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, sender_name, text, is_system, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, m.SenderID, m.SenderName, m.Text, m.IsSystem, m.Read, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Append insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Append commit: %w", err)
	}
	return nil
}

// Recent returns at most limit messages, newest first. Message ids are
// ULIDs, so id DESC is a consistent tiebreak for equal timestamps.
func (r *MessageRepository) Recent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Recent", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, sender_name, text, is_system, read, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Recent query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Text, &m.IsSystem, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.Recent scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Recent rows: %w", err)
	}
	return messages, nil
}

// MarkDelivered flips the advisory read flag on the counterparty's
// messages. Authoritative unread state lives on the conversation counters;
// this flag only drives per-message checkmarks in the clients.
func (r *MessageRepository) MarkDelivered(ctx context.Context, conversationID, readerID string) error {
	defer logger.DeferLogDuration("msg.MarkDelivered", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET read = true
		 WHERE conversation_id = $1 AND sender_id != $2 AND read = false`,
		conversationID, readerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkDelivered: %w", err)
	}
	return nil
}
