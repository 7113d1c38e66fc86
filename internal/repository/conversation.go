package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderchat/internal/logger"
	"github.com/orderchat/internal/model"
)

var ErrNotFound = errors.New("not found")

const conversationColumns = `id, customer_id, customer_name, merchant_id, merchant_name, order_id,
	        COALESCE(last_message_text,''), last_message_at, unread_for_customer, unread_for_merchant, created_at`

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	c := &model.Conversation{}
	err := row.Scan(&c.ID, &c.CustomerID, &c.CustomerName, &c.MerchantID, &c.MerchantName, &c.OrderID,
		&c.LastMessageText, &c.LastMessageAt, &c.UnreadForCustomer, &c.UnreadForMerchant, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c, err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

func (r *ConversationRepository) FindByPair(ctx context.Context, customerID, merchantID string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.FindByPair", time.Now())()
	c, err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE customer_id = $1 AND merchant_id = $2`, customerID, merchantID,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("convRepo.FindByPair: %w", err)
	}
	return c, nil
}

// Insert writes a new conversation. The unique index on
// (customer_id, merchant_id) makes concurrent first contact safe: exactly
// one insert wins and the loser reports inserted=false so the caller can
// re-read the winner's record.
func (r *ConversationRepository) Insert(ctx context.Context, c *model.Conversation) (inserted bool, err error) {
	defer logger.DeferLogDuration("conv.Insert", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, customer_id, customer_name, merchant_id, merchant_name, order_id,
		                            last_message_text, last_message_at, unread_for_customer, unread_for_merchant, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, $9)
		 ON CONFLICT (customer_id, merchant_id) DO NOTHING`,
		c.ID, c.CustomerID, c.CustomerName, c.MerchantID, c.MerchantName, c.OrderID,
		c.LastMessageText, c.LastMessageAt, c.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("convRepo.Insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ConversationRepository) list(ctx context.Context, op, where string, args ...any) ([]model.Conversation, error) {
	sql := `SELECT ` + conversationColumns + ` FROM conversations`
	if where != "" {
		sql += ` WHERE ` + where
	}
	sql += ` ORDER BY last_message_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("convRepo.%s query: %w", op, err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.CustomerName, &c.MerchantID, &c.MerchantName, &c.OrderID,
			&c.LastMessageText, &c.LastMessageAt, &c.UnreadForCustomer, &c.UnreadForMerchant, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("convRepo.%s scan: %w", op, err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.%s rows: %w", op, err)
	}
	return convs, nil
}

func (r *ConversationRepository) ListByCustomer(ctx context.Context, customerID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListByCustomer", time.Now())()
	return r.list(ctx, "ListByCustomer", "customer_id = $1", customerID)
}

func (r *ConversationRepository) ListByMerchant(ctx context.Context, merchantID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListByMerchant", time.Now())()
	return r.list(ctx, "ListByMerchant", "merchant_id = $1", merchantID)
}

// ListAll returns every conversation in the system (admin-merchant view).
func (r *ConversationRepository) ListAll(ctx context.Context) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListAll", time.Now())()
	return r.list(ctx, "ListAll", "")
}

// ResetUnread zeroes one side's counter. The other side's counter is part
// of the same row but untouched by this statement, so a concurrent send
// incrementing it in SQL is never lost.
func (r *ConversationRepository) ResetUnread(ctx context.Context, id string, forCustomer bool) error {
	defer logger.DeferLogDuration("conv.ResetUnread", time.Now())()
	column := "unread_for_merchant"
	if forCustomer {
		column = "unread_for_customer"
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET `+column+` = 0 WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.ResetUnread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
