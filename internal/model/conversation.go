package model

import "time"

// Conversation pairs one customer with one merchant. At most one record
// exists per (CustomerID, MerchantID); the storage layer enforces this
// with a uniqueness constraint.
type Conversation struct {
	ID                string    `json:"id"`
	CustomerID        string    `json:"customer_id"`
	CustomerName      string    `json:"customer_name"`
	MerchantID        string    `json:"merchant_id"`
	MerchantName      string    `json:"merchant_name"`
	OrderID           *string   `json:"order_id,omitempty"`
	LastMessageText   string    `json:"last_message_text"`
	LastMessageAt     time.Time `json:"last_message_at"`
	UnreadForCustomer int       `json:"unread_for_customer"`
	UnreadForMerchant int       `json:"unread_for_merchant"`
	CreatedAt         time.Time `json:"created_at"`
}
