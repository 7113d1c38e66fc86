package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/orderchat/internal/chat"
)

type ConversationHandler struct {
	svc *chat.Service
}

func NewConversationHandler(svc *chat.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type OpenConversationRequest struct {
	CustomerID   string  `json:"customer_id"`
	CustomerName string  `json:"customer_name"`
	MerchantID   string  `json:"merchant_id"`
	MerchantName string  `json:"merchant_name"`
	OrderID      *string `json:"order_id,omitempty"`
}

// Open returns the conversation for a (customer, merchant) pair, creating
// it on first contact. Idempotent; racing openers converge on one record.
func (h *ConversationHandler) Open(w http.ResponseWriter, r *http.Request) {
	view, ok := callerView(w, r)
	if !ok {
		return
	}
	var req OpenConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.MerchantID = strings.TrimSpace(req.MerchantID)
	if req.CustomerID == "" || req.MerchantID == "" {
		writeError(w, http.StatusBadRequest, "customer_id and merchant_id required")
		return
	}

	conv, err := h.svc.GetOrCreate(r.Context(), view, req.CustomerID, req.CustomerName, req.MerchantID, req.MerchantName, req.OrderID)
	if err != nil {
		writeChatError(w, "open conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// List returns the caller's conversations, most recent activity first.
// The admin merchant sees every conversation on the platform.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	view, ok := callerView(w, r)
	if !ok {
		return
	}
	convs, err := h.svc.ListForParty(r.Context(), view)
	if err != nil {
		writeChatError(w, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// MarkRead zeroes the caller's unread counter for one conversation.
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	view, ok := callerView(w, r)
	if !ok {
		return
	}
	conversationID := chi.URLParam(r, "id")
	if err := h.svc.MarkRead(r.Context(), view, conversationID); err != nil {
		writeChatError(w, "mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
