package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orderchat/internal/chat"
)

type MessageHandler struct {
	svc *chat.Service
}

func NewMessageHandler(svc *chat.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

// Send appends a message to a conversation. The counterparty's unread
// counter moves together with the message in one write.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	view, ok := callerView(w, r)
	if !ok {
		return
	}
	conversationID := chi.URLParam(r, "id")
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	m, err := h.svc.Send(r.Context(), view, conversationID, req.Text)
	if err != nil {
		writeChatError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Recent returns the newest messages of a conversation, newest first.
// ?limit caps the window.
func (h *MessageHandler) Recent(w http.ResponseWriter, r *http.Request) {
	view, ok := callerView(w, r)
	if !ok {
		return
	}
	conversationID := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 0)
	msgs, err := h.svc.Recent(r.Context(), view, conversationID, limit)
	if err != nil {
		writeChatError(w, "recent messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type SystemMessageRequest struct {
	Text string `json:"text"`
}

// AppendSystem records an order-event note in a conversation. Internal
// endpoint for the order pipeline, not exposed to clients.
func (h *MessageHandler) AppendSystem(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	var req SystemMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	m, err := h.svc.AppendSystem(r.Context(), conversationID, req.Text)
	if err != nil {
		writeChatError(w, "append system message", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}
