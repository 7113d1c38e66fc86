package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/orderchat/internal/chat"
	"github.com/orderchat/internal/logger"
	"github.com/orderchat/internal/middleware"
	"github.com/orderchat/internal/role"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeChatError maps service errors onto HTTP statuses.
func writeChatError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, "message text required")
	case errors.Is(err, chat.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, chat.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusServiceUnavailable, "temporary failure, retry")
	}
}

// callerView extracts the resolved party view; missing means the route
// was mounted outside the auth group.
func callerView(w http.ResponseWriter, r *http.Request) (role.View, bool) {
	view, ok := middleware.GetView(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
	return view, ok
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
