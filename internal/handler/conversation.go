package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

type startConversationRequest struct {
	ReceiverID string `json:"receiverId"`
}

// StartConversation handles POST /conversations
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	me := caller(r)
	h.Logger.Debugf("[POST /conversations] Request received from %s (user %s)", r.RemoteAddr, me.UserID)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warnf("[POST /conversations] ❌ Bad Request: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ReceiverID == "" {
		h.Logger.Warnf("[POST /conversations] ❌ Bad Request: missing receiverId")
		writeError(w, http.StatusBadRequest, "receiverId is required")
		return
	}

	conv, err := h.Directory.GetOrCreate(r.Context(), me.UserID, req.ReceiverID)
	if err != nil {
		h.fail(w, r, "Conversation", err)
		return
	}

	h.Logger.Infof("[POST /conversations] ✅ Conversation %s between %s and %s", conv.ID, me.UserID, req.ReceiverID)
	writeJSON(w, http.StatusOK, conv)
}

// ListConversations handles GET /conversations
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	me := caller(r)

	list, err := h.Directory.ListForUser(r.Context(), me.UserID)
	if err != nil {
		h.fail(w, r, "Conversation", err)
		return
	}

	h.Logger.Debugf("[GET /conversations] ✅ Returned %d conversations for %s", len(list), me.UserID)
	writeJSON(w, http.StatusOK, list)
}

// GetMessages handles GET /messages/{conversationId}
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	me := caller(r)
	conversationID := mux.Vars(r)["conversationId"]

	history, err := h.Messages.History(r.Context(), conversationID, me.UserID)
	if err != nil {
		h.fail(w, r, "Conversation", err)
		return
	}

	h.Logger.Debugf("[GET /messages/%s] ✅ Returned %d messages", conversationID, len(history))
	writeJSON(w, http.StatusOK, history)
}
