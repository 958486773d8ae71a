package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// GetNotifications handles GET /notifications
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	me := caller(r)

	inbox, err := h.Outbox.ListForUser(r.Context(), me.UserID)
	if err != nil {
		h.fail(w, r, "Notification", err)
		return
	}

	h.Logger.Debugf("[GET /notifications] ✅ %d notifications (%d unread) for %s", len(inbox.Notifications), inbox.UnreadCount, me.UserID)
	writeJSON(w, http.StatusOK, inbox)
}

// MarkNotificationRead handles PUT /notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	me := caller(r)
	id := mux.Vars(r)["id"]

	n, err := h.Outbox.MarkRead(r.Context(), id, me.UserID)
	if err != nil {
		h.fail(w, r, "Notification", err)
		return
	}

	h.Logger.Infof("[PUT /notifications/%s/read] ✅ Marked read", id)
	writeJSON(w, http.StatusOK, n)
}

// MarkAllNotificationsRead handles PUT /notifications/read-all
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	me := caller(r)

	updated, err := h.Outbox.MarkAllRead(r.Context(), me.UserID)
	if err != nil {
		h.fail(w, r, "Notification", err)
		return
	}

	h.Logger.Infof("[PUT /notifications/read-all] ✅ Marked %d notifications read for %s", updated, me.UserID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "All notifications marked as read",
		"updated": updated,
	})
}
