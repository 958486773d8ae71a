package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"marketchat/internal/chat"
	"marketchat/internal/config"
	"marketchat/internal/identity"
	"marketchat/internal/model"
	"marketchat/internal/notify"
	"marketchat/internal/realtime"
)

// リクエストボディの上限 (1MB)
const maxBodyBytes = 1 << 20

// Handler holds application dependencies
type Handler struct {
	Config    config.Config
	Logger    *log.Logger
	Verifier  *identity.Verifier
	Directory *chat.Directory
	Messages  *chat.MessageLog
	Outbox    *notify.Outbox
	Hub       *realtime.Hub
}

// New creates a new Handler with the given dependencies
func New(cfg config.Config, logger *log.Logger, verifier *identity.Verifier, directory *chat.Directory, messages *chat.MessageLog, outbox *notify.Outbox, hub *realtime.Hub) *Handler {
	return &Handler{
		Config:    cfg,
		Logger:    logger,
		Verifier:  verifier,
		Directory: directory,
		Messages:  messages,
		Outbox:    outbox,
		Hub:       hub,
	}
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.Health).Methods("GET")

	// REST API ("/api/..." は既存クライアント向けのエイリアス)
	for _, base := range []string{"", "/api/chat"} {
		r.HandleFunc(base+"/conversations", h.authenticated(h.ListConversations)).Methods("GET")
		r.HandleFunc(base+"/conversations", h.authenticated(h.StartConversation)).Methods("POST")
		r.HandleFunc(base+"/messages/{conversationId}", h.authenticated(h.GetMessages)).Methods("GET")
	}
	for _, base := range []string{"/notifications", "/api/notifications"} {
		r.HandleFunc(base, h.authenticated(h.GetNotifications)).Methods("GET")
		r.HandleFunc(base+"/read-all", h.authenticated(h.MarkAllNotificationsRead)).Methods("PUT")
		r.HandleFunc(base+"/{id}/read", h.authenticated(h.MarkNotificationRead)).Methods("PUT")
	}

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	return r
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticated verifies the bearer token and attaches the identity to the
// request context.
func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := h.Verifier.Verify(identity.BearerToken(r))
		if err != nil {
			h.Logger.Warnf("[%s %s] ❌ Unauthorized: %v", r.Method, r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, "Not authorized, token failed")
			return
		}
		next(w, r.WithContext(identity.WithContext(r.Context(), id)))
	}
}

// caller returns the identity attached by authenticated.
func caller(r *http.Request) identity.Identity {
	id, _ := identity.FromContext(r.Context())
	return id
}

// fail logs err and writes the matching status code. subject names the
// addressed resource in not-found responses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, subject string, err error) {
	status, msg := errorResponse(subject, err)
	if status >= http.StatusInternalServerError {
		h.Logger.Errorf("[%s %s] ❌ %v", r.Method, r.URL.Path, err)
	} else {
		h.Logger.Warnf("[%s %s] ⚠️ %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, msg)
}

func errorResponse(subject string, err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, model.Reason(err)
	case errors.Is(err, model.ErrUnauthenticated):
		return http.StatusUnauthorized, "Not authorized"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, subject + " not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
