package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"marketchat/internal/identity"
)

// createUpgrader creates a WebSocket upgrader with the given allowed origins
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Origin を送らないネイティブクライアントは許可
			return origin == "" || allowedMap[origin]
		},
	}
}

// HandleWebSocket handles GET /ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// 認証はアップグレード前に行う (失敗時は 401 を返し、ルームには入れない)
	id, err := h.Verifier.Verify(identity.HandshakeToken(r))
	if err != nil {
		h.Logger.Warnf("[GET /ws] ❌ Unauthorized handshake from %s: %v", r.RemoteAddr, err)
		writeError(w, http.StatusUnauthorized, "Authentication error: invalid token")
		return
	}

	upgrader := createUpgrader(h.Config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warnf("[GET /ws] WebSocket upgrade error: %v", err)
		return
	}

	h.Hub.Serve(r.Context(), conn, id)
}
