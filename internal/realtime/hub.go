// Package realtime serves the websocket session protocol: identity rooms,
// conversation rooms, message fan-out and live notification pushes.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"marketchat/internal/chat"
	"marketchat/internal/identity"
	"marketchat/internal/model"
	"marketchat/internal/notify"
)

const opTimeout = 10 * time.Second

// Hub dispatches inbound frames of every connection to the chat and
// notification services.
type Hub struct {
	router    *Router
	directory *chat.Directory
	messages  *chat.MessageLog
	outbox    *notify.Outbox
	logger    *log.Logger
	locks     *keyedMutex
}

// NewHub wires a Hub. The router is shared with the outbox so
// notifications created elsewhere reach live connections too.
func NewHub(router *Router, directory *chat.Directory, messages *chat.MessageLog, outbox *notify.Outbox, logger *log.Logger) *Hub {
	return &Hub{
		router:    router,
		directory: directory,
		messages:  messages,
		outbox:    outbox,
		logger:    logger,
		locks:     newKeyedMutex(),
	}
}

// Router exposes the room registry.
func (h *Hub) Router() *Router { return h.router }

// Serve runs an upgraded, authenticated websocket until the client goes
// away or ctx ends. It blocks.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, id identity.Identity) {
	conn := newConnection(id, ws)
	h.router.Attach(conn)
	h.logger.Info("✅ [WS] connected", "user", id.UserID, "conn", conn.ID)

	defer func() {
		h.router.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "")
		h.logger.Info("[WS] disconnected", "user", id.UserID, "conn", conn.ID)
	}()

	h.emit(conn, EventConnected, ConnectedPayload{ConnectionID: conn.ID, UserID: id.UserID})

	stop := context.AfterFunc(ctx, func() { conn.Close(websocket.CloseGoingAway, "server shutdown") })
	defer stop()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("⚠️ [WS] read error", "user", id.UserID, "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.emit(conn, EventMessageError, "Malformed frame")
			continue
		}
		h.dispatch(ctx, conn, frame)
	}
}

func (h *Hub) dispatch(ctx context.Context, conn *Connection, frame Frame) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()

	switch frame.Event {
	case EventJoinConversation:
		h.joinConversation(ctx, conn, frame.Data)
	case EventLeaveConversation:
		h.leaveConversation(conn, frame.Data)
	case EventSendMessage:
		h.sendMessage(ctx, conn, frame.Data)
	default:
		h.emit(conn, EventMessageError, fmt.Sprintf("Unknown event %q", frame.Event))
	}
}

func (h *Hub) joinConversation(ctx context.Context, conn *Connection, data json.RawMessage) {
	conversationID, err := conversationIDFrom(data)
	if err != nil {
		h.emit(conn, EventMessageError, "Invalid request: conversation id is required")
		return
	}

	conv, err := h.directory.Get(ctx, conversationID)
	if err == nil && !conv.HasParticipant(conn.UserID()) {
		err = fmt.Errorf("join %s: %w", conversationID, model.ErrForbidden)
	}
	if err != nil {
		h.logger.Warn("⚠️ [WS joinConversation] rejected", "user", conn.UserID(), "conversation", conversationID, "err", err)
		h.emit(conn, EventMessageError, clientMessage(err))
		return
	}

	h.router.Join(ConversationRoom(conversationID), conn)
	h.logger.Debug("[WS joinConversation]", "user", conn.UserID(), "conversation", conversationID)
	h.emit(conn, EventJoinedConversation, conversationID)
}

func (h *Hub) leaveConversation(conn *Connection, data json.RawMessage) {
	conversationID, err := conversationIDFrom(data)
	if err != nil {
		h.emit(conn, EventMessageError, "Invalid request: conversation id is required")
		return
	}
	h.router.Leave(ConversationRoom(conversationID), conn)
}

func (h *Hub) sendMessage(ctx context.Context, conn *Connection, data json.RawMessage) {
	var in SendMessagePayload
	if err := json.Unmarshal(data, &in); err != nil {
		h.emit(conn, EventMessageError, "Invalid request: malformed message")
		return
	}
	if in.Sender != conn.UserID() {
		h.logger.Warn("⚠️ [WS sendMessage] sender mismatch", "user", conn.UserID(), "claimed", in.Sender)
		h.emit(conn, EventMessageError, "Sender does not match the authenticated user")
		return
	}

	msg, err := h.appendAndBroadcast(ctx, in)
	if err != nil {
		h.logger.Warn("❌ [WS sendMessage] rejected", "user", conn.UserID(), "conversation", in.ConversationID, "err", err)
		h.emit(conn, EventMessageError, clientMessage(err))
		return
	}

	h.notifyOthers(ctx, msg)
}

// appendAndBroadcast persists the message and fans it out while holding the
// conversation's lock, so every member sees messages in stored order.
func (h *Hub) appendAndBroadcast(ctx context.Context, in SendMessagePayload) (*model.Message, error) {
	unlock := h.locks.Lock(in.ConversationID)
	defer unlock()

	msg, err := h.messages.Append(ctx, in.ConversationID, in.Sender, in.Text)
	if err != nil {
		return nil, err
	}
	delivered, err := h.router.Emit(ConversationRoom(msg.ConversationID), EventReceiveMessage, msg)
	if err != nil {
		h.logger.Error("❌ [WS sendMessage] encode failed", "message", msg.ID, "err", err)
	}
	h.logger.Debug("📢 [WS sendMessage] broadcast", "conversation", msg.ConversationID, "message", msg.ID, "delivered", delivered)
	return msg, nil
}

// notifyOthers raises a new_message notification for every participant
// except the sender. Failures are logged only.
func (h *Hub) notifyOthers(ctx context.Context, msg *model.Message) {
	conv, err := h.directory.Get(ctx, msg.ConversationID)
	if err != nil {
		h.logger.Error("❌ [WS sendMessage] notification skipped", "conversation", msg.ConversationID, "err", err)
		return
	}

	text := "You have a new message."
	if msg.SenderName != "" {
		text = "New message from " + msg.SenderName
	}
	for _, recipient := range conv.Others(msg.Sender) {
		_, err := h.outbox.Deliver(ctx, notify.NewNotification{
			Recipient:      recipient,
			Sender:         msg.Sender,
			Type:           model.NotificationNewMessage,
			Message:        text,
			Link:           "/chat?conversationId=" + msg.ConversationID,
			ConversationID: msg.ConversationID,
		})
		if err != nil {
			h.logger.Error("❌ [WS sendMessage] notification failed", "recipient", recipient, "err", err)
		}
	}
}

func (h *Hub) emit(conn *Connection, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		h.logger.Error("❌ [WS] encode failed", "event", event, "err", err)
		return
	}
	if err := conn.Send(payload); err != nil && !errors.Is(err, errConnClosed) {
		h.logger.Warn("⚠️ [WS] send failed", "user", conn.UserID(), "event", event, "err", err)
	}
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.router.Close()
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l := k.locks[key]
	if l == nil {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
