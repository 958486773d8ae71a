package realtime

import (
	"encoding/json"
	"errors"
	"strings"

	"marketchat/internal/model"
	"marketchat/internal/notify"
)

// Client to server events.
const (
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventSendMessage       = "sendMessage"
)

// Server to client events.
const (
	EventConnected          = "connected"
	EventJoinedConversation = "joinedConversation"
	EventReceiveMessage     = "receiveMessage"
	EventNewNotification    = notify.EventNewNotification
	EventMessageError       = "messageError"
)

// Frame is the envelope of every websocket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// SendMessagePayload is the data of a sendMessage frame.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Sender         string `json:"sender"`
	Text           string `json:"text"`
}

// ConnectedPayload acknowledges a successful handshake.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

// conversationIDFrom accepts either a bare string or {"conversationId": "..."}.
func conversationIDFrom(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id = strings.TrimSpace(id); id != "" {
			return id, nil
		}
		return "", model.ErrInvalidInput
	}
	var obj struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || strings.TrimSpace(obj.ConversationID) == "" {
		return "", model.ErrInvalidInput
	}
	return strings.TrimSpace(obj.ConversationID), nil
}

// clientMessage turns a service error into the text sent with messageError.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return "Invalid request: " + model.Reason(err)
	case errors.Is(err, model.ErrForbidden):
		return "Not authorized for this conversation"
	case errors.Is(err, model.ErrNotFound):
		return "Conversation not found"
	case errors.Is(err, model.ErrUnauthenticated):
		return "Not authenticated"
	default:
		return "Message could not be processed"
	}
}
