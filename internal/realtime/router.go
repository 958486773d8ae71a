package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
)

// UserRoom is the identity room every connection of userID joins.
func UserRoom(userID string) string { return "user:" + userID }

// ConversationRoom is the room a client joins to receive a conversation's
// messages.
func ConversationRoom(conversationID string) string { return "conversation:" + conversationID }

// Router tracks live connections and their room memberships. A user may
// hold several connections; each one sits in the user's identity room.
type Router struct {
	mu           sync.RWMutex
	sessions     map[string]*Connection            // connection id -> connection
	rooms        map[string]map[string]*Connection // room -> connection id -> connection
	sessionRooms map[string]map[string]struct{}    // connection id -> rooms
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{
		sessions:     make(map[string]*Connection),
		rooms:        make(map[string]map[string]*Connection),
		sessionRooms: make(map[string]map[string]struct{}),
	}
}

// Attach registers conn, puts it into its identity room and starts its
// writer.
func (r *Router) Attach(conn *Connection) {
	r.mu.Lock()
	r.sessions[conn.ID] = conn
	r.sessionRooms[conn.ID] = make(map[string]struct{})
	r.joinLocked(UserRoom(conn.UserID()), conn)
	r.mu.Unlock()

	conn.start()
}

// Detach forgets conn and every room membership it had.
func (r *Router) Detach(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[conn.ID]; !ok {
		return
	}
	for room := range r.sessionRooms[conn.ID] {
		r.leaveLocked(room, conn.ID)
	}
	delete(r.sessionRooms, conn.ID)
	delete(r.sessions, conn.ID)
}

// Join adds an attached connection to room.
func (r *Router) Join(room string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[conn.ID]; !ok {
		return
	}
	r.joinLocked(room, conn)
}

// Leave removes conn from room.
func (r *Router) Leave(room string, conn *Connection) {
	r.mu.Lock()
	r.leaveLocked(room, conn.ID)
	r.mu.Unlock()
}

// Broadcast queues payload on every connection in room and reports how
// many accepted it.
func (r *Router) Broadcast(room string, payload []byte) int {
	r.mu.RLock()
	members := make([]*Connection, 0, len(r.rooms[room]))
	for _, conn := range r.rooms[room] {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range members {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Emit encodes an event and broadcasts it to room.
func (r *Router) Emit(room, event string, data any) (int, error) {
	payload, err := encode(event, data)
	if err != nil {
		return 0, err
	}
	return r.Broadcast(room, payload), nil
}

// EmitToUser sends an event to every connection of userID. An offline user
// is not an error.
func (r *Router) EmitToUser(userID, event string, data any) error {
	_, err := r.Emit(UserRoom(userID), event, data)
	return err
}

// Members reports how many connections are in room.
func (r *Router) Members(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Close disconnects every tracked connection.
func (r *Router) Close() {
	r.mu.Lock()
	sessions := make([]*Connection, 0, len(r.sessions))
	for _, conn := range r.sessions {
		sessions = append(sessions, conn)
	}
	r.sessions = make(map[string]*Connection)
	r.rooms = make(map[string]map[string]*Connection)
	r.sessionRooms = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, conn := range sessions {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (r *Router) joinLocked(room string, conn *Connection) {
	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		r.rooms[room] = members
	}
	members[conn.ID] = conn

	memberships := r.sessionRooms[conn.ID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		r.sessionRooms[conn.ID] = memberships
	}
	memberships[room] = struct{}{}
}

func (r *Router) leaveLocked(room, sessionID string) {
	members := r.rooms[room]
	if members == nil {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if memberships, ok := r.sessionRooms[sessionID]; ok {
		delete(memberships, room)
	}
}
