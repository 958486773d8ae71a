package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"marketchat/internal/chat"
	"marketchat/internal/config"
	"marketchat/internal/identity"
	"marketchat/internal/model"
	"marketchat/internal/notify"
	"marketchat/internal/realtime"
	"marketchat/internal/store/memstore"
)

func TestMain(m *testing.M) {
	// プロジェクトルートの.envを読み込み
	_ = godotenv.Load("../../.env")
	os.Exit(m.Run())
}

// newTestHandler テスト用のHandlerを生成 (インメモリストア)
func newTestHandler(t *testing.T) (*Handler, *memstore.Store) {
	t.Helper()

	logger := log.New(io.Discard)
	s := memstore.New()
	s.PutUser(model.User{ID: "alice", Name: "Alice", Role: model.RoleUser})
	s.PutUser(model.User{ID: "bob", Name: "Bob", Role: model.RoleProvider})

	router := realtime.NewRouter()
	directory := chat.NewDirectory(s, logger)
	messages := chat.NewMessageLog(s, logger)
	outbox := notify.NewOutbox(s, router, logger)
	hub := realtime.NewHub(router, directory, messages, outbox, logger)
	t.Cleanup(hub.Close)

	cfg := config.Config{
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	}
	return New(cfg, logger, identity.NewVerifier("test-secret"), directory, messages, outbox, hub), s
}

func token(t *testing.T, h *Handler, userID string) string {
	t.Helper()
	tok, err := h.Verifier.Issue(userID, model.RoleUser, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return tok
}

func do(t *testing.T, h *Handler, method, path, userID string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, h, userID))
	}
	w := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(w, req)
	return w
}

func errorOf(w *httptest.ResponseRecorder) string {
	var errResp map[string]string
	json.Unmarshal(w.Body.Bytes(), &errResp)
	return errResp["error"]
}

// TestHealth 認証なしで応答する
func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(t, h, "GET", "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

// TestUnauthorized トークンなし・不正トークンは 401
func TestUnauthorized(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.SetupRouter()

	for _, path := range []string{"/conversations", "/api/chat/conversations", "/notifications", "/messages/x"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusUnauthorized, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d for malformed token, got %d", http.StatusUnauthorized, w.Code)
	}
}

// TestStartConversation 同じペアなら同じ会話が返る
func TestStartConversation(t *testing.T) {
	h, _ := newTestHandler(t)

	body, _ := json.Marshal(map[string]string{"receiverId": "bob"})
	w := do(t, h, "POST", "/conversations", "alice", bytes.NewReader(body))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type: application/json, got %s", w.Header().Get("Content-Type"))
	}

	var first model.Conversation
	json.Unmarshal(w.Body.Bytes(), &first)
	if first.ID == "" || len(first.Participants) != 2 {
		t.Fatalf("Unexpected conversation %+v", first)
	}

	body, _ = json.Marshal(map[string]string{"receiverId": "alice"})
	w = do(t, h, "POST", "/api/chat/conversations", "bob", bytes.NewReader(body))

	var second model.Conversation
	json.Unmarshal(w.Body.Bytes(), &second)
	if second.ID != first.ID {
		t.Errorf("Expected the same conversation, got %s and %s", first.ID, second.ID)
	}
}

// TestStartConversation_BadRequests 入力チェック
func TestStartConversation_BadRequests(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(t, h, "POST", "/conversations", "alice", strings.NewReader("invalid json"))
	if w.Code != http.StatusBadRequest || errorOf(w) != "Invalid request body" {
		t.Errorf("Invalid JSON: got %d %q", w.Code, errorOf(w))
	}

	w = do(t, h, "POST", "/conversations", "alice", strings.NewReader(`{}`))
	if w.Code != http.StatusBadRequest || errorOf(w) != "receiverId is required" {
		t.Errorf("Missing receiver: got %d %q", w.Code, errorOf(w))
	}

	w = do(t, h, "POST", "/conversations", "alice", strings.NewReader(`{"receiverId":"alice"}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Self conversation: expected %d, got %d", http.StatusBadRequest, w.Code)
	}
}

// TestStartConversation_OversizedBody 1MB を超えるボディは拒否
func TestStartConversation_OversizedBody(t *testing.T) {
	h, _ := newTestHandler(t)

	huge := `{"receiverId":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`
	w := do(t, h, "POST", "/conversations", "alice", strings.NewReader(huge))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

// TestListConversations 参加者名が解決される
func TestListConversations(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(t, h, "GET", "/conversations", "alice", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty array, got %s", w.Body.String())
	}

	h.Directory.GetOrCreate(context.Background(), "alice", "bob")

	w = do(t, h, "GET", "/conversations", "alice", nil)
	var list []model.Conversation
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Fatalf("Expected 1 conversation, got %d", len(list))
	}
	names := map[string]string{}
	for _, p := range list[0].Participants {
		names[p.ID] = p.Name
	}
	if names["bob"] != "Bob" || names["alice"] != "Alice" {
		t.Errorf("Expected resolved names, got %+v", list[0].Participants)
	}
}

// TestGetMessages 参加者のみ履歴を取得できる
func TestGetMessages(t *testing.T) {
	h, s := newTestHandler(t)
	s.PutUser(model.User{ID: "mallory", Name: "Mallory"})
	ctx := context.Background()

	conv, _ := h.Directory.GetOrCreate(ctx, "alice", "bob")
	h.Messages.Append(ctx, conv.ID, "alice", "hello")
	h.Messages.Append(ctx, conv.ID, "bob", "hi there")

	w := do(t, h, "GET", "/messages/"+conv.ID, "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var history []model.Message
	json.Unmarshal(w.Body.Bytes(), &history)
	if len(history) != 2 || history[0].Text != "hello" || history[1].Text != "hi there" {
		t.Errorf("Unexpected history %+v", history)
	}

	w = do(t, h, "GET", "/api/chat/messages/"+conv.ID, "mallory", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Non-participant: expected %d, got %d", http.StatusForbidden, w.Code)
	}

	w = do(t, h, "GET", "/messages/missing", "alice", nil)
	if w.Code != http.StatusNotFound || errorOf(w) != "Conversation not found" {
		t.Errorf("Missing conversation: got %d %q", w.Code, errorOf(w))
	}
}

// TestNotifications 一覧・既読化
func TestNotifications(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	var ids []string
	for _, msg := range []string{"Booking confirmed", "Payment received"} {
		n, err := h.Outbox.Create(ctx, notify.NewNotification{Recipient: "bob", Type: model.NotificationBookingUpdate, Message: msg})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, n.ID)
	}

	w := do(t, h, "GET", "/notifications", "bob", nil)
	var inbox notify.Inbox
	json.Unmarshal(w.Body.Bytes(), &inbox)
	if len(inbox.Notifications) != 2 || inbox.UnreadCount != 2 {
		t.Fatalf("Expected 2 unread, got %+v", inbox)
	}

	w = do(t, h, "PUT", "/notifications/"+ids[0]+"/read", "alice", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Foreign notification: expected %d, got %d", http.StatusNotFound, w.Code)
	}

	w = do(t, h, "PUT", "/api/notifications/"+ids[0]+"/read", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var marked model.Notification
	json.Unmarshal(w.Body.Bytes(), &marked)
	if !marked.Read {
		t.Error("Notification should be read")
	}

	w = do(t, h, "GET", "/api/notifications", "bob", nil)
	json.Unmarshal(w.Body.Bytes(), &inbox)
	if inbox.UnreadCount != 1 {
		t.Errorf("Expected 1 unread, got %d", inbox.UnreadCount)
	}

	w = do(t, h, "PUT", "/notifications/read-all", "bob", nil)
	var resp struct {
		Message string `json:"message"`
		Updated int64  `json:"updated"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Updated != 1 {
		t.Errorf("read-all: got %d, updated=%d", w.Code, resp.Updated)
	}

	w = do(t, h, "PUT", "/notifications/read-all", "alice", nil)
	if w.Code != http.StatusOK {
		t.Errorf("read-all with nothing unread should succeed, got %d", w.Code)
	}
}

// TestWebSocketConnection WebSocket 接続テスト
func TestWebSocketConnection(t *testing.T) {
	h, _ := newTestHandler(t)

	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	url := strings.Replace(server.URL, "http://", "ws://", 1)

	header := http.Header{}
	header.Set("Origin", "http://localhost:3000")

	ws, _, err := websocket.DefaultDialer.Dial(url+"/ws?token="+token(t, h, "alice"), header)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame realtime.Frame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read connected event: %v", err)
	}
	if frame.Event != realtime.EventConnected {
		t.Errorf("Expected %s, got %s", realtime.EventConnected, frame.Event)
	}

	if n := h.Hub.Router().Members(realtime.UserRoom("alice")); n != 1 {
		t.Errorf("WebSocket client should be registered, got %d", n)
	}
}

// TestWebSocketAuth トークンなしはアップグレード前に 401
func TestWebSocketAuth(t *testing.T) {
	h, _ := newTestHandler(t)

	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	url := strings.Replace(server.URL, "http://", "ws://", 1)

	_, resp, err := websocket.DefaultDialer.Dial(url+"/ws", nil)
	if err == nil {
		t.Fatal("WebSocket connection without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 response, got %v", resp)
	}
}

// TestWebSocketOriginCheck Origin チェックテスト
func TestWebSocketOriginCheck(t *testing.T) {
	h, _ := newTestHandler(t)

	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	url := strings.Replace(server.URL, "http://", "ws://", 1)

	// 許可されていない Origin で接続試行
	header := http.Header{}
	header.Set("Origin", "http://forbidden.example.com")

	_, _, err := websocket.DefaultDialer.Dial(url+"/ws?token="+token(t, h, "alice"), header)
	if err == nil {
		t.Error("WebSocket connection from forbidden origin should fail")
	}
}
