package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"groupdrop/internal/models"
)

func TestHubCreation(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub returned nil")
	}

	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}
	if hub.broadcast == nil {
		t.Error("Hub broadcast channel is nil")
	}
	if hub.register == nil {
		t.Error("Hub register channel is nil")
	}
	if hub.unregister == nil {
		t.Error("Hub unregister channel is nil")
	}
}

func TestHubRun(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// Allow hub goroutine to start
	time.Sleep(10 * time.Millisecond)

	client := &Client{
		userID: 1,
		hub:    hub,
		send:   make(chan *Event, 256),
	}

	hub.register <- client

	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	if _, ok := hub.clients[1]; !ok {
		t.Error("Client was not registered")
	}
	hub.mu.RUnlock()

	if !hub.IsUserOnline(1) {
		t.Error("IsUserOnline(1) = false, want true")
	}

	hub.unregister <- client

	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	if _, ok := hub.clients[1]; ok {
		t.Error("Client was not unregistered")
	}
	hub.mu.RUnlock()
}

func TestBroadcastGroupMessage(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	time.Sleep(10 * time.Millisecond)

	member := &Client{userID: 1, hub: hub, send: make(chan *Event, 256)}
	otherMember := &Client{userID: 2, hub: hub, send: make(chan *Event, 256)}
	outsider := &Client{userID: 3, hub: hub, send: make(chan *Event, 256)}

	hub.register <- member
	hub.register <- otherMember
	hub.register <- outsider

	time.Sleep(10 * time.Millisecond)

	msg := &models.Message{
		ID:          7,
		GroupID:     42,
		SenderID:    1,
		SenderName:  "ana#0001",
		Description: "weekly notes",
		State:       models.MessageSent,
	}

	hub.BroadcastGroupMessage([]int{1, 2}, "book club", msg)

	time.Sleep(50 * time.Millisecond)

	for _, client := range []*Client{member, otherMember} {
		select {
		case event := <-client.send:
			if event.Type != "message" {
				t.Errorf("event type = %q, want %q", event.Type, "message")
			}
			if event.GroupID != 42 || event.MessageID != 7 {
				t.Errorf("event = group %d message %d", event.GroupID, event.MessageID)
			}
			if event.GroupName != "book club" {
				t.Errorf("group name = %q", event.GroupName)
			}
			if event.Message == nil || event.Message.Description != "weekly notes" {
				t.Error("event is missing the message body")
			}
		default:
			t.Errorf("user %d did not receive the message", client.userID)
		}
	}

	select {
	case <-outsider.send:
		t.Error("non-member received a group message")
	default:
	}
}

func TestNotifyModeration(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	time.Sleep(10 * time.Millisecond)

	sender := &Client{userID: 5, hub: hub, send: make(chan *Event, 256)}
	hub.register <- sender

	time.Sleep(10 * time.Millisecond)

	hub.NotifyModeration(5, 42, 7, true)

	time.Sleep(50 * time.Millisecond)

	select {
	case event := <-sender.send:
		if event.Type != "message_approved" {
			t.Errorf("event type = %q, want %q", event.Type, "message_approved")
		}
		if event.GroupID != 42 || event.MessageID != 7 {
			t.Errorf("event = group %d message %d", event.GroupID, event.MessageID)
		}
	default:
		t.Error("sender did not receive the moderation verdict")
	}

	hub.NotifyModeration(5, 42, 8, false)

	time.Sleep(50 * time.Millisecond)

	select {
	case event := <-sender.send:
		if event.Type != "message_rejected" {
			t.Errorf("event type = %q, want %q", event.Type, "message_rejected")
		}
	default:
		t.Error("sender did not receive the rejection")
	}
}

func TestWebSocketIntegration(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	go hub.Run()

	router := gin.New()

	// Simple middleware that sets user_id for testing
	router.GET("/ws", func(c *gin.Context) {
		c.Set("user_id", 1)
		hub.HandleWebSocket(c)
	})

	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	hub.mu.RLock()
	_, connected := hub.clients[1]
	hub.mu.RUnlock()

	if !connected {
		t.Error("WebSocket client was not registered in hub")
	}

	// Events pushed through the hub arrive on the wire as JSON
	msg := &models.Message{ID: 1, GroupID: 9, Description: "hello"}
	hub.BroadcastGroupMessage([]int{1}, "book club", msg)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("Invalid event JSON: %v", err)
	}
	if event.Type != "message" || event.GroupID != 9 {
		t.Errorf("event = %q group %d", event.Type, event.GroupID)
	}
}
