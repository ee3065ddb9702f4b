package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"groupdrop/internal/models"
	"groupdrop/pkg/i18n"
)

// Hub tracks connected users and fans group events out to them. Connections
// are per account; guests do not get a live feed.
type Hub struct {
	clients    map[int]*Client
	broadcast  chan *delivery
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

type Client struct {
	userID int
	conn   *websocket.Conn
	hub    *Hub
	send   chan *Event
}

// Event is the wire format for the live feed.
type Event struct {
	Type      string          `json:"type"` // "message", "pending_message", "message_approved", "message_rejected"
	GroupID   int             `json:"group_id"`
	GroupName string          `json:"group_name,omitempty"`
	MessageID int             `json:"message_id,omitempty"`
	Message   *models.Message `json:"message,omitempty"`
}

// delivery pairs an event with the user IDs it goes to.
type delivery struct {
	userIDs []int
	event   *Event
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin
		return true
	},
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[int]*Client),
		broadcast:  make(chan *delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// IsUserOnline checks if a user is currently connected
func (h *Hub) IsUserOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// BroadcastGroupMessage pushes a sent message to every listed member.
func (h *Hub) BroadcastGroupMessage(memberIDs []int, groupName string, msg *models.Message) {
	h.broadcast <- &delivery{
		userIDs: memberIDs,
		event: &Event{
			Type:      "message",
			GroupID:   msg.GroupID,
			GroupName: groupName,
			MessageID: msg.ID,
			Message:   msg,
		},
	}
}

// NotifyPendingMessage tells the group's admins a message is waiting for
// approval.
func (h *Hub) NotifyPendingMessage(adminIDs []int, groupName string, msg *models.Message) {
	h.broadcast <- &delivery{
		userIDs: adminIDs,
		event: &Event{
			Type:      "pending_message",
			GroupID:   msg.GroupID,
			GroupName: groupName,
			MessageID: msg.ID,
			Message:   msg,
		},
	}
}

// NotifyModeration reports an approve or reject verdict back to the sender.
func (h *Hub) NotifyModeration(senderID, groupID, messageID int, approved bool) {
	eventType := "message_rejected"
	if approved {
		eventType = "message_approved"
	}
	h.broadcast <- &delivery{
		userIDs: []int{senderID},
		event: &Event{
			Type:      eventType,
			GroupID:   groupID,
			MessageID: messageID,
		},
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.userID] = client
			h.mu.Unlock()
			log.Printf("User %d connected (total: %d)", client.userID, len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.userID]; ok {
				delete(h.clients, client.userID)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("User %d disconnected (total: %d)", client.userID, len(h.clients))

		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

func (h *Hub) deliver(d *delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userID := range d.userIDs {
		client, ok := h.clients[userID]
		if !ok {
			continue
		}
		select {
		case client.send <- d.event:
		default:
			log.Printf("Event channel full for user %d", userID)
		}
	}
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": i18n.Translate("unauthorized")})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Upgrade error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": i18n.Translate("websocket upgrade failed")})
		return
	}

	client := &Client{
		userID: userID.(int),
		conn:   conn,
		hub:    h,
		send:   make(chan *Event, 256),
	}

	h.register <- client

	go client.readPump()
	go client.writePump()
}

// readPump only services control frames. Messages are posted over HTTP so
// uploads and moderation share one code path.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, _ := json.Marshal(event)
			w.Write(data)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
