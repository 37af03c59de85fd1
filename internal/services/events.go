package services

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Activity event types pushed to dashboard clients.
const (
	EventRuleFired       = "rule_fired"
	EventApprovalUpdated = "approval_updated"
	EventPromiseRecorded = "promise_recorded"
)

// ActivityEvent is the wire format of the collections activity feed.
type ActivityEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type activityClient struct {
	id   string
	conn *websocket.Conn
	send chan ActivityEvent
	hub  *ActivityHub
}

// ActivityHub fans engine and approval events out to connected websocket
// clients. All methods are safe on a nil hub so services can run without one.
type ActivityHub struct {
	clients    map[string]*activityClient
	broadcast  chan ActivityEvent
	register   chan *activityClient
	unregister chan *activityClient
	logger     *logrus.Logger
	mutex      sync.RWMutex
}

var activityUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin checks belong to the reverse proxy in production
	},
}

func NewActivityHub(logger *logrus.Logger) *ActivityHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActivityHub{
		clients:    make(map[string]*activityClient),
		broadcast:  make(chan ActivityEvent, 64),
		register:   make(chan *activityClient),
		unregister: make(chan *activityClient),
		logger:     logger,
	}
}

// Run processes register/unregister/broadcast events. Call it once from a
// dedicated goroutine.
func (h *ActivityHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			h.logger.Infof("activity: client %s connected", client.id)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mutex.Unlock()
			h.logger.Infof("activity: client %s disconnected", client.id)

		case event := <-h.broadcast:
			h.mutex.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- event:
				default:
					// slow consumer, drop the event for this client
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// Publish queues an event for all connected clients. Non-blocking; events
// are dropped when the hub is saturated or absent.
func (h *ActivityHub) Publish(eventType string, data interface{}) {
	if h == nil {
		return
	}
	event := ActivityEvent{Type: eventType, Data: data, Timestamp: time.Now().UTC()}
	select {
	case h.broadcast <- event:
	default:
	}
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
func (h *ActivityHub) HandleWebSocket(c *gin.Context) {
	conn, err := activityUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("activity: upgrade failed: %v", err)
		return
	}

	client := &activityClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan ActivityEvent, 16),
		hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *activityClient) writePump() {
	defer c.conn.Close()
	for event := range c.send {
		if err := c.conn.WriteJSON(event); err != nil {
			c.hub.logger.Debugf("activity: write to %s failed: %v", c.id, err)
			return
		}
	}
}

// readPump discards inbound frames; the feed is one-way. It exists to detect
// closed connections and unregister the client.
func (c *activityClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
