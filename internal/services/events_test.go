package services

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestActivityHub_BroadcastToClient(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := NewActivityHub(quietLogger())
	go hub.Run()

	r := gin.New()
	r.GET("/ws/activity", hub.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/activity"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration races the publish; give the hub a beat.
	time.Sleep(50 * time.Millisecond)
	hub.Publish(EventRuleFired, map[string]any{"rule_id": 1, "invoice_id": 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event ActivityEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != EventRuleFired {
		t.Fatalf("event type = %s, want rule_fired", event.Type)
	}
	if event.Timestamp.IsZero() {
		t.Fatal("event timestamp not set")
	}
}

func TestActivityHub_NilHubPublishIsSafe(t *testing.T) {
	var hub *ActivityHub
	// Services run without a hub in CLI mode; Publish must be a no-op.
	hub.Publish(EventPromiseRecorded, nil)
}

func TestActivityHub_PublishWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewActivityHub(quietLogger())
	// No Run loop, no clients: the buffered channel absorbs what it can and
	// the rest is dropped.
	for i := 0; i < 200; i++ {
		hub.Publish(EventApprovalUpdated, i)
	}
}
