package ingress

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trading-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// auditFeed streams every audit.Event appended to the log as JSON, in
// emission order, for as long as the connection stays open.
func (s *Server) auditFeed(c *gin.Context) {
	s.stream(c, events.EventAuditLogged)
}

// triggerFeed streams every trigger.FireResult as a conditional BUY/SELL
// fires.
func (s *Server) triggerFeed(c *gin.Context) {
	s.stream(c, events.EventTriggerFired)
}

func (s *Server) stream(c *gin.Context, topic events.Event) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.Subscribe(topic, 100)
	defer unsub()

	for msg := range stream {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
