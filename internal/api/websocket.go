package api

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/naperu/wappgate/internal/bus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this interval (must be < pongWait)
	pingInterval = 30 * time.Second
)

// handleWebSocket streams the event feed of a single instance to the
// connected client. The first frame is always a status snapshot so the
// client can render current state without waiting for the next event.
func (s *Server) handleWebSocket(c *websocket.Conn) {
	instanceID := c.Params("id")
	connID := uuid.New().String()

	events := s.manager.Events().Subscribe(instanceID)
	defer s.manager.Events().Unsubscribe(instanceID, events)
	defer c.Close()

	log.Info().
		Str("instance", instanceID).
		Str("conn", connID).
		Msg("websocket client connected")

	snapshot := s.statusSnapshot(instanceID)
	c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteJSON(snapshot); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.SetReadDeadline(time.Now().Add(pongWait))
		c.SetPongHandler(func(string) error {
			c.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteJSON(evt); err != nil {
				log.Debug().
					Str("instance", instanceID).
					Str("conn", connID).
					Err(err).
					Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			log.Info().
				Str("instance", instanceID).
				Str("conn", connID).
				Msg("websocket client disconnected")
			return
		}
	}
}

func (s *Server) statusSnapshot(instanceID string) bus.Event {
	info := s.manager.Status(instanceID)
	data := map[string]interface{}{
		"status":   string(info.Status),
		"waNumber": info.WANumber,
		"waName":   info.WAName,
	}
	if inst, ok := s.manager.Get(instanceID); ok {
		if _, png := inst.QRCode(); png != "" {
			data["qrCode"] = png
		}
	}
	return bus.Event{
		Type:       bus.EventStatus,
		InstanceID: instanceID,
		Data:       data,
		Timestamp:  time.Now().Unix(),
	}
}
