package realtime

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// FrameHandler consumes inbound frames for a client. Calls for one client are sequential.
type FrameHandler interface {
	HandleFrame(ctx context.Context, client *Client, frame []byte)
}

// Client is one registered connection. Room membership is guarded by the owning Hub.
type Client struct {
	id     int64
	actor  auth.Actor
	send   chan []byte
	rooms  map[string]struct{}
	hub    *Hub
	closed bool
}

// ID returns the hub-assigned connection id.
func (c *Client) ID() int64 {
	return c.id
}

// Actor returns the authenticated identity behind the connection.
func (c *Client) Actor() auth.Actor {
	return c.actor
}

// Outbound exposes the queued frames; it is closed when the client is unregistered.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Serve registers conn for actor and pumps frames until the connection ends.
// It blocks in the read loop and unregisters the client on return.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, actor auth.Actor, handler FrameHandler) {
	client := h.Register(actor)
	h.logger.Debug("realtime client connected",
		zap.Int64("client_id", client.id),
		zap.String("user_id", actor.ID),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.writePump(conn)
	}()

	client.readPump(ctx, conn, handler)
	h.Unregister(client)
	<-done
	h.logger.Debug("realtime client disconnected",
		zap.Int64("client_id", client.id),
		zap.String("user_id", actor.ID),
	)
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn, handler FrameHandler) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("realtime read failed",
					zap.String("operation", "realtime.client.read"),
					zap.Int64("client_id", c.id),
					zap.Error(err),
				)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if handler != nil {
			handler.HandleFrame(ctx, c, frame)
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
