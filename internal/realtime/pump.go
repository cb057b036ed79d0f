package realtime

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/mkhodary/chat-gateway/pkg/logger"
)

// writePump pumps queued payloads to the WebSocket connection and keeps the
// transport alive with protocol-level pings.
func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			conn.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case <-conn.Done():
			return

		case message := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound frames from one connection until a close frame or
// I/O failure, decoding the control protocol and dispatching each frame.
// Frames are processed in arrival order; the pump never reorders.
func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket read error",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
			}
			break
		}

		conn.Touch()
		h.presence.MarkActivity(conn.UserID)
		h.handleFrame(conn, message)
	}
}

// handleFrame dispatches one decoded inbound frame. A malformed payload is
// answered with an error envelope and the loop continues; a single bad
// frame never terminates the connection.
func (h *Hub) handleFrame(conn *Connection, message []byte) {
	frame, err := DecodeFrame(message)
	if err != nil {
		h.reply(conn, NewErrorEnvelope(errProcessingMessage))
		return
	}

	switch frame.Kind {
	case FramePing:
		h.reply(conn, NewPong())

	case FrameStatus:
		h.reply(conn, NewStatusReply(conn.UserID, time.Now()))

	case FrameChat:
		if frame.To == "" {
			h.reply(conn, NewErrorEnvelope("chat frame requires a recipient"))
			return
		}
		h.dispatcher.SendEnvelope(frame.To, NewChatRelay(conn.UserID, frame.Content, time.Now()))

	case FrameTyping:
		if frame.To == "" {
			return
		}
		h.dispatcher.SendEnvelope(frame.To, NewTypingRelay(conn.UserID, time.Now()))

	default:
		// Permissive protocol: unrecognized types are logged and ignored
		logger.Debug("Ignoring unrecognized frame type",
			logger.String("type", frame.Type),
			logger.String("connection_id", conn.ID),
		)
	}
}

// reply sends a direct reply on the same connection. An enqueue failure is
// a connection failure and drops the connection.
func (h *Hub) reply(conn *Connection, env ServerEnvelope) {
	if err := conn.Enqueue(env.Encode(), h.config.SendTimeout); err != nil {
		logger.Debug("Reply failed, dropping connection",
			logger.ErrorField(err),
			logger.String("connection_id", conn.ID),
		)
		h.Unregister(conn)
	}
}
