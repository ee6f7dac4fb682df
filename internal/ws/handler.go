// Package ws – WebSocket transport handler.
//
// InboxHandler upgrades GET /ws/inbox/:user_id to a WebSocket session,
// authenticates it from the ?token= query parameter, registers the session
// with the Registry, and pumps registry events to the peer until either side
// closes. Client pings are answered with pongs by the protocol layer; text
// and binary frames from the client are ignored.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Close codes mirroring the auth failure modes clients are written against.
const (
	closeUnauthorized = 4001
	closeForbidden    = 4003
)

const (
	writeWait = 10 * time.Second
	readLimit = 4 << 10 // inbound frames carry at most pings and tiny control text
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 10,
	WriteBufferSize: 4 << 10,
	// Cross-origin posture is handled by the CORS middleware for REST; the
	// socket endpoint authenticates every session by token instead.
	CheckOrigin: func(*http.Request) bool { return true },
}

// InboxHandler returns the gin handler for the real-time inbox endpoint.
//
// Session establishment:
//   - missing/invalid token   → close frame 4001 before registration
//   - token subject ≠ path id → close frame 4003 before registration
//
// A rejected session is upgraded just far enough to deliver the close frame,
// so browser clients observe a proper close code rather than an HTTP error.
func InboxHandler(reg *Registry, verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		pathUser := c.Param("user_id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response.
			return
		}

		token := c.Query("token")
		if token == "" {
			rejectSocket(conn, closeUnauthorized, "Missing authentication token")
			return
		}
		subject, err := verifier.Verify(token)
		if err != nil {
			rejectSocket(conn, closeUnauthorized, "Invalid or expired token")
			return
		}
		if subject != pathUser {
			rejectSocket(conn, closeForbidden, "Forbidden")
			return
		}

		serveSocket(reg, pathUser, conn)
	}
}

// rejectSocket sends a close frame with the given application code and drops
// the connection without ever touching the registry.
func rejectSocket(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// serveSocket runs one authenticated session: a write pump draining registry
// events and a read loop that notices pings and close frames. Whichever side
// ends first tears the session down; Disconnect is idempotent with respect to
// publish-side pruning.
func serveSocket(reg *Registry, userID string, conn *websocket.Conn) {
	connID, events := reg.Connect(userID)
	log.Info().Str("user_id", userID).Uint64("conn_id", connID).Msg("ws connected")

	done := make(chan struct{})

	// Write pump: registry → peer.
	go func() {
		defer close(done)
		for payload := range events {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
		// Channel closed: the registry retired this connection.
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}()

	// Read loop: pings are answered by the default ping handler; anything
	// else from the client is discarded. An error (including a close frame)
	// ends the session.
	conn.SetReadLimit(readLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	reg.Disconnect(userID, connID)
	<-done
	_ = conn.Close()
	log.Info().Str("user_id", userID).Uint64("conn_id", connID).Msg("ws disconnected")
}
