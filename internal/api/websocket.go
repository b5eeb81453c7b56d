package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"papertrade-core/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsBuffer     = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// visibleTo reports whether userID may see env. Order and security events
// belong to one user; market events go to everyone.
func visibleTo(env events.Envelope, userID string) bool {
	switch p := env.Payload.(type) {
	case events.OrderEvent:
		return p.UserID == userID
	case events.SecurityViolationEvent:
		return p.UserID == userID
	default:
		return true
	}
}

// websocket streams bus events. Browsers cannot set headers on the
// upgrade, so the token comes from ?token=.
func (s *Server) websocket(c *gin.Context) {
	claims, err := parseToken(c.Query("token"), s.JWTSecret)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
		return
	}
	if s.Bus == nil {
		respondError(c, http.StatusServiceUnavailable, "BUS_NOT_READY", "event bus not ready")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	stream, unsub := s.Bus.SubscribeAll(wsBuffer)
	defer unsub()

	// Reader drains control frames and notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	log := s.log.With(zap.String("user_id", claims.UserID))
	log.Debug("ws connected")
	for {
		select {
		case env, ok := <-stream:
			if !ok {
				return
			}
			if !visibleTo(env, claims.UserID) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				log.Debug("ws write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Debug("ws disconnected")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
