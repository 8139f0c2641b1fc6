package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wallradar/internal/broadcast"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The feed is read-only market data; origin gating happens upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection, resolves its tier from the token and
// pumps hub frames until either side goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Access-Token")
	}
	tier := broadcast.ResolveTier(token, s.auth.PrivateToken, s.auth.VIPTokens)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := s.hub.Subscribe(tier)
	log := s.log.With().Str("subscriber", sub.ID).Str("tier", string(tier)).Logger()

	welcome := broadcast.Welcome{
		Type:        "welcome",
		AccessLevel: tier,
	}
	if tier == broadcast.TierPublic {
		welcome.DataDelayMS = s.bcast.PublicDelayMS
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(welcome); err != nil {
		log.Warn().Err(err).Msg("welcome write failed")
		s.hub.Unsubscribe(sub.ID)
		conn.Close()
		return
	}

	go s.readPump(conn, sub.ID, log)
	s.writePump(conn, sub, log)
}

// readPump discards inbound messages and keeps the pong deadline fresh. The
// client closing its side is how it unsubscribes.
func (s *Server) readPump(conn *websocket.Conn, subID string, log zerolog.Logger) {
	defer func() {
		s.hub.Unsubscribe(subID)
		conn.Close()
	}()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
	}
}

// writePump relays hub frames and pings. It returns when the subscriber
// channel closes, which happens on unsubscribe, drop, or hub shutdown.
func (s *Server) writePump(conn *websocket.Conn, sub *broadcast.Subscriber, log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case payload, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				s.hub.Unsubscribe(sub.ID)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Unsubscribe(sub.ID)
				return
			}
		}
	}
}
