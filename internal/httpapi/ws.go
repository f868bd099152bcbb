package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fleetops/internal/broadcast"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin; access is gated by the JWT.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS streams broadcast envelopes to a dashboard client. The topics query parameter
// is a comma-separated list of topic filters. A client that falls behind is closed with
// 1013 (try again later) and is expected to re-fetch state before resubscribing.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r, readRoles...)
	if err != nil {
		s.fail(w, err)
		return
	}
	var topics []string
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	sub := s.Bus.Subscribe(topics...)
	defer sub.Close()
	log := s.Log.With().Str("actor", actor.Name).Str("remote", r.RemoteAddr).Logger()
	log.Debug().Strs("topics", topics).Msg("websocket subscriber attached")

	// The read side only handles control frames and notices the client leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				code, reason := websocket.CloseGoingAway, "server shutting down"
				if errors.Is(sub.Err(), broadcast.ErrSlowConsumer) {
					code, reason = websocket.CloseTryAgainLater, sub.Err().Error()
					log.Warn().Msg("websocket subscriber dropped: too slow")
				}
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("websocket write")
				return
			}
		}
	}
}
