package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/raffle/internal/events"
	"github.com/R3E-Network/raffle/pkg/logger"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamBuffer     = 64
)

// stream pushes every event logged after the connection opens to a
// websocket client as JSON. An optional ?type= query narrows the feed.
type stream struct {
	events   *events.Log
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func newStream(log *events.Log, lg *logger.Logger) *stream {
	return &stream{
		events: log,
		log:    lg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var filter events.Filter
	if types := r.URL.Query()["type"]; len(types) > 0 {
		eventTypes := make([]events.EventType, len(types))
		for i, t := range types {
			eventTypes[i] = events.EventType(t)
		}
		filter = events.TypeFilter(eventTypes...)
	}

	// Handlers run on the publisher's goroutine, so never block there.
	queue := make(chan events.Event, streamBuffer)
	unsubscribe := s.events.SubscribeFiltered(filter, func(e events.Event) {
		select {
		case queue <- e:
		default:
			s.log.WithField("event_type", e.Type).Warn("stream client too slow; dropping event")
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go s.readPump(conn, closed)

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				s.log.WithError(err).Debug("stream write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readPump discards client messages and signals when the peer goes away.
func (s *stream) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
