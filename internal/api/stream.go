package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ticlink-project/ticlink/internal/events"
)

const (
	streamPath   = "/api/v1/events/ws"
	streamBuffer = 64
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamHub tracks open event streams so shutdown can close them.
type streamHub struct {
	bus   *events.EventBus
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func newStreamHub(bus *events.EventBus) *streamHub {
	return &streamHub{bus: bus, conns: make(map[string]*websocket.Conn)}
}

func (h *streamHub) add(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = conn
}

func (h *streamHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

func (h *streamHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
			time.Now().Add(writeWait))
		conn.Close()
		delete(h.conns, id)
	}
}

// count reports the number of open streams.
func (h *streamHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// handleEventStream streams bus events as JSON text frames. The optional
// types query parameter is a comma separated filter.
func (s *Server) handleEventStream(c *gin.Context) {
	filter := make(map[events.EventType]bool)
	for _, t := range strings.Split(c.Query("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[events.EventType(t)] = true
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("event stream upgrade failed")
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	name := "ws:" + id
	feed := make(chan events.Event, streamBuffer)
	s.eventBus.Subscribe(events.EventAll, name, func(_ context.Context, ev events.Event) error {
		if len(filter) > 0 && !filter[ev.Type] {
			return nil
		}
		select {
		case feed <- ev:
		default:
			// reader too slow, drop
		}
		return nil
	})
	s.stream.add(id, conn)
	defer func() {
		s.eventBus.Unsubscribe(events.EventAll, name)
		s.stream.remove(id)
	}()

	s.logger.Debug().Str("stream", id).Str("client_ip", c.ClientIP()).Msg("event stream opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
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
		case <-done:
			s.logger.Debug().Str("stream", id).Msg("event stream closed")
			return
		case ev := <-feed:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
