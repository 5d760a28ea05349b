// Package inspector implements the live request inspector: websocket
// upgrades, history replay, and fan-out of new log entries.
package inspector

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mocknest/mocknest/internal/model"
	"github.com/mocknest/mocknest/internal/store"
)

const (
	// historyLimit caps getHistory replies.
	historyLimit = 100

	// DefaultSendBuffer is the per-session outbound frame buffer. A
	// session that falls this far behind is disconnected rather than
	// allowed to stall the broadcast path.
	DefaultSendBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4096
)

// Hub owns one tenant's inspector sessions.
type Hub struct {
	store      *store.Store
	sendBuffer int
	upgrader   websocket.Upgrader
	sessions   *xsync.Map[*session, struct{}]
}

// NewHub creates a hub over the tenant's store. sendBuffer <= 0
// selects DefaultSendBuffer.
func NewHub(st *store.Store, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Hub{
		store:      st,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Inspector clients are tenant tooling; the mock surface
			// carries no browser credentials worth protecting.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: xsync.NewMap[*session, struct{}](),
	}
}

// session is one connected inspector socket.
type session struct {
	conn *websocket.Conn
	// filter holds the subscribed endpoint id; nil or "" means all of
	// the tenant's traffic.
	filter atomic.Pointer[string]

	// mu guards send against a concurrent close: a send on a closed
	// channel panics even inside a select with a default case.
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (s *session) matches(endpointID string) bool {
	f := s.filter.Load()
	return f == nil || *f == "" || *f == endpointID
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// trySend queues frame without blocking. It reports false only when a
// live session's buffer is full; frames for a closed session are
// silently discarded.
func (s *session) trySend(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// ServeHTTP upgrades the connection and runs the session until the
// socket closes. Disconnects silently remove the session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Printf("[inspector] warning: upgrade failed: %v", err)
		return
	}

	s := &session{
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
	}
	h.sessions.Store(s, struct{}{})

	go h.writePump(s)
	h.readPump(s)

	h.sessions.Delete(s)
	s.close()
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	return h.sessions.Size()
}

// CloseAll disconnects every session, for shutdown.
func (h *Hub) CloseAll() {
	h.sessions.Range(func(s *session, _ struct{}) bool {
		h.sessions.Delete(s)
		s.close()
		return true
	})
}

// Broadcast sends a new log entry to every session whose subscription
// matches. Never blocks: a session with a full buffer is dropped.
func (h *Hub) Broadcast(view model.RequestLogView) {
	frame, err := json.Marshal(outbound{Type: "request", Data: view})
	if err != nil {
		log.Printf("[inspector] warning: marshal broadcast: %v", err)
		return
	}
	h.sessions.Range(func(s *session, _ struct{}) bool {
		if !s.matches(view.EndpointID) {
			return true
		}
		if !s.trySend(frame) {
			log.Printf("[inspector] warning: slow inspector session dropped")
			h.sessions.Delete(s)
			s.close()
		}
		return true
	})
}

// --- message schema ---

type inbound struct {
	Type       string `json:"type"`
	EndpointID string `json:"endpointId,omitempty"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// readPump consumes inbound frames until the socket closes.
func (h *Hub) readPump(s *session) {
	defer s.conn.Close()
	s.conn.SetReadLimit(maxMsgSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[inspector] warning: malformed inbound frame: %v", err)
			continue
		}
		h.handleMessage(s, msg)
	}
}

func (h *Hub) handleMessage(s *session, msg inbound) {
	switch msg.Type {
	case "ping":
		h.enqueue(s, outbound{Type: "pong"})
	case "getHistory":
		logs, err := h.store.ListLogs(msg.EndpointID, historyLimit)
		if err != nil {
			log.Printf("[inspector] warning: history query: %v", err)
			return
		}
		views := make([]model.RequestLogView, 0, len(logs))
		for _, l := range logs {
			views = append(views, l.View())
		}
		h.enqueue(s, outbound{Type: "history", Data: views})
	case "subscribe":
		id := msg.EndpointID
		s.filter.Store(&id)
	default:
		// Unknown types are ignored.
	}
}

// enqueue queues a reply on the session's send channel so replies and
// broadcasts share one ordered stream.
func (h *Hub) enqueue(s *session, msg outbound) {
	frame, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[inspector] warning: marshal reply: %v", err)
		return
	}
	if !s.trySend(frame) {
		log.Printf("[inspector] warning: slow inspector session dropped")
		h.sessions.Delete(s)
		s.close()
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("[inspector] warning: socket write failed: %v", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
