// Package events fans game lifecycle events out to websocket subscribers.
package events

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/MJE43/pfrace/internal/game"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// subscriber is one websocket connection following one game.
type subscriber struct {
	gameID string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub tracks subscribers per game. Publish never blocks: a subscriber whose
// buffer is full misses the event.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: log.New(os.Stdout, "[EVENTS] ", log.LstdFlags),
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// SetLogger replaces the hub logger.
func (h *Hub) SetLogger(l *log.Logger) { h.logger = l }

// Publish implements game.Publisher.
func (h *Hub) Publish(ev game.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("marshal_failed type=%s game_id=%s error=%v", ev.Type, ev.GameID, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.published.Inc()
	for sub := range h.subs[ev.GameID] {
		select {
		case sub.send <- data:
		default:
			h.dropped.Inc()
		}
	}
}

// Subscribers returns the number of connections following gameID.
func (h *Hub) Subscribers(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[gameID])
}

// Stats returns published and dropped event counts.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// ServeWS upgrades the request and streams events of gameID until the
// client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, gameID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade_failed game_id=%s error=%v", gameID, err)
		return
	}

	sub := &subscriber{gameID: gameID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(sub)
	h.logger.Printf("subscribed game_id=%s remote=%s", gameID, r.RemoteAddr)

	go h.writePump(sub)
	h.readPump(sub)
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.gameID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sub.gameID] = set
	}
	set[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[sub.gameID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.gameID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		h.remove(sub)
		sub.conn.Close()
	}()
	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()
	for {
		select {
		case data, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]map[*subscriber]struct{})
	h.mu.Unlock()
	for _, set := range subs {
		for sub := range set {
			sub.close()
		}
	}
}
