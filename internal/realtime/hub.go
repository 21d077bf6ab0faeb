// Package realtime streams attestation writes to WebSocket subscribers.
//
// Subscribers receive one event per successful upsert. Delivery is best
// effort: a full broadcast buffer drops the event, and a slow subscriber is
// disconnected rather than allowed to stall the hub.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/socialblocklabs/arp-agent/internal/attestation"
	"github.com/socialblocklabs/arp-agent/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024

	broadcastBuffer = 256
	sendBuffer      = 256

	// MaxSubscribers caps concurrent stream connections.
	MaxSubscribers = 10000
)

var expectedCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts non-browser clients (no Origin header) and browsers on
// the serving host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// EventType names a stream event.
type EventType string

const (
	EventAttestationUpserted EventType = "attestation_upserted"
)

// Event is one message on the stream.
type Event struct {
	Type      EventType                `json:"type"`
	Timestamp time.Time                `json:"timestamp"`
	Address   string                   `json:"address"`
	Data      *attestation.Attestation `json:"data"`
}

// Filter narrows what a subscriber receives. The zero Filter matches everything.
// Subscribers replace their filter by sending it as a JSON text frame.
type Filter struct {
	Addresses []string `json:"addresses"`
	MinScore  *float64 `json:"minScore"`
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e *Event) bool {
	if len(f.Addresses) > 0 && !slices.Contains(f.Addresses, e.Address) {
		return false
	}
	if f.MinScore != nil && e.Data != nil && e.Data.Score < *f.MinScore {
		return false
	}
	return true
}

// filterFromQuery seeds a filter from ?address=a&address=b.
func filterFromQuery(r *http.Request) Filter {
	return Filter{Addresses: r.URL.Query()["address"]}
}

type subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter Filter
}

func (s *subscriber) currentFilter() Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

func (s *subscriber) setFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// Stats is a point-in-time view of hub activity.
type Stats struct {
	Connected     int   `json:"connected"`
	Events        int64 `json:"events"`
	DroppedEvents int64 `json:"droppedEvents"`
	Subscribers   int64 `json:"subscribers"`
}

// Hub fans attestation events out to WebSocket subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}

	broadcast  chan *Event
	register   chan *subscriber
	unregister chan *subscriber
	done       chan struct{} // closed when Run returns

	logger *slog.Logger
	limit  int
	now    func() time.Time

	events  atomic.Int64
	dropped atomic.Int64
	joined  atomic.Int64
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		broadcast:   make(chan *Event, broadcastBuffer),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		done:        make(chan struct{}),
		logger:      logger,
		limit:       MaxSubscribers,
		now:         time.Now,
	}
}

// Run delivers events until ctx is cancelled, then closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("realtime hub stopped")
			return
		case s := <-h.register:
			h.add(s)
		case s := <-h.unregister:
			h.remove(s)
		case e := <-h.broadcast:
			h.fanOut(e)
		}
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()

	h.joined.Add(1)
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("stream subscriber connected", "total", n)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	h.drop(s)
	n := len(h.subscribers)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("stream subscriber disconnected", "total", n)
}

// drop closes s's send channel once. Caller holds h.mu.
func (h *Hub) drop(s *subscriber) {
	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
		close(s.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for s := range h.subscribers {
		h.drop(s)
	}
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
}

func (h *Hub) fanOut(e *Event) {
	h.events.Add(1)

	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("failed to encode stream event", "address", e.Address, "error", err)
		return
	}

	var slow []*subscriber
	h.mu.RLock()
	for s := range h.subscribers {
		if !s.currentFilter().Matches(e) {
			continue
		}
		select {
		case s.send <- payload:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, s := range slow {
		h.drop(s)
	}
	h.mu.Unlock()
	h.logger.Warn("disconnected slow stream subscribers", "count", len(slow))
}

// Broadcast queues e without blocking. A full queue drops the event.
func (h *Hub) Broadcast(e *Event) {
	select {
	case h.broadcast <- e:
	default:
		h.dropped.Add(1)
		metrics.StreamEventsDroppedTotal.Inc()
		h.logger.Warn("stream buffer full, dropping event", "address", e.Address)
	}
}

// EmitAttestation publishes a stored attestation as an upsert event.
func (h *Hub) EmitAttestation(a *attestation.Attestation) {
	h.Broadcast(&Event{
		Type:      EventAttestationUpserted,
		Timestamp: h.now(),
		Address:   a.Address,
		Data:      a,
	})
}

// Stats reports current hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.subscribers)
	h.mu.RUnlock()

	return Stats{
		Connected:     n,
		Events:        h.events.Load(),
		DroppedEvents: h.dropped.Load(),
		Subscribers:   h.joined.Load(),
	}
}

// HandleWebSocket upgrades the request and registers a subscriber.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.Stats().Connected >= h.limit {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &subscriber{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		filter: filterFromQuery(r),
	}

	select {
	case h.register <- s:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go s.writeLoop()
	go s.readLoop()
}

// readLoop applies filter updates and keeps the read deadline fresh.
func (s *subscriber) readLoop() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, expectedCloseCodes...) {
				s.hub.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var f Filter
		if err := json.Unmarshal(msg, &f); err != nil {
			s.hub.logger.Debug("ignoring malformed filter update", "error", err)
			continue
		}
		s.setFilter(f)
	}
}

func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.hub.logger.Warn("websocket write failed", "error", err)
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
