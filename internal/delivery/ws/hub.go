package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 20 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendQueue  = 32
)

// Logger defines minimal logging interface required by the hub.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// SnapshotFunc looks up a delivery and hands its current state to attach.
// It must call attach while holding whatever guards the delivery's updates,
// so no Push for the delivery runs between the state being read and the
// viewer joining. ok is false for unknown deliveries.
type SnapshotFunc func(deliveryID string, attach func(greeting interface{})) (ok bool)

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// TrackingHub fans delivery updates out to every viewer of a delivery. Each
// viewer has a buffered queue drained by its own writer, so Push never waits
// on the network. A viewer whose queue is full is disconnected.
type TrackingHub struct {
	param  string
	logger Logger

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	viewers  map[string]map[*viewer]struct{}
	snapshot SnapshotFunc
}

// NewTrackingHub constructs the hub. Viewers pass the delivery id in the
// delivery_id query parameter or the X-Delivery-Id header.
func NewTrackingHub(logger Logger) *TrackingHub {
	return newHub(logger, "delivery_id")
}

// NewOfferHub constructs a hub keyed by driver, which drivers join with
// driver_id to receive their offers.
func NewOfferHub(logger Logger) *TrackingHub {
	return newHub(logger, "driver_id")
}

func newHub(logger Logger, param string) *TrackingHub {
	return &TrackingHub{
		param:  param,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		viewers: make(map[string]map[*viewer]struct{}),
	}
}

// SetSnapshot installs the lookup used to greet new viewers.
func (h *TrackingHub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// ServeWS handles tracking websocket requests. The viewer joins before the
// upgrade, with the greeting first in its queue.
func (h *TrackingHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	id := parseIDParam(r, h.param)
	if id == "" {
		http.Error(w, "missing "+h.param, http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	snapshot := h.snapshot
	h.mu.RUnlock()

	v := &viewer{send: make(chan []byte, sendQueue)}
	if snapshot == nil {
		h.attach(id, v, nil)
	} else if !snapshot(id, func(greeting interface{}) { h.attach(id, v, greeting) }) {
		http.Error(w, "delivery not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("tracking ws upgrade failed: %v", err)
		}
		h.detach(id, v)
		return
	}
	v.conn = conn

	if h.logger != nil {
		h.logger.Infof("ws viewer connected (%s=%s)", h.param, id)
	}

	go h.writeLoop(id, v)
	go h.readLoop(id, v)
}

// attach registers v and queues the greeting ahead of any later Push.
func (h *TrackingHub) attach(id string, v *viewer, greeting interface{}) {
	var data []byte
	if greeting != nil {
		b, err := json.Marshal(greeting)
		if err != nil {
			if h.logger != nil {
				h.logger.Errorf("tracking greeting marshal failed: %v", err)
			}
		} else {
			data = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.viewers[id]
	if !ok {
		set = make(map[*viewer]struct{})
		h.viewers[id] = set
	}
	set[v] = struct{}{}
	if data != nil {
		v.send <- data
	}
}

func (h *TrackingHub) writeLoop(id string, v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = v.conn.Close()
	}()

	for {
		select {
		case data, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "delivery closed"))
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if h.logger != nil {
					h.logger.Errorf("ws viewer of %s write failed: %v", id, err)
				}
				h.detach(id, v)
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.detach(id, v)
				return
			}
		}
	}
}

func (h *TrackingHub) readLoop(id string, v *viewer) {
	conn := v.conn
	defer h.detach(id, v)

	conn.SetReadLimit(16 << 10)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	conn.SetCloseHandler(func(code int, text string) error {
		if h.logger != nil {
			h.logger.Infof("ws viewer of %s closed (%d: %s)", id, code, text)
		}
		h.detach(id, v)
		return nil
	})

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt == websocket.TextMessage && strings.EqualFold(strings.TrimSpace(string(message)), "ping") {
			h.reply(id, v, []byte("pong"))
		}
	}
}

func (h *TrackingHub) reply(id string, v *viewer, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.viewers[id][v]; !ok {
		return
	}
	select {
	case v.send <- data:
	default:
	}
}

// detach removes v and closes its queue, which makes the writer send a close
// frame and hang up. It is a no-op for a viewer already gone.
func (h *TrackingHub) detach(id string, v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.viewers[id]
	if !ok {
		return
	}
	if _, ok := set[v]; !ok {
		return
	}
	delete(set, v)
	close(v.send)
	if len(set) == 0 {
		delete(h.viewers, id)
	}
}

// Push queues payload for every viewer of the id. It does not block.
func (h *TrackingHub) Push(deliveryID string, payload interface{}) {
	if h.Viewers(deliveryID) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("tracking marshal failed: %v", err)
		}
		return
	}

	var slow []*viewer
	h.mu.RLock()
	for v := range h.viewers[deliveryID] {
		select {
		case v.send <- data:
		default:
			slow = append(slow, v)
		}
	}
	h.mu.RUnlock()

	for _, v := range slow {
		if h.logger != nil {
			h.logger.Errorf("ws viewer of %s is too slow, disconnecting", deliveryID)
		}
		h.detach(deliveryID, v)
	}
}

// Close disconnects every viewer of the delivery.
func (h *TrackingHub) Close(deliveryID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers[deliveryID] {
		close(v.send)
	}
	delete(h.viewers, deliveryID)
}

// Viewers returns the number of viewers attached to the delivery.
func (h *TrackingHub) Viewers(deliveryID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers[deliveryID])
}

func parseIDParam(r *http.Request, name string) string {
	if v := strings.TrimSpace(r.URL.Query().Get(name)); v != "" {
		return v
	}
	header := "X-" + strings.ReplaceAll(name, "_", "-")
	return strings.TrimSpace(r.Header.Get(http.CanonicalHeaderKey(header)))
}
