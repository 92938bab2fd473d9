package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, server *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?delivery_id=" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitViewers(t *testing.T, h *TrackingHub, id string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Viewers(id) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d viewers of %s, got %d", n, id, h.Viewers(id))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(msg)
}

func TestTrackingHubPushesToEveryViewer(t *testing.T) {
	hub := NewTrackingHub(nil)
	hub.SetSnapshot(func(id string, attach func(interface{})) bool {
		if id != "d1" {
			return false
		}
		attach(map[string]string{"status": "requested"})
		return true
	})
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	a := dial(t, server, "d1")
	b := dial(t, server, "d1")
	if got := readText(t, a); got != `{"status":"requested"}` {
		t.Fatalf("unexpected greeting %s", got)
	}
	if got := readText(t, b); got != `{"status":"requested"}` {
		t.Fatalf("unexpected greeting %s", got)
	}
	waitViewers(t, hub, "d1", 2)

	hub.Push("d1", map[string]string{"status": "driver_assigned"})
	for _, conn := range []*websocket.Conn{a, b} {
		if got := readText(t, conn); got != `{"status":"driver_assigned"}` {
			t.Fatalf("unexpected push %s", got)
		}
	}

	hub.Close("d1")
	waitViewers(t, hub, "d1", 0)
}

type hookLogger struct {
	connected func()
}

func (l hookLogger) Infof(format string, _ ...interface{}) {
	if l.connected != nil && strings.Contains(format, "connected") {
		l.connected()
	}
}

func (hookLogger) Errorf(string, ...interface{}) {}

func TestTrackingHubGreetsBeforeUpdates(t *testing.T) {
	var hub *TrackingHub
	hub = NewTrackingHub(hookLogger{connected: func() {
		hub.Push("d1", map[string]string{"status": "driver_assigned"})
	}})
	hub.SetSnapshot(func(id string, attach func(interface{})) bool {
		attach(map[string]string{"status": "requested"})
		return true
	})
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	conn := dial(t, server, "d1")
	if got := readText(t, conn); got != `{"status":"requested"}` {
		t.Fatalf("expected greeting first, got %s", got)
	}
	if got := readText(t, conn); got != `{"status":"driver_assigned"}` {
		t.Fatalf("expected update after greeting, got %s", got)
	}
}

// counter stands in for a tracked delivery: updates and snapshots share mu.
type counter struct {
	mu  sync.Mutex
	seq int
	hub *TrackingHub
}

func (c *counter) bump() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.hub.Push("d1", map[string]int{"seq": c.seq})
}

func (c *counter) snapshot(_ string, attach func(interface{})) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	attach(map[string]int{"seq": c.seq})
	return true
}

func TestTrackingHubNoUpdateLostOrReorderedWhileConnecting(t *testing.T) {
	const updates = 20
	hub := NewTrackingHub(nil)
	c := &counter{hub: hub}
	hub.SetSnapshot(c.snapshot)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < updates; i++ {
			c.bump()
			time.Sleep(time.Millisecond)
		}
	}()

	conn := dial(t, server, "d1")
	prev := -1
	for prev < updates {
		var frame struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal([]byte(readText(t, conn)), &frame); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if prev >= 0 && frame.Seq != prev+1 {
			t.Fatalf("update %d followed %d", frame.Seq, prev)
		}
		prev = frame.Seq
	}
	<-done
}

func TestTrackingHubDropsSlowViewer(t *testing.T) {
	hub := NewTrackingHub(nil)
	v := &viewer{send: make(chan []byte, 1)}
	hub.attach("d1", v, nil)

	hub.Push("d1", map[string]int{"seq": 1})
	hub.Push("d1", map[string]int{"seq": 2})
	if n := hub.Viewers("d1"); n != 0 {
		t.Fatalf("expected slow viewer to be dropped, %d left", n)
	}
	if _, ok := <-v.send; !ok {
		t.Fatal("queued update lost")
	}
	if _, ok := <-v.send; ok {
		t.Fatal("queue of dropped viewer left open")
	}
}

func TestOfferHubKeyedByDriver(t *testing.T) {
	hub := NewOfferHub(nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?driver_id=drv-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitViewers(t, hub, "drv-1", 1)

	hub.Push("drv-2", map[string]string{"type": "offer", "id": "o-2"})
	hub.Push("drv-1", map[string]string{"type": "offer", "id": "o-1"})
	if got := readText(t, conn); got != `{"id":"o-1","type":"offer"}` {
		t.Fatalf("unexpected frame %s", got)
	}
}

func TestTrackingHubRejectsUnknownDelivery(t *testing.T) {
	hub := NewTrackingHub(nil)
	hub.SetSnapshot(func(string, func(interface{})) bool { return false })
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?delivery_id=missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}

	rec := httptest.NewRecorder()
	hub.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without id, got %d", rec.Code)
	}
}

func TestParseIDParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("X-Delivery-Id", " abc ")
	if got := parseIDParam(r, "delivery_id"); got != "abc" {
		t.Fatalf("unexpected id %q", got)
	}
	r = httptest.NewRequest(http.MethodGet, "/ws?delivery_id=q1", nil)
	r.Header.Set("X-Delivery-Id", "h1")
	if got := parseIDParam(r, "delivery_id"); got != "q1" {
		t.Fatalf("query must win, got %q", got)
	}
}
