package hub

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

func newTestHub(opts ...Option) *Hub {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	h := New("test", opts...)
	go h.Run()
	return h
}

// attach registers a client without a connection; the test reads its queue.
func attach(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := newClient(h, nil)
	select {
	case h.register <- c:
	case <-time.After(time.Second):
		t.Fatal("register timed out")
	}
	return c
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case m, ok := <-c.send:
		return m, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}, false
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBroadcastFanOut(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	a, b := attach(t, h), attach(t, h)
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	if err := h.BroadcastJSON(map[string]int{"pose_count": 3}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}
	h.BroadcastBinary([]byte{0xff, 0xd8})

	for _, c := range []*Client{a, b} {
		m, _ := receive(t, c)
		if m.Kind != KindJSON || string(m.Data) != `{"pose_count":3}` {
			t.Errorf("client %s: first message %+v", c.ID, m)
		}
		m, _ = receive(t, c)
		if m.Kind != KindFrame || len(m.Data) != 2 {
			t.Errorf("client %s: second message %+v", c.ID, m)
		}
	}
	if a.ID == b.ID || a.ID == "" {
		t.Errorf("client ids must be unique: %q %q", a.ID, b.ID)
	}
}

func TestSlowClientDropped(t *testing.T) {
	h := newTestHub(WithQueueSize(1))
	defer h.Stop()

	slow := attach(t, h)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.BroadcastBinary([]byte{1})
	h.BroadcastBinary([]byte{2})

	waitFor(t, func() bool { return h.ClientCount() == 0 })
	if h.Dropped() != 1 {
		t.Errorf("Dropped: got %d, want 1", h.Dropped())
	}

	// the queued frame is still delivered, then the queue is closed
	if m, ok := receive(t, slow); !ok || m.Data[0] != 1 {
		t.Errorf("expected queued frame, got %+v ok=%v", m, ok)
	}
	if _, ok := receive(t, slow); ok {
		t.Error("queue should be closed after drop")
	}
}

func TestUnregister(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	c := attach(t, h)
	h.unregister <- c
	waitFor(t, func() bool { return h.ClientCount() == 0 })
	if _, ok := receive(t, c); ok {
		t.Error("queue should be closed after unregister")
	}
}

func TestStopClosesClients(t *testing.T) {
	h := newTestHub()
	c := attach(t, h)
	waitFor(t, h.IsRunning)

	h.Stop()
	h.Stop() // idempotent

	if _, ok := receive(t, c); ok {
		t.Error("client queue should be closed on Stop")
	}
	waitFor(t, func() bool { return !h.IsRunning() })
}

func TestBroadcastNeverBlocks(t *testing.T) {
	h := New("idle", WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.BroadcastBinary([]byte{byte(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked without a running hub")
	}
}

func TestMessageOpcode(t *testing.T) {
	tests := []struct {
		msg  Message
		want int
	}{
		{JSON([]byte(`{}`)), websocket.TextMessage},
		{Frame([]byte{0xff}), websocket.BinaryMessage},
		{Message{}, websocket.TextMessage},
	}
	for _, tt := range tests {
		if got := tt.msg.opcode(); got != tt.want {
			t.Errorf("opcode(%+v) = %d, want %d", tt.msg, got, tt.want)
		}
	}
}
