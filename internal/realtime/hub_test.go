package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	telemetry "cyclerhub/internal/telemetry/domain"
)

// fakeConn feeds scripted inbound messages and records everything written.
type fakeConn struct {
	mu      sync.Mutex
	inbound chan inbound
	written []outbound
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan inbound, 16)}
}

func (c *fakeConn) ReadJSON(v any) error {
	msg, ok := <-c.inbound
	if !ok {
		return io.EOF
	}
	*(v.(*inbound)) = msg
	return nil
}

func (c *fakeConn) WriteJSON(v any) error {
	// run through json to mirror the real wire
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg outbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) messages() []outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]outbound(nil), c.written...)
}

func (c *fakeConn) events() []string {
	var events []string
	for _, msg := range c.messages() {
		events = append(events, msg.Event)
	}
	return events
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

type stubLatest struct {
	snaps map[string]telemetry.DeviceSnapshot
}

func (s stubLatest) Latest(deviceID string) (telemetry.DeviceSnapshot, bool) {
	snap, ok := s.snaps[deviceID]
	return snap, ok
}

func testLogger() *log.Logger { return log.New(&strings.Builder{}, "", 0) }

func startSession(t *testing.T, h *Hub) *fakeConn {
	t.Helper()
	c := newFakeConn()
	go h.serve(c)
	waitFor(t, func() bool { return len(c.messages()) >= 1 })
	if got := c.messages()[0].Event; got != "connected" {
		t.Fatalf("expected connected greeting, got %q", got)
	}
	return c
}

func sessionID(t *testing.T, c *fakeConn) string {
	t.Helper()
	id, ok := c.messages()[0].Data.(string)
	if !ok {
		t.Fatalf("expected session id in greeting, got %v", c.messages()[0].Data)
	}
	return id
}

func TestJoinGroupReceivesGroupSends(t *testing.T) {
	h := NewHub(nil, testLogger())
	defer h.Close()

	member := startSession(t, h)
	outsider := startSession(t, h)

	member.inbound <- inbound{Action: actionJoinGroup, DeviceID: "cycler-01"}
	waitFor(t, func() bool { return h.GroupSize("cycler-01") == 1 })

	if err := h.SendToGroup(context.Background(), "cycler-01", "deviceDataUpdate", map[string]any{"deviceId": "cycler-01"}); err != nil {
		t.Fatalf("send error: %v", err)
	}

	waitFor(t, func() bool { return len(member.messages()) == 2 })
	if got := member.messages()[1].Event; got != "deviceDataUpdate" {
		t.Fatalf("expected deviceDataUpdate, got %q", got)
	}
	time.Sleep(20 * time.Millisecond)
	if len(outsider.messages()) != 1 {
		t.Fatalf("outsider should only have the greeting, got %v", outsider.events())
	}
}

func TestLeaveGroupStopsDelivery(t *testing.T) {
	h := NewHub(nil, testLogger())
	defer h.Close()

	c := startSession(t, h)
	c.inbound <- inbound{Action: actionJoinGroup, DeviceID: "cycler-01"}
	waitFor(t, func() bool { return h.GroupSize("cycler-01") == 1 })

	c.inbound <- inbound{Action: actionLeaveGroup, DeviceID: "cycler-01"}
	waitFor(t, func() bool { return h.GroupSize("cycler-01") == 0 })

	h.SendToGroup(context.Background(), "cycler-01", "deviceDataUpdate", nil)
	time.Sleep(20 * time.Millisecond)
	if len(c.messages()) != 1 {
		t.Fatalf("expected no delivery after leave, got %v", c.events())
	}
}

func TestSendToAllReachesEverySession(t *testing.T) {
	h := NewHub(nil, testLogger())
	defer h.Close()

	first := startSession(t, h)
	second := startSession(t, h)

	if err := h.SendToAll(context.Background(), "deviceStatusChanged", nil); err != nil {
		t.Fatalf("send error: %v", err)
	}

	waitFor(t, func() bool { return len(first.messages()) == 2 && len(second.messages()) == 2 })
}

func TestRequestLatestRepliesToCallerOnly(t *testing.T) {
	latest := stubLatest{snaps: map[string]telemetry.DeviceSnapshot{
		"cycler-01": {DeviceID: "cycler-01"},
	}}
	h := NewHub(latest, testLogger())
	defer h.Close()

	caller := startSession(t, h)
	other := startSession(t, h)

	caller.inbound <- inbound{Action: actionRequestLatest, DeviceID: "cycler-01"}
	waitFor(t, func() bool { return len(caller.messages()) == 2 })
	if got := caller.messages()[1].Event; got != "deviceDataUpdate" {
		t.Fatalf("expected deviceDataUpdate reply, got %q", got)
	}
	time.Sleep(20 * time.Millisecond)
	if len(other.messages()) != 1 {
		t.Fatal("reply must not reach other sessions")
	}

	// unknown device gets no reply
	caller.inbound <- inbound{Action: actionRequestLatest, DeviceID: "ghost"}
	time.Sleep(20 * time.Millisecond)
	if len(caller.messages()) != 2 {
		t.Fatal("unknown device must not produce a reply")
	}
}

func TestDisconnectCleansUpMembership(t *testing.T) {
	h := NewHub(nil, testLogger())
	defer h.Close()

	c := startSession(t, h)
	c.inbound <- inbound{Action: actionJoinGroup, DeviceID: "cycler-01"}
	waitFor(t, func() bool { return h.GroupSize("cycler-01") == 1 })

	c.Close()
	waitFor(t, func() bool { return h.SessionCount() == 0 && h.GroupSize("cycler-01") == 0 })
}

func TestJoinGroupIgnoresEmptyDevice(t *testing.T) {
	h := NewHub(nil, testLogger())
	defer h.Close()

	c := startSession(t, h)
	id := sessionID(t, c)
	h.JoinGroup(id, "")
	if h.GroupSize("") != 0 {
		t.Fatal("empty device id must not create a group")
	}
}

func TestHubCloseRejectsSends(t *testing.T) {
	h := NewHub(nil, testLogger())
	c := startSession(t, h)

	h.Close()
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.closed
	})

	if err := h.SendToAll(context.Background(), "deviceStatusChanged", nil); err != ErrHubClosed {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
	if err := h.SendToGroup(context.Background(), "cycler-01", "deviceDataUpdate", nil); err != ErrHubClosed {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil, testLogger())
	h.queueSize = 1
	defer h.Close()

	// register a session without a writer draining its queue
	c := newFakeConn()
	s, err := h.register(c)
	if err != nil {
		t.Fatalf("register error: %v", err)
	}
	h.JoinGroup(s.id, "cycler-01")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			h.SendToGroup(context.Background(), "cycler-01", "deviceDataUpdate", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send blocked on a slow subscriber")
	}
}
