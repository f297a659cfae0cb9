package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	telemetry "cyclerhub/internal/telemetry/domain"
)

// Client actions on the wire.
const (
	actionJoinGroup     = "joinDeviceGroup"
	actionLeaveGroup    = "leaveDeviceGroup"
	actionRequestLatest = "requestLatestData"
)

// ErrHubClosed is returned by sends after Close.
var ErrHubClosed = errors.New("realtime: hub closed")

// LatestProvider serves requestLatestData replies.
type LatestProvider interface {
	Latest(deviceID string) (telemetry.DeviceSnapshot, bool)
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type inbound struct {
	Action   string `json:"action"`
	DeviceID string `json:"deviceId"`
}

// conn is the subset of *websocket.Conn the hub needs; tests substitute it.
type conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type session struct {
	id   string
	conn conn
	send chan outbound
	done chan struct{}
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Hub is the subscriber registry: one instance for the process lifetime,
// constructed in main and passed by reference. It owns group membership and
// offers the two send primitives the fan-out needs. Slow subscribers are
// dropped from, never waited on; each session has a bounded outbound queue.
type Hub struct {
	latest       LatestProvider
	logger       *log.Logger
	writeTimeout time.Duration
	queueSize    int

	mu       sync.RWMutex
	sessions map[string]*session
	groups   map[string]map[string]*session
	shut     bool
}

// NewHub constructs the hub. latest may be nil; requestLatestData is then
// ignored.
func NewHub(latest LatestProvider, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		latest:       latest,
		logger:       logger,
		writeTimeout: 10 * time.Second,
		queueSize:    64,
		sessions:     make(map[string]*session),
		groups:       make(map[string]map[string]*session),
	}
}

// SendToGroup enqueues an event for every subscriber of the device group.
// Delivery is best-effort: full subscriber queues drop the event.
func (h *Hub) SendToGroup(ctx context.Context, deviceID, event string, payload any) error {
	h.mu.RLock()
	if h.shut {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	members := make([]*session, 0, len(h.groups[deviceID]))
	for _, s := range h.groups[deviceID] {
		members = append(members, s)
	}
	h.mu.RUnlock()

	h.enqueue(ctx, members, outbound{Event: event, Data: payload})
	return nil
}

// SendToAll enqueues an event for every connected subscriber.
func (h *Hub) SendToAll(ctx context.Context, event string, payload any) error {
	h.mu.RLock()
	if h.shut {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	members := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		members = append(members, s)
	}
	h.mu.RUnlock()

	h.enqueue(ctx, members, outbound{Event: event, Data: payload})
	return nil
}

func (h *Hub) enqueue(ctx context.Context, members []*session, msg outbound) {
	for _, s := range members {
		select {
		case <-ctx.Done():
			return
		case s.send <- msg:
		default:
			h.logger.Printf("realtime: dropped %s for slow subscriber %s", msg.Event, s.id)
		}
	}
}

// JoinGroup subscribes a session to a device group.
func (h *Hub) JoinGroup(sessionID, deviceID string) {
	if deviceID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	group, ok := h.groups[deviceID]
	if !ok {
		group = make(map[string]*session)
		h.groups[deviceID] = group
	}
	group[sessionID] = s
}

// LeaveGroup removes a session from a device group.
func (h *Hub) LeaveGroup(sessionID, deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[deviceID]
	if !ok {
		return
	}
	delete(group, sessionID)
	if len(group) == 0 {
		delete(h.groups, deviceID)
	}
}

// SessionCount returns the number of connected subscribers.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// GroupSize returns the subscriber count of a device group.
func (h *Hub) GroupSize(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[deviceID])
}

// register creates and tracks a session for a connection.
func (h *Hub) register(c conn) (*session, error) {
	s := &session{
		id:   uuid.NewString(),
		conn: c,
		send: make(chan outbound, h.queueSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	if h.shut {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.sessions[s.id] = s
	h.mu.Unlock()
	return s, nil
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	for deviceID, group := range h.groups {
		delete(group, s.id)
		if len(group) == 0 {
			delete(h.groups, deviceID)
		}
	}
	h.mu.Unlock()
	s.close()
}

// serve runs the session: a writer goroutine drains the outbound queue
// while the calling goroutine reads client actions until disconnect.
func (h *Hub) serve(c conn) {
	s, err := h.register(c)
	if err != nil {
		_ = c.Close()
		return
	}
	defer h.unregister(s)

	go h.writeLoop(s)

	select {
	case s.send <- outbound{Event: "connected", Data: s.id}:
	default:
	}

	for {
		var msg inbound
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Action {
		case actionJoinGroup:
			h.JoinGroup(s.id, msg.DeviceID)
		case actionLeaveGroup:
			h.LeaveGroup(s.id, msg.DeviceID)
		case actionRequestLatest:
			h.replyLatest(s, msg.DeviceID)
		default:
			h.logger.Printf("realtime: unknown action %q from %s", msg.Action, s.id)
		}
	}
}

// replyLatest answers requestLatestData on the calling session only.
func (h *Hub) replyLatest(s *session, deviceID string) {
	if h.latest == nil || deviceID == "" {
		return
	}
	snap, ok := h.latest.Latest(deviceID)
	if !ok {
		return
	}
	select {
	case s.send <- outbound{Event: "deviceDataUpdate", Data: snap}:
	default:
	}
}

func (h *Hub) writeLoop(s *session) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				h.logger.Printf("realtime: write to %s failed: %v", s.id, err)
				s.close()
				return
			}
		}
	}
}

// Close disconnects every subscriber and rejects further sends.
func (h *Hub) Close() {
	h.mu.Lock()
	h.shut = true
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*session)
	h.groups = make(map[string]map[string]*session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
