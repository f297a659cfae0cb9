package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"cyclerhub/internal/observability/metrics"
	telemetry "cyclerhub/internal/telemetry/domain"
)

// Event names on the subscriber wire.
const (
	EventDeviceData    = "deviceDataUpdate"
	EventStatusChanged = "deviceStatusChanged"
	EventStatusSummary = "deviceStatusSummary"
)

// Registry is the subscriber registry the fan-out emits to. Group
// membership is owned by the registry, not by the broadcaster.
type Registry interface {
	SendToGroup(ctx context.Context, deviceID, event string, payload any) error
	SendToAll(ctx context.Context, event string, payload any) error
}

// StatusChange is the payload of a deviceStatusChanged event.
type StatusChange struct {
	DeviceID      string    `json:"deviceId"`
	Online        bool      `json:"online"`
	Timestamp     time.Time `json:"timestamp"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Broadcaster fans events out to the registry on its own dispatch path.
// Every notify call returns immediately; delivery runs in a bounded set of
// goroutines with a per-delivery timeout. Failures are logged and dropped,
// never surfaced to the ingestion or sweep path.
type Broadcaster struct {
	registry Registry
	logger   *log.Logger
	timeout  time.Duration

	slots chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithDeliveryTimeout bounds each dispatched delivery.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(b *Broadcaster) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

// WithMaxInFlight bounds concurrently dispatched deliveries.
func WithMaxInFlight(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.slots = make(chan struct{}, n)
		}
	}
}

// NewBroadcaster constructs a broadcaster around the subscriber registry.
func NewBroadcaster(registry Registry, logger *log.Logger, opts ...Option) (*Broadcaster, error) {
	if registry == nil {
		return nil, errors.New("broadcaster: nil registry")
	}
	if logger == nil {
		logger = log.Default()
	}
	b := &Broadcaster{
		registry: registry,
		logger:   logger,
		timeout:  5 * time.Second,
		slots:    make(chan struct{}, 64),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NotifyDeviceData delivers a snapshot to the device's subscriber group.
func (b *Broadcaster) NotifyDeviceData(deviceID string, snap telemetry.DeviceSnapshot) {
	b.dispatch(EventDeviceData, func(ctx context.Context) error {
		return b.registry.SendToGroup(ctx, deviceID, EventDeviceData, snap)
	})
}

// NotifyStatusChanged delivers an online/offline transition to everyone.
func (b *Broadcaster) NotifyStatusChanged(deviceID string, online bool, timestamp, lastHeartbeat time.Time) {
	change := StatusChange{
		DeviceID:      deviceID,
		Online:        online,
		Timestamp:     timestamp,
		LastHeartbeat: lastHeartbeat,
	}
	b.dispatch(EventStatusChanged, func(ctx context.Context) error {
		return b.registry.SendToAll(ctx, EventStatusChanged, change)
	})
}

// NotifyStatusSummary delivers the periodic fleet aggregate to everyone.
func (b *Broadcaster) NotifyStatusSummary(summary []telemetry.DeviceStatus) {
	b.dispatch(EventStatusSummary, func(ctx context.Context) error {
		return b.registry.SendToAll(ctx, EventStatusSummary, summary)
	})
}

// dispatch hands delivery to a goroutine without a result channel back; the
// caller cannot observe the outcome, so failures terminate here with a log
// line. When all slots are busy the event is dropped (delivery is
// best-effort, at most once).
func (b *Broadcaster) dispatch(event string, send func(ctx context.Context) error) {
	select {
	case <-b.closed:
		return
	default:
	}

	select {
	case b.slots <- struct{}{}:
	default:
		b.logger.Printf("broadcast: dropped %s, dispatch slots exhausted", event)
		metrics.IncBroadcastDropped(event)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.slots }()

		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			b.logger.Printf("broadcast: deliver %s failed: %v", event, err)
			metrics.ObserveBroadcast(event, metrics.ResultError)
			return
		}
		metrics.ObserveBroadcast(event, metrics.ResultSuccess)
	}()
}

// Close stops accepting events and waits briefly for in-flight deliveries.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() { close(b.closed) })

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(b.timeout):
	}
}
