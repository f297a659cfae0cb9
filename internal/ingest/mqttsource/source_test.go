package mqttsource

import (
	"log"
	"strings"
	"testing"
	"time"

	"cyclerhub/internal/config"
	"cyclerhub/internal/telemetry/application"
	telemetry "cyclerhub/internal/telemetry/domain"
	"cyclerhub/internal/telemetry/infrastructure/memory"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type noopNotifier struct{}

func (noopNotifier) NotifyDeviceData(string, telemetry.DeviceSnapshot)      {}
func (noopNotifier) NotifyStatusChanged(string, bool, time.Time, time.Time) {}
func (noopNotifier) NotifyStatusSummary([]telemetry.DeviceStatus)           {}

func newTestSource(t *testing.T) (*Source, *memory.Store) {
	t.Helper()
	store := memory.NewStore(10, 0)
	logger := log.New(&strings.Builder{}, "", 0)
	svc, err := application.NewService(store, telemetry.NewValidator(telemetry.Limits{}), noopNotifier{}, application.SystemClock{}, logger)
	if err != nil {
		t.Fatalf("service error: %v", err)
	}
	return New(config.MQTT{BrokerURL: "tcp://localhost:1883", ClientID: "test", Topic: "t"}, svc, logger), store
}

func TestHandleMessageIngestsSnapshot(t *testing.T) {
	source, store := newTestSource(t)

	source.handleMessage(nil, fakeMessage{
		topic:   "t",
		payload: []byte(`{"deviceId":"cycler-01","timestamp":"2025-03-01T12:00:00Z"}`),
	})

	if !store.IsOnline("cycler-01") {
		t.Fatal("snapshot should have been ingested")
	}
}

func TestHandleMessageIgnoresBadPayload(t *testing.T) {
	source, store := newTestSource(t)

	source.handleMessage(nil, fakeMessage{topic: "t", payload: []byte("not json")})
	source.handleMessage(nil, fakeMessage{topic: "t", payload: []byte(`{"timestamp":"2025-03-01T12:00:00Z"}`)})

	if store.DeviceCount() != 0 {
		t.Fatal("bad payloads must not register devices")
	}
}
