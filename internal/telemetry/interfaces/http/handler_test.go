package http

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cyclerhub/internal/telemetry/application"
	telemetry "cyclerhub/internal/telemetry/domain"
	"cyclerhub/internal/telemetry/infrastructure/memory"
)

type noopNotifier struct{}

func (noopNotifier) NotifyDeviceData(string, telemetry.DeviceSnapshot)      {}
func (noopNotifier) NotifyStatusChanged(string, bool, time.Time, time.Time) {}
func (noopNotifier) NotifyStatusSummary([]telemetry.DeviceStatus)           {}

func newTestHandler(t *testing.T) (*Handler, *application.Service) {
	t.Helper()
	store := memory.NewStore(10, 0)
	validator := telemetry.NewValidator(telemetry.Limits{MaxChannels: 4})
	logger := log.New(&strings.Builder{}, "", 0)
	svc, err := application.NewService(store, validator, noopNotifier{}, application.SystemClock{}, logger)
	if err != nil {
		t.Fatalf("service error: %v", err)
	}
	h, err := NewHandler(svc)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return h, svc
}

func ingest(t *testing.T, h *Handler, snap telemetry.DeviceSnapshot) {
	t.Helper()
	body, _ := json.Marshal(snap)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices/data", bytes.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ingest failed with %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestAccepted(t *testing.T) {
	h, _ := newTestHandler(t)

	body := []byte(`{"deviceId":"cycler-01","timestamp":"2025-03-01T12:00:00Z","channels":[{"channel":0,"status":"charging","voltage":3.8}]}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices/data", bytes.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp["accepted"] != true {
		t.Fatalf("expected accepted=true, got %v", resp)
	}
}

func TestIngestRejected(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices/data", strings.NewReader(`{"timestamp":"2025-03-01T12:00:00Z"}`)))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["accepted"] != false || resp["reason"] == "" {
		t.Fatalf("expected rejection with reason, got %v", resp)
	}
}

func TestIngestBadJSON(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices/data", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIngestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/data", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestListDevices(t *testing.T) {
	h, svc := newTestHandler(t)
	ingest(t, h, telemetry.DeviceSnapshot{DeviceID: "b", Timestamp: time.Now()})
	ingest(t, h, telemetry.DeviceSnapshot{DeviceID: "a", Timestamp: time.Now()})
	svc.MarkOffline("b", "test")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	var online []string
	json.Unmarshal(rec.Body.Bytes(), &online)
	if len(online) != 1 || online[0] != "a" {
		t.Fatalf("expected online [a], got %v", online)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/all", nil))
	var all []string
	json.Unmarshal(rec.Body.Bytes(), &all)
	if len(all) != 2 {
		t.Fatalf("expected two known devices, got %v", all)
	}
}

func TestLatestAndNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	ingest(t, h, telemetry.DeviceSnapshot{DeviceID: "cycler-01", Timestamp: time.Now()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/cycler-01", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap telemetry.DeviceSnapshot
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.DeviceID != "cycler-01" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	for i := 0; i < 5; i++ {
		ingest(t, h, telemetry.DeviceSnapshot{DeviceID: "cycler-01", Timestamp: time.Now()})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/cycler-01/history?count=3", nil))
	var history []telemetry.DeviceSnapshot
	json.Unmarshal(rec.Body.Bytes(), &history)
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/cycler-01/history?count=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad count, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/ghost/history", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array for untracked device, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestChannelsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	ingest(t, h, telemetry.DeviceSnapshot{
		DeviceID:  "cycler-01",
		Timestamp: time.Now(),
		Channels:  []telemetry.ChannelReading{{Channel: 0, Status: telemetry.ChannelCharging}},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/cycler-01/channels", nil))
	var channels []telemetry.ChannelReading
	json.Unmarshal(rec.Body.Bytes(), &channels)
	if len(channels) != 1 || channels[0].Status != telemetry.ChannelCharging {
		t.Fatalf("unexpected channels: %v", channels)
	}
}

func TestOnlineEndpoint(t *testing.T) {
	h, svc := newTestHandler(t)
	ingest(t, h, telemetry.DeviceSnapshot{DeviceID: "cycler-01", Timestamp: time.Now()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/cycler-01/online", nil))
	var record telemetry.LivenessRecord
	json.Unmarshal(rec.Body.Bytes(), &record)
	if !record.Online || record.DeviceID != "cycler-01" {
		t.Fatalf("unexpected record: %+v", record)
	}

	svc.MarkOffline("cycler-01", "test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/cycler-01/online", nil))
	json.Unmarshal(rec.Body.Bytes(), &record)
	if record.Online {
		t.Fatal("expected offline record")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/ghost/online", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for untracked device, got %d", rec.Code)
	}
}

func TestMarkOfflineEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	ingest(t, h, telemetry.DeviceSnapshot{DeviceID: "cycler-01", Timestamp: time.Now()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices/cycler-01/offline", strings.NewReader(`{"reason":"maintenance"}`)))
	var resp map[string]bool
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp["transitioned"] {
		t.Fatalf("expected transition, got %v", resp)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices/cycler-01/offline", nil))
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["transitioned"] {
		t.Fatal("second mark offline should not transition")
	}
}

func TestStatusEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	ingest(t, h, telemetry.DeviceSnapshot{
		DeviceID:  "cycler-01",
		Timestamp: time.Now(),
		Channels:  []telemetry.ChannelReading{{Channel: 0, Status: telemetry.ChannelCharging, Power: 5}},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/status", nil))
	var summary []telemetry.DeviceStatus
	json.Unmarshal(rec.Body.Bytes(), &summary)
	if len(summary) != 1 || summary[0].TotalPower != 5 {
		t.Fatalf("unexpected summary: %v", summary)
	}
}

func TestStatusExports(t *testing.T) {
	h, _ := newTestHandler(t)
	ingest(t, h, telemetry.DeviceSnapshot{DeviceID: "cycler-01", Timestamp: time.Now()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/status/export.xlsx", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("xlsx export failed: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheet") {
		t.Fatalf("unexpected xlsx content type %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty xlsx body")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/status/export.pdf", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pdf export failed: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected pdf content type %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatal("pdf body missing magic header")
	}
}

func TestSweepEndpointWithoutMonitor(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices/sweep", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]int
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["markedOffline"] != 0 || resp["evicted"] != 0 {
		t.Fatalf("expected zero result, got %v", resp)
	}
}

func TestUnknownRoute(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/cycler-01/history/extra", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
