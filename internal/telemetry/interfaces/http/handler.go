package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"cyclerhub/internal/telemetry/application"
	telemetry "cyclerhub/internal/telemetry/domain"
)

const defaultHistoryCount = 100

// Handler provides the device telemetry HTTP endpoints.
type Handler struct {
	service *application.Service
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("telemetry handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP handles /api/v1/devices and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/devices":
		h.requireGet(w, r, func() { writeJSON(w, h.service.OnlineDevices()) })
	case r.URL.Path == "/api/v1/devices/all":
		h.requireGet(w, r, func() { writeJSON(w, h.service.KnownDevices()) })
	case r.URL.Path == "/api/v1/devices/data":
		h.handleIngest(w, r)
	case r.URL.Path == "/api/v1/devices/status":
		h.requireGet(w, r, func() { writeJSON(w, h.service.StatusSummary()) })
	case r.URL.Path == "/api/v1/devices/status/export.xlsx":
		h.requireGet(w, r, func() { h.handleExportXLSX(w) })
	case r.URL.Path == "/api/v1/devices/status/export.pdf":
		h.requireGet(w, r, func() { h.handleExportPDF(w) })
	case r.URL.Path == "/api/v1/devices/sweep":
		h.handleSweep(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/"):
		h.handleDevice(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) requireGet(w http.ResponseWriter, r *http.Request, serve func()) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	serve()
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var snap telemetry.DeviceSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	accepted, reason := h.service.Ingest(r.Context(), snap)
	if !accepted {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": false, "reason": reason})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true})
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result := h.service.RunLivenessSweep()
	writeJSON(w, map[string]int{
		"markedOffline": result.MarkedOffline,
		"evicted":       result.Evicted,
	})
}

func (h *Handler) handleDevice(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	parts := strings.Split(rest, "/")
	deviceID := parts[0]
	if deviceID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		h.requireGet(w, r, func() { h.handleLatest(w, deviceID) })
		return
	}
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "history":
		h.requireGet(w, r, func() { h.handleHistory(w, r, deviceID) })
	case "channels":
		h.requireGet(w, r, func() { h.handleChannels(w, deviceID) })
	case "online":
		h.requireGet(w, r, func() { h.handleOnline(w, deviceID) })
	case "offline":
		h.handleMarkOffline(w, r, deviceID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleLatest(w http.ResponseWriter, deviceID string) {
	snap, ok := h.service.Latest(deviceID)
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, deviceID string) {
	count := defaultHistoryCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "count must be a positive integer", http.StatusBadRequest)
			return
		}
		count = parsed
	}
	history := h.service.History(deviceID, count)
	if history == nil {
		history = []telemetry.DeviceSnapshot{}
	}
	writeJSON(w, history)
}

func (h *Handler) handleChannels(w http.ResponseWriter, deviceID string) {
	snap, ok := h.service.Latest(deviceID)
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	channels := snap.Channels
	if channels == nil {
		channels = []telemetry.ChannelReading{}
	}
	writeJSON(w, channels)
}

func (h *Handler) handleOnline(w http.ResponseWriter, deviceID string) {
	hb, tracked := h.service.LastHeartbeat(deviceID)
	record := telemetry.LivenessRecord{
		DeviceID:      deviceID,
		Online:        h.service.IsOnline(deviceID),
		LastHeartbeat: hb,
	}
	if !tracked {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	writeJSON(w, record)
}

func (h *Handler) handleMarkOffline(w http.ResponseWriter, r *http.Request, deviceID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Reason == "" {
		body.Reason = "manual"
	}
	transitioned := h.service.MarkOffline(deviceID, body.Reason)
	writeJSON(w, map[string]bool{"transitioned": transitioned})
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter) {
	data, err := BuildStatusXLSX(h.service.StatusSummary())
	if err != nil {
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="device-status.xlsx"`)
	_, _ = w.Write(data)
}

func (h *Handler) handleExportPDF(w http.ResponseWriter) {
	data, err := BuildStatusPDF(h.service.StatusSummary())
	if err != nil {
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="device-status.pdf"`)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
