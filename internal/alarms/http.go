package alarms

import (
	"encoding/json"
	"net/http"
	"time"
)

const timeLayout = time.RFC3339

// QueryHandler serves GET /api/v1/alarms against the journal.
type QueryHandler struct {
	journal Journal
}

// NewQueryHandler constructs a handler; journal may be nil when the
// journal is disabled.
func NewQueryHandler(journal Journal) *QueryHandler {
	return &QueryHandler{journal: journal}
}

// ServeHTTP lists journaled alarms for a device and time range.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.journal == nil {
		http.Error(w, "alarm journal disabled", http.StatusServiceUnavailable)
		return
	}

	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		http.Error(w, "deviceId is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from", time.Now().UTC().AddDate(0, 0, -1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to", time.Now().UTC().Add(time.Minute))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	entries, err := h.journal.List(r.Context(), deviceID, from, to)
	if err != nil {
		http.Error(w, "journal query failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func parseTimeQuery(r *http.Request, key string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(timeLayout, raw)
}
