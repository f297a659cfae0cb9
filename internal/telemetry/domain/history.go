package telemetry

// History is a fixed-capacity ring of snapshots for one device. Once full,
// Add overwrites the oldest element. History is not safe for concurrent use;
// the store serializes access per device.
type History struct {
	buf  []DeviceSnapshot
	head int // index of the oldest element
	size int
}

// NewHistory creates a ring with the given capacity (minimum 1).
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]DeviceSnapshot, capacity)}
}

// Add appends a snapshot, overwriting the oldest slot when at capacity.
func (h *History) Add(snap DeviceSnapshot) {
	if h.size < len(h.buf) {
		h.buf[(h.head+h.size)%len(h.buf)] = snap
		h.size++
		return
	}
	h.buf[h.head] = snap
	h.head = (h.head + 1) % len(h.buf)
}

// Last returns up to k most recent snapshots, oldest first. The returned
// slice does not alias the ring.
func (h *History) Last(k int) []DeviceSnapshot {
	if k > h.size {
		k = h.size
	}
	if k <= 0 {
		return nil
	}
	out := make([]DeviceSnapshot, 0, k)
	start := h.size - k
	for i := start; i < h.size; i++ {
		out = append(out, h.buf[(h.head+i)%len(h.buf)])
	}
	return out
}

// TrimTo keeps only the m most recent snapshots. Capacity is unchanged.
func (h *History) TrimTo(m int) {
	if m < 0 {
		m = 0
	}
	if m >= h.size {
		return
	}
	h.head = (h.head + h.size - m) % len(h.buf)
	h.size = m
}

// Len returns the current number of stored snapshots.
func (h *History) Len() int { return h.size }

// Cap returns the fixed capacity.
func (h *History) Cap() int { return len(h.buf) }
