package telemetry

const DefaultHistorySize = 15

// SpeedHistory keeps the most recent stable running speeds, oldest first.
// It is not safe for concurrent use.
type SpeedHistory struct {
	speeds    []float64
	size      int
	threshold float64
}

// NewSpeedHistory keeps up to size speeds. Only speeds above threshold are recorded.
func NewSpeedHistory(size int, threshold float64) *SpeedHistory {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &SpeedHistory{
		speeds:    make([]float64, 0, size),
		size:      size,
		threshold: threshold,
	}
}

// Record appends speed if it is above the stability threshold, dropping the
// oldest entry once full. Returns whether the speed was kept.
func (h *SpeedHistory) Record(speed float64) bool {
	if speed <= h.threshold {
		return false
	}
	if len(h.speeds) == h.size {
		copy(h.speeds, h.speeds[1:])
		h.speeds = h.speeds[:h.size-1]
	}
	h.speeds = append(h.speeds, speed)
	return true
}

// Oldest returns the oldest recorded speed, or fallback if there is none.
func (h *SpeedHistory) Oldest(fallback float64) float64 {
	if len(h.speeds) == 0 {
		return fallback
	}
	return h.speeds[0]
}

// Newest returns the most recent recorded speed, or fallback if there is none.
func (h *SpeedHistory) Newest(fallback float64) float64 {
	if len(h.speeds) == 0 {
		return fallback
	}
	return h.speeds[len(h.speeds)-1]
}

func (h *SpeedHistory) Clear() {
	h.speeds = h.speeds[:0]
}

func (h *SpeedHistory) Len() int {
	return len(h.speeds)
}

// Values returns a copy of the recorded speeds, oldest first.
func (h *SpeedHistory) Values() []float64 {
	return append([]float64(nil), h.speeds...)
}
