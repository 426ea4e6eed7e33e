package telemetry

import "github.com/TheCacophonyProject/walkingpad-controller/device"

// Stats are the cumulative statistics of the current session, in device native units.
type Stats struct {
	DistanceKm float64
	Steps      uint64
	SpeedKmh   float64
}

// CaloriesKcal is a rough estimate based on distance walked.
func (s Stats) CaloriesKcal() float64 {
	return KcalPerMile * KmToMiles(s.DistanceKm)
}

// Delta returns how much a raw counter advanced between two readings.
// A counter that went backwards has been reset by the pad, so it is counted from zero.
func Delta(prev, next uint32) uint32 {
	if next < prev {
		return next
	}
	return next - prev
}

// Reconciler turns raw pad counters into monotonic session statistics.
// Readings must be applied in the order they were received.
type Reconciler struct {
	lastDistance uint32
	lastSteps    uint32
	stats        Stats

	// OnCounterReset is called with "distance" or "steps" when a raw counter goes backwards.
	OnCounterReset func(counter string)
}

// Apply folds a reading into the statistics and returns the new totals.
func (r *Reconciler) Apply(st device.Status) Stats {
	if st.Distance < r.lastDistance {
		r.counterReset("distance")
	}
	if st.Steps < r.lastSteps {
		r.counterReset("steps")
	}

	r.stats.DistanceKm += float64(Delta(r.lastDistance, st.Distance)) / 100
	r.lastDistance = st.Distance

	r.stats.Steps += uint64(Delta(r.lastSteps, st.Steps))
	r.lastSteps = st.Steps

	r.stats.SpeedKmh = float64(st.Speed) / 10
	return r.stats
}

// Reset zeroes the statistics. The raw baselines are kept so anything counted
// before the reset is not counted again.
func (r *Reconciler) Reset() {
	r.stats = Stats{}
}

func (r *Reconciler) Stats() Stats {
	return r.stats
}

// Baseline returns the last raw distance and steps seen.
func (r *Reconciler) Baseline() (distance, steps uint32) {
	return r.lastDistance, r.lastSteps
}

func (r *Reconciler) counterReset(counter string) {
	if r.OnCounterReset != nil {
		r.OnCounterReset(counter)
	}
}
