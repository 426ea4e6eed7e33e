package session

import "time"

// shouldAutoPause reports whether a reading means the belt stopped by itself:
// the speed dropped to zero from moving, outside of the resume grace period.
// Must hold c.mu.
func (c *Controller) shouldAutoPause(previous, current float64) bool {
	if c.inGracePeriod(nowFn()) {
		return false
	}
	return current == 0 && previous > 0
}

func (c *Controller) inGracePeriod(now time.Time) bool {
	return !c.graceUntil.IsZero() && !now.After(c.graceUntil)
}
