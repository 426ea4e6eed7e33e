package session

import (
	"context"

	"github.com/TheCacophonyProject/walkingpad-controller/device"
)

// telemetrySource is how status readings reach the controller. Exactly one is
// in use per connection.
type telemetrySource interface {
	name() string
	// poll is called on the worker once per poll interval while intake is on.
	poll(ctx context.Context, sess device.Session) (device.Status, bool, error)
}

type pushSource struct{}

func (pushSource) name() string { return "push" }

func (pushSource) poll(context.Context, device.Session) (device.Status, bool, error) {
	return device.Status{}, false, nil
}

type pollSource struct{}

func (pollSource) name() string { return "poll" }

func (pollSource) poll(ctx context.Context, sess device.Session) (device.Status, bool, error) {
	st, err := sess.AskStats(ctx)
	if err != nil {
		return device.Status{}, false, err
	}
	return st, true, nil
}

// selectSource subscribes to pushed readings if the session supports it, otherwise
// readings are polled for.
func (c *Controller) selectSource(sess device.Session) telemetrySource {
	if n, ok := sess.(device.StatusNotifier); ok {
		err := n.Subscribe(func(st device.Status) { c.postStatus(sess, st) })
		if err == nil {
			return pushSource{}
		}
		log.Warnf("Failed to subscribe to status updates, polling instead: %v", err)
	}
	return pollSource{}
}

// postStatus hands a pushed reading over to the worker. If the queue is full the
// reading is dropped, the next one carries the same cumulative counters.
func (c *Controller) postStatus(sess device.Session, st device.Status) {
	_, err := c.worker.Submit("status", func(ctx context.Context) error {
		c.handleStatus(sess, st, pushSource{}.name())
		return nil
	})
	if err != nil {
		log.Debugf("Dropped status update: %v", err)
	}
}

// pollTick runs on the worker every poll interval.
func (c *Controller) pollTick(ctx context.Context) {
	c.mu.Lock()
	if !c.intake {
		c.mu.Unlock()
		return
	}
	if c.state != Running {
		c.intake = false
		c.mu.Unlock()
		log.Info("Stats monitor stopped")
		return
	}
	sess, source := c.dev, c.source
	c.mu.Unlock()
	if sess == nil || source == nil {
		return
	}

	var st device.Status
	var ok bool
	err := c.dispatcher.Run(ctx, "ask_stats", func(ctx context.Context) error {
		var err error
		st, ok, err = source.poll(ctx, sess)
		return err
	})
	if err != nil {
		log.Warnf("Error reading stats: %v", err)
		return
	}
	if ok {
		c.handleStatus(sess, st, source.name())
	}
}

// handleStatus applies a reading. It runs on the worker, readings from a session
// that is no longer current are ignored.
func (c *Controller) handleStatus(sess device.Session, st device.Status, source string) {
	c.mu.Lock()
	if c.dev != sess {
		c.mu.Unlock()
		return
	}
	telemetrySamples.WithLabelValues(source).Inc()

	previous := c.reconciler.Stats().SpeedKmh
	speed := float64(st.Speed) / 10
	paused := false
	if c.state == Running {
		c.history.Record(speed)
		if c.shouldAutoPause(previous, speed) {
			c.resumeSpeed = c.dispatcher.Clamp(c.history.Oldest(c.cfg.MinSpeedKmh))
			c.state = Paused
			c.intake = false
			paused = true
		}
	}
	stats := c.reconciler.Apply(st)
	resume := c.resumeSpeed
	c.mu.Unlock()

	sessionDistance.Set(stats.DistanceKm)
	if paused {
		log.Infof("Belt has stopped unexpectedly. Auto-pausing session, will resume at %.1f km/h", resume)
		autoPauses.Inc()
		c.reportEvent(EventAutoPause, map[string]interface{}{
			"resumeSpeedKmh": resume,
			"distanceKm":     stats.DistanceKm,
		})
	}
}
