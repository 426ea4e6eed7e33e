/*
session - Connection and session state for a WalkingPad.
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/walkingpad-controller/device"
	"github.com/TheCacophonyProject/walkingpad-controller/internal/telemetry"
	"github.com/google/uuid"
)

var (
	sleepFn = time.Sleep
	nowFn   = time.Now
)

// Controller owns the connection to the pad and the walking session on it.
// Public methods can be called from any goroutine. Device I/O and telemetry
// processing only ever happen on the worker.
type Controller struct {
	cfg        Config
	discoverer device.Discoverer
	worker     *Worker
	dispatcher *Dispatcher
	report     EventReporter

	mu          sync.RWMutex
	conn        ConnectionState
	state       SessionState
	address     string
	dev         device.Session
	source      telemetrySource
	intake      bool
	resumeSpeed float64
	graceUntil  time.Time
	sessionID   string
	reconciler  *telemetry.Reconciler
	history     *telemetry.SpeedHistory
}

// NewController makes a controller. Run must be called for anything to happen.
// report may be nil.
func NewController(cfg Config, discoverer device.Discoverer, report EventReporter) *Controller {
	c := &Controller{
		cfg:         cfg,
		discoverer:  discoverer,
		report:      report,
		resumeSpeed: cfg.DefaultResumeKmh,
		history:     telemetry.NewSpeedHistory(cfg.HistorySize, cfg.StableSpeedKmh),
		reconciler: &telemetry.Reconciler{
			OnCounterReset: func(counter string) {
				log.Warnf("Device %s counter went backwards, counting from zero", counter)
				counterResets.WithLabelValues(counter).Inc()
			},
		},
	}
	c.worker = NewWorker(cfg.QueueSize, cfg.SubmitTimeout, cfg.PollInterval, c.pollTick)
	c.dispatcher = NewDispatcher(c.worker, c.currentSession, cfg)
	setConnectionGauge(Disconnected)
	return c
}

// Run runs the device worker until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	c.worker.Run(ctx)
}

// Close drops the connection to the pad and waits for the device session to
// be closed.
func (c *Controller) Close() error {
	dev := c.detach(nil, Disconnected, "closed")
	if dev == nil {
		return nil
	}
	select {
	case err := <-c.closeDevice(dev):
		return err
	case <-time.After(c.cfg.CommandTimeout + c.cfg.SubmitTimeout):
		return fmt.Errorf("timed out closing the device session")
	}
}

func (c *Controller) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Start begins a new session. From Paused this starts over with fresh statistics.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.conn != Connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.state == Running {
		c.mu.Unlock()
		log.Debug("Session is already running")
		return nil
	}
	previous := c.state
	c.reconciler.Reset()
	c.history.Clear()
	c.resumeSpeed = c.cfg.DefaultResumeKmh
	c.graceUntil = time.Time{}
	c.sessionID = uuid.NewString()
	c.state = Running
	c.intake = false
	id := c.sessionID
	c.mu.Unlock()

	log.Infof("Starting session %s", id)
	sessionDistance.Set(0)
	_, err := c.dispatcher.Dispatch("start", func(ctx context.Context, sess device.Session) error {
		if err := c.dispatcher.Run(ctx, "start_belt", sess.StartBelt); err != nil {
			return err
		}
		sleepFn(c.cfg.SettleDelay)
		c.enableIntake(sess)
		return nil
	})
	if err != nil {
		c.revertState(Running, previous)
		return err
	}
	c.reportEvent(EventSessionStarted, nil)
	return nil
}

// Pause stops the belt and remembers the most recent stable speed to resume at.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		log.Debug("No running session to pause")
		return nil
	}
	previousResume, previousIntake := c.resumeSpeed, c.intake
	resume := c.dispatcher.Clamp(c.history.Newest(c.cfg.MinSpeedKmh))
	c.resumeSpeed = resume
	c.state = Paused
	c.intake = false
	c.mu.Unlock()

	log.Infof("Pausing session, will resume at %.1f km/h", resume)
	if _, err := c.dispatcher.StopBelt(); err != nil {
		c.mu.Lock()
		if c.state == Paused {
			c.state = Running
			c.resumeSpeed = previousResume
			c.intake = previousIntake
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Resume wakes the pad at the remembered speed. Auto-pause is held off for the
// resume grace period while the belt spins up. If the wake sequence fails the
// connection is treated as lost.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.state != Paused {
		c.mu.Unlock()
		log.Debug("No paused session to resume")
		return nil
	}
	c.graceUntil = nowFn().Add(c.cfg.ResumeGrace)
	c.state = Running
	c.intake = false
	speed := c.resumeSpeed
	c.mu.Unlock()

	log.Infof("Resuming session at %.1f km/h", speed)
	_, err := c.dispatcher.Dispatch("resume", func(ctx context.Context, sess device.Session) error {
		if err := c.dispatcher.Wake(ctx, sess, speed); err != nil {
			log.Errorf("Error during resume sequence, device may have disconnected: %v", err)
			c.reportEvent(EventResumeFailed, map[string]interface{}{"error": err.Error()})
			// Already on the worker, so the session can be closed here.
			if dev := c.detach(sess, Failed, "resume_failed"); dev != nil {
				closeSession(dev)
			}
			return err
		}
		c.enableIntake(sess)
		return nil
	})
	if err != nil {
		c.revertState(Running, Paused)
		return err
	}
	return nil
}

// AdjustSpeed sets an absolute speed during a running session. It returns the
// speed actually requested after clamping.
func (c *Controller) AdjustSpeed(kmh float64) (float64, error) {
	c.mu.RLock()
	running := c.state == Running
	c.mu.RUnlock()
	if !running {
		return 0, ErrNotRunning
	}
	clamped, _, err := c.dispatcher.SetSpeed(kmh)
	return clamped, err
}

// StepSpeed changes the speed relative to the last reported speed.
func (c *Controller) StepSpeed(delta float64) (float64, error) {
	c.mu.RLock()
	current := c.reconciler.Stats().SpeedKmh
	c.mu.RUnlock()
	return c.AdjustSpeed(current + delta)
}

// revertState puts the session back to previous if nothing else has moved it on
// from expected in the meantime.
func (c *Controller) revertState(expected, previous SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == expected {
		c.state = previous
		c.intake = false
	}
}

func (c *Controller) enableIntake(sess device.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev != sess || c.state != Running {
		return
	}
	if !c.intake {
		log.Info("Stats monitor started")
	}
	c.intake = true
}

func (c *Controller) currentSession() device.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dev
}

// clearSessionLocked ends any session and forgets the device. Must hold c.mu.
func (c *Controller) clearSessionLocked() {
	c.dev = nil
	c.source = nil
	c.intake = false
	c.state = NoSession
	c.graceUntil = time.Time{}
}

// setConnLocked must hold c.mu.
func (c *Controller) setConnLocked(state ConnectionState) {
	if c.conn != state {
		log.Debugf("Connection state %s -> %s", c.conn, state)
	}
	c.conn = state
	setConnectionGauge(state)
}
