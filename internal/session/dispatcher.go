package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/TheCacophonyProject/walkingpad-controller/device"
)

// Pending is the outcome of a dispatched command.
type Pending <-chan error

// Wait waits up to timeout for the command to finish.
func (p Pending) Wait(timeout time.Duration) error {
	if p == nil {
		return ErrNoDevice
	}
	select {
	case err := <-p:
		return err
	case <-time.After(timeout):
		return ErrStillPending
	}
}

func failed(err error) Pending {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

// Dispatcher turns controller requests into device commands run on the worker.
// The device session is looked up when the command runs, not when it is queued.
type Dispatcher struct {
	worker   *Worker
	current  func() device.Session
	minSpeed float64
	maxSpeed float64
	timeout  time.Duration
	settle   time.Duration
}

func NewDispatcher(worker *Worker, current func() device.Session, cfg Config) *Dispatcher {
	return &Dispatcher{
		worker:   worker,
		current:  current,
		minSpeed: cfg.MinSpeedKmh,
		maxSpeed: cfg.MaxSpeedKmh,
		timeout:  cfg.CommandTimeout,
		settle:   cfg.SettleDelay,
	}
}

// Clamp limits kmh to the allowed speed range.
func (d *Dispatcher) Clamp(kmh float64) float64 {
	return math.Max(d.minSpeed, math.Min(d.maxSpeed, kmh))
}

// ToTenths converts km/h to the pad's speed units, rounding to the nearest tenth.
func ToTenths(kmh float64) int {
	return int(math.Round(kmh * 10))
}

// SetSpeed clamps kmh, queues the speed change and returns the clamped value.
func (d *Dispatcher) SetSpeed(kmh float64) (float64, Pending, error) {
	clamped := d.Clamp(kmh)
	tenths := ToTenths(clamped)
	log.Infof("Setting speed to %.1f km/h", clamped)
	p, err := d.Dispatch("set_speed", func(ctx context.Context, sess device.Session) error {
		return d.Run(ctx, "set_speed", func(ctx context.Context) error {
			return sess.SetSpeed(ctx, tenths)
		})
	})
	return clamped, p, err
}

func (d *Dispatcher) StartBelt() (Pending, error) {
	return d.Dispatch("start_belt", func(ctx context.Context, sess device.Session) error {
		return d.Run(ctx, "start_belt", sess.StartBelt)
	})
}

func (d *Dispatcher) StopBelt() (Pending, error) {
	return d.Dispatch("stop_belt", func(ctx context.Context, sess device.Session) error {
		return d.Run(ctx, "stop_belt", sess.StopBelt)
	})
}

func (d *Dispatcher) SetMode(mode device.Mode) (Pending, error) {
	return d.Dispatch("set_mode", func(ctx context.Context, sess device.Session) error {
		return d.Run(ctx, "set_mode", func(ctx context.Context) error {
			return sess.SetMode(ctx, mode)
		})
	})
}

// Dispatch queues fn to run on the worker against the current device session.
// Failures are logged and sent on the returned Pending, the caller does not
// have to wait for it. An enqueue error is returned directly as well.
func (d *Dispatcher) Dispatch(name string, fn func(ctx context.Context, sess device.Session) error) (Pending, error) {
	resp, err := d.worker.Submit(name, func(ctx context.Context) error {
		sess := d.current()
		if sess == nil {
			log.Warnf("Can't run '%s', no device session", name)
			commandsTotal.WithLabelValues(name, "no_device").Inc()
			return ErrNoDevice
		}
		if err := fn(ctx, sess); err != nil {
			log.Errorf("Command '%s' failed: %v", name, err)
			return err
		}
		return nil
	})
	if err != nil {
		log.Errorf("Failed to queue '%s': %v", name, err)
		commandsTotal.WithLabelValues(name, "not_queued").Inc()
		return failed(err), err
	}
	return Pending(resp), nil
}

// Run runs a single device command with the command timeout. It must only be
// called from the worker.
func (d *Dispatcher) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	commandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		commandsTotal.WithLabelValues(name, "ok").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		commandsTotal.WithLabelValues(name, "timeout").Inc()
	default:
		commandsTotal.WithLabelValues(name, "error").Inc()
	}
	return err
}

// Wake brings a stopped pad back to kmh: standby, manual, start belt, set speed,
// letting the pad settle after each step. It must only be called from the worker.
func (d *Dispatcher) Wake(ctx context.Context, sess device.Session, kmh float64) error {
	tenths := ToTenths(d.Clamp(kmh))
	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"standby_mode", func(ctx context.Context) error { return sess.SetMode(ctx, device.ModeStandby) }},
		{"manual_mode", func(ctx context.Context) error { return sess.SetMode(ctx, device.ModeManual) }},
		{"start_belt", sess.StartBelt},
		{"set_speed", func(ctx context.Context) error { return sess.SetSpeed(ctx, tenths) }},
	}
	for _, step := range steps {
		log.Debugf("Wake step '%s'", step.name)
		if err := d.Run(ctx, step.name, step.fn); err != nil {
			return fmt.Errorf("wake step '%s': %w", step.name, err)
		}
		sleepFn(d.settle)
	}
	return nil
}
