package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected  = errors.New("walking pad is not connected")
	ErrNotRunning    = errors.New("no running session")
	ErrNoDevice      = errors.New("no device session")
	ErrDiscovery     = errors.New("could not find walking pad")
	ErrQueueFull     = errors.New("device queue is full")
	ErrWorkerStopped = errors.New("device worker stopped")
	ErrStillPending  = errors.New("command still pending")
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Failed
)

var connectionStates = []ConnectionState{Disconnected, Connecting, Connected, Failed}

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("connection(%d)", int(s))
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type SessionState int

const (
	NoSession SessionState = iota
	Running
	Paused
)

func (s SessionState) String() string {
	switch s {
	case NoSession:
		return "none"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("session(%d)", int(s))
	}
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds the tunables of the controller. Speeds are in km/h.
type Config struct {
	DeviceName       string
	MinSpeedKmh      float64
	MaxSpeedKmh      float64
	DefaultResumeKmh float64
	// StableSpeedKmh is the speed a reading has to exceed to be kept in the speed history.
	StableSpeedKmh float64
	HistorySize    int
	QueueSize      int

	PollInterval   time.Duration
	SettleDelay    time.Duration
	ResumeGrace    time.Duration
	AddressTimeout time.Duration
	NameTimeout    time.Duration
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	SubmitTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		DeviceName:       "WalkingPad",
		MinSpeedKmh:      1.0,
		MaxSpeedKmh:      6.0,
		DefaultResumeKmh: 2.0,
		StableSpeedKmh:   1.0,
		HistorySize:      15,
		QueueSize:        32,
		PollInterval:     time.Second,
		SettleDelay:      500 * time.Millisecond,
		ResumeGrace:      7 * time.Second,
		AddressTimeout:   5 * time.Second,
		NameTimeout:      10 * time.Second,
		ConnectTimeout:   20 * time.Second,
		CommandTimeout:   3 * time.Second,
		SubmitTimeout:    2 * time.Second,
	}
}

// Validate checks the speed limits make sense.
func (c Config) Validate() error {
	if c.MinSpeedKmh <= 0 || c.MaxSpeedKmh <= c.MinSpeedKmh {
		return fmt.Errorf("invalid speed limits: min %.1f, max %.1f", c.MinSpeedKmh, c.MaxSpeedKmh)
	}
	if c.DefaultResumeKmh < c.MinSpeedKmh || c.DefaultResumeKmh > c.MaxSpeedKmh {
		return fmt.Errorf("default resume speed %.1f outside of [%.1f, %.1f]", c.DefaultResumeKmh, c.MinSpeedKmh, c.MaxSpeedKmh)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}
