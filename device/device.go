// Package device defines what the controller needs from a connected walking pad.
// The byte level protocol lives behind these interfaces.
package device

import (
	"context"
	"errors"
	"fmt"
)

// DefaultName is the name the pad advertises over Bluetooth.
const DefaultName = "WalkingPad"

var (
	ErrNotFound     = errors.New("device not found")
	ErrDisconnected = errors.New("device disconnected")
)

// Mode is the pad control mode.
type Mode byte

const (
	ModeAuto    Mode = 0
	ModeManual  Mode = 1
	ModeStandby Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	case ModeStandby:
		return "standby"
	default:
		return fmt.Sprintf("mode(%d)", byte(m))
	}
}

// Status is a raw status reading. Distance is in units of 10 m, Speed in tenths of km/h.
// Distance and Steps count from the pad's own last reset, not from the session start.
type Status struct {
	Distance uint32
	Steps    uint32
	Speed    uint32
}

// Session is an established connection to a pad.
// Implementations do not need to be safe for concurrent use, callers serialize access.
type Session interface {
	Address() string
	SetMode(ctx context.Context, mode Mode) error
	StartBelt(ctx context.Context) error
	StopBelt(ctx context.Context) error
	// SetSpeed takes the speed in tenths of km/h.
	SetSpeed(ctx context.Context, tenths int) error
	AskStats(ctx context.Context) (Status, error)
	// Disconnected is closed when the link drops, for whatever reason.
	Disconnected() <-chan struct{}
	Close() error
}

// StatusNotifier is implemented by sessions that push status readings without being asked.
type StatusNotifier interface {
	Subscribe(fn func(Status)) error
}

// Discoverer finds pads and connects to them.
type Discoverer interface {
	FindByAddress(ctx context.Context, address string) (string, error)
	FindByName(ctx context.Context, name string) (string, error)
	Connect(ctx context.Context, address string) (Session, error)
}
