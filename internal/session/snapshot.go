package session

import (
	"time"

	"github.com/TheCacophonyProject/walkingpad-controller/internal/telemetry"
)

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Connection     ConnectionState
	Session        SessionState
	SessionID      string
	Address        string
	Stats          telemetry.Stats
	ResumeSpeedKmh float64
	GraceUntil     time.Time
	History        []float64
}

// Display is the snapshot in the units shown to the user.
type Display struct {
	Connected     bool    `json:"is_connected"`
	Running       bool    `json:"is_running"`
	SpeedMph      float64 `json:"speed"`
	DistanceMiles float64 `json:"distance"`
	Steps         uint64  `json:"steps"`
	CaloriesKcal  float64 `json:"calories"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Connection:     c.conn,
		Session:        c.state,
		SessionID:      c.sessionID,
		Address:        c.address,
		Stats:          c.reconciler.Stats(),
		ResumeSpeedKmh: c.resumeSpeed,
		GraceUntil:     c.graceUntil,
		History:        c.history.Values(),
	}
}

func (s Snapshot) Connected() bool {
	return s.Connection == Connected
}

func (s Snapshot) Running() bool {
	return s.Session == Running
}

// View names the screen the web page should show.
func (s Snapshot) View() string {
	switch {
	case !s.Connected():
		return "connecting"
	case s.Session == Running:
		return "active_session"
	case s.Session == Paused:
		return "paused_session"
	default:
		return "start_session"
	}
}

func (s Snapshot) Display() Display {
	return Display{
		Connected:     s.Connected(),
		Running:       s.Running(),
		SpeedMph:      telemetry.Round(telemetry.KmhToMph(s.Stats.SpeedKmh), 1),
		DistanceMiles: telemetry.Round(telemetry.KmToMiles(s.Stats.DistanceKm), 2),
		Steps:         s.Stats.Steps,
		CaloriesKcal:  telemetry.Round(s.Stats.CaloriesKcal(), 0),
	}
}
