package web

import (
	"context"
	"errors"

	"github.com/TheCacophonyProject/walkingpad-controller/internal/session"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type snapshotResponse struct {
	Connection     string  `json:"connection"`
	Session        string  `json:"session"`
	View           string  `json:"view"`
	SessionID      string  `json:"sessionId,omitempty"`
	SpeedMph       float64 `json:"speed"`
	DistanceMiles  float64 `json:"distance"`
	Steps          uint64  `json:"steps"`
	CaloriesKcal   float64 `json:"calories"`
	ResumeSpeedKmh float64 `json:"resumeSpeed"`
}

func newSnapshotResponse(snap session.Snapshot) snapshotResponse {
	d := snap.Display()
	return snapshotResponse{
		Connection:     snap.Connection.String(),
		Session:        snap.Session.String(),
		View:           snap.View(),
		SessionID:      snap.SessionID,
		SpeedMph:       d.SpeedMph,
		DistanceMiles:  d.DistanceMiles,
		Steps:          d.Steps,
		CaloriesKcal:   d.CaloriesKcal,
		ResumeSpeedKmh: snap.ResumeSpeedKmh,
	}
}

type speedRequest struct {
	Kmh *float64 `json:"kmh"`
}

func (s *Server) getSnapshot(c *fiber.Ctx) error {
	return c.JSON(newSnapshotResponse(s.ctl.Snapshot()))
}

func (s *Server) getStats(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(s.ctl.Snapshot().Display())
}

func (s *Server) reconnect(c *fiber.Ctx) error {
	state := s.ctl.Snapshot().Connection
	if state != session.Connected && state != session.Connecting {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
			defer cancel()
			if _, err := s.ctl.Connect(ctx); err != nil {
				s.log.Errorf("Reconnect failed: %v", err)
			}
		}()
	}
	return c.Status(fiber.StatusAccepted).JSON(newSnapshotResponse(s.ctl.Snapshot()))
}

func (s *Server) action(fn func() error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := fn(); err != nil {
			return s.fail(c, err)
		}
		return c.JSON(newSnapshotResponse(s.ctl.Snapshot()))
	}
}

func (s *Server) speedAction(fn func() (float64, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		kmh, err := fn()
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(fiber.Map{"kmh": kmh})
	}
}

func (s *Server) setSpeed(c *fiber.Ctx) error {
	req := speedRequest{}
	if err := c.BodyParser(&req); err != nil || req.Kmh == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "expected {\"kmh\": <number>}"})
	}
	return s.speedAction(func() (float64, error) { return s.ctl.AdjustSpeed(*req.Kmh) })(c)
}

func (s *Server) requestShutdown(c *fiber.Ctx) error {
	s.log.Info("Shutdown requested")
	if s.shutdown != nil {
		go s.shutdown()
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "shutting down"})
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	return c.Status(errorStatus(err)).JSON(fiber.Map{"error": err.Error()})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrNotRunning):
		return fiber.StatusConflict
	case errors.Is(err, session.ErrQueueFull), errors.Is(err, session.ErrWorkerStopped):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func registerStream(r fiber.Router, hub *Hub, ctl Controller) {
	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		client := hub.Register()
		defer hub.Unregister(client)

		// New clients get the current state straight away.
		if err := c.WriteJSON(newSnapshotResponse(ctl.Snapshot())); err != nil {
			return
		}

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
