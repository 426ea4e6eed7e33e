/*
web - HTTP and websocket interface for the walking pad.
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

// Package web serves the HTTP API used by the browser front end.
package web

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/walkingpad-controller/internal/session"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller is what the API drives, implemented by session.Controller.
type Controller interface {
	Connect(ctx context.Context) (session.ConnectionState, error)
	Start() error
	Pause() error
	Resume() error
	AdjustSpeed(kmh float64) (float64, error)
	StepSpeed(deltaKmh float64) (float64, error)
	Snapshot() session.Snapshot
}

type Config struct {
	Address        string
	StreamInterval time.Duration
	ConnectTimeout time.Duration
	StepKmh        float64
	SlowWalkKmh    float64
	MaxKmh         float64
}

func DefaultConfig() Config {
	return Config{
		Address:        ":5000",
		StreamInterval: time.Second,
		ConnectTimeout: time.Minute,
		StepKmh:        0.6,
		SlowWalkKmh:    4.5,
		MaxKmh:         6.0,
	}
}

type Server struct {
	App      *fiber.App
	Stream   *Hub
	cfg      Config
	ctl      Controller
	shutdown func()
	log      *logging.Logger
}

// NewServer sets up the routes. shutdown is called when a client asks the
// process to stop, it may be nil.
func NewServer(cfg Config, ctl Controller, shutdown func(), log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewLogger("info")
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		// Polled every second by the front end.
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/stats" || c.Path() == "/metrics"
		},
	}))

	s := &Server{
		App:      app,
		Stream:   NewHub(),
		cfg:      cfg,
		ctl:      ctl,
		shutdown: shutdown,
		log:      log,
	}
	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/", s.getSnapshot)
	s.App.Get("/stats", s.getStats)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	actions := map[string]fiber.Handler{
		"/reconnect":        s.reconnect,
		"/manual_reconnect": s.reconnect,
		"/start":            s.action(s.ctl.Start),
		"/pause":            s.action(s.ctl.Pause),
		"/pause_session":    s.action(s.ctl.Pause),
		"/resume":           s.action(s.ctl.Resume),
		"/resume_session":   s.action(s.ctl.Resume),
		"/increase_speed":   s.speedAction(func() (float64, error) { return s.ctl.StepSpeed(s.cfg.StepKmh) }),
		"/decrease_speed":   s.speedAction(func() (float64, error) { return s.ctl.StepSpeed(-s.cfg.StepKmh) }),
		"/slow_speed":       s.speedAction(func() (float64, error) { return s.ctl.AdjustSpeed(s.cfg.SlowWalkKmh) }),
		"/max_speed":        s.speedAction(func() (float64, error) { return s.ctl.AdjustSpeed(s.cfg.MaxKmh) }),
	}
	for path, handler := range actions {
		s.App.Get(path, handler)
		s.App.Post(path, handler)
	}
	s.App.Post("/speed", s.setSpeed)
	s.App.Post("/shutdown", s.requestShutdown)

	registerStream(s.App, s.Stream, s.ctl)
}

// Run serves until ctx is cancelled, streaming snapshots to websocket clients.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		s.log.Infof("Listening on %s", s.cfg.Address)
		errs <- s.App.Listen(s.cfg.Address)
	}()
	go s.streamSnapshots(ctx)

	select {
	case <-ctx.Done():
		return s.App.Shutdown()
	case err := <-errs:
		return err
	}
}

func (s *Server) streamSnapshots(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Stream.Count() == 0 {
				continue
			}
			payload, err := json.Marshal(newSnapshotResponse(s.ctl.Snapshot()))
			if err != nil {
				s.log.Errorf("Failed to encode snapshot: %v", err)
				continue
			}
			s.Stream.Broadcast(payload)
		}
	}
}
