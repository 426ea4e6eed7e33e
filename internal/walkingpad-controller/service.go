/*
walkingpad-controller - DBus service for controlling the walking pad.
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

package controller

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/TheCacophonyProject/walkingpad-controller/internal/session"
	"github.com/TheCacophonyProject/walkingpad-controller/padrequest"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const (
	dbusName = "org.cacophony.walkingpad"
	dbusPath = "/org/cacophony/walkingpad"
)

type padController interface {
	Connect(ctx context.Context) (session.ConnectionState, error)
	Start() error
	Pause() error
	Resume() error
	AdjustSpeed(kmh float64) (float64, error)
	Snapshot() session.Snapshot
}

type service struct {
	ctl            padController
	connectTimeout time.Duration
}

func startService(ctl padController, connectTimeout time.Duration) error {
	log.Info("Starting walking pad D-Bus service")
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{ctl: ctl, connectTimeout: connectTimeout}
	if err := conn.Export(s, dbusPath, dbusName); err != nil {
		return err
	}
	return conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

/*
dbus-send --system --print-reply --dest=org.cacophony.walkingpad /org/cacophony/walkingpad org.cacophony.walkingpad.SetSpeed \
double:3.2
*/

// Connect connects to the pad, waiting for the attempt to finish.
func (s *service) Connect() (string, *dbus.Error) {
	log.Debug("Got D-Bus message 'Connect'")
	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	defer cancel()
	state, err := s.ctl.Connect(ctx)
	return state.String(), errToDBusErr(err)
}

func (s *service) Start() *dbus.Error {
	log.Debug("Got D-Bus message 'Start'")
	return errToDBusErr(s.ctl.Start())
}

func (s *service) Pause() *dbus.Error {
	log.Debug("Got D-Bus message 'Pause'")
	return errToDBusErr(s.ctl.Pause())
}

func (s *service) Resume() *dbus.Error {
	log.Debug("Got D-Bus message 'Resume'")
	return errToDBusErr(s.ctl.Resume())
}

// SetSpeed sets the belt speed in km/h and returns the speed after clamping.
func (s *service) SetSpeed(kmh float64) (float64, *dbus.Error) {
	log.Debugf("Got D-Bus message 'SetSpeed' %.1f", kmh)
	set, err := s.ctl.AdjustSpeed(kmh)
	return set, errToDBusErr(err)
}

func (s *service) Status() (map[string]dbus.Variant, *dbus.Error) {
	return statusFromSnapshot(s.ctl.Snapshot()).ToVariants(), nil
}

func statusFromSnapshot(snap session.Snapshot) padrequest.Status {
	return padrequest.Status{
		Connection:     snap.Connection.String(),
		Session:        snap.Session.String(),
		SessionID:      snap.SessionID,
		SpeedKmh:       snap.Stats.SpeedKmh,
		DistanceKm:     snap.Stats.DistanceKm,
		Steps:          snap.Stats.Steps,
		CaloriesKcal:   snap.Stats.CaloriesKcal(),
		ResumeSpeedKmh: snap.ResumeSpeedKmh,
	}
}

func errToDBusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + getCallerName(),
		Body: []interface{}{err.Error()},
	}
}

func getCallerName() string {
	fpcs := make([]uintptr, 1)
	n := runtime.Callers(3, fpcs)
	if n == 0 {
		return ""
	}
	caller := runtime.FuncForPC(fpcs[0] - 1)
	if caller == nil {
		return ""
	}
	funcNames := strings.Split(caller.Name(), ".")
	return funcNames[len(funcNames)-1]
}
