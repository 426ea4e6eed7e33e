/*
bluez - Finding and connecting to a WalkingPad through BlueZ.
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

package bluez

import (
	"context"
	"sync"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/walkingpad-controller/device"
	"github.com/godbus/dbus/v5"
)

// Session is a connected pad. Status readings only arrive in answer to
// AskStats, so it does not implement device.StatusNotifier.
type Session struct {
	conn       *dbus.Conn
	log        *logging.Logger
	address    string
	devicePath dbus.ObjectPath
	notifyPath dbus.ObjectPath
	writePath  dbus.ObjectPath

	signals      chan *dbus.Signal
	status       chan device.Status
	disconnected chan struct{}
	closeOnce    sync.Once
	dropOnce     sync.Once
}

func newSession(conn *dbus.Conn, log *logging.Logger, address string, devicePath, notifyPath, writePath dbus.ObjectPath) (*Session, error) {
	s := &Session{
		conn:         conn,
		log:          log,
		address:      address,
		devicePath:   devicePath,
		notifyPath:   notifyPath,
		writePath:    writePath,
		signals:      make(chan *dbus.Signal, 16),
		status:       make(chan device.Status, 1),
		disconnected: make(chan struct{}),
	}
	for _, path := range []dbus.ObjectPath{devicePath, notifyPath} {
		err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(propsInterface),
			dbus.WithMatchMember("PropertiesChanged"),
		)
		if err != nil {
			return nil, err
		}
	}
	conn.Signal(s.signals)
	go s.listen()
	return s, nil
}

func (s *Session) startNotify(ctx context.Context) error {
	return s.conn.Object(bluezName, s.notifyPath).CallWithContext(ctx, gattCharInterface+".StartNotify", 0).Err
}

// listen handles property changes until the session is closed.
func (s *Session) listen() {
	for {
		select {
		case <-s.disconnected:
			return
		case sig, ok := <-s.signals:
			if !ok {
				s.drop()
				return
			}
			s.handleSignal(sig)
		}
	}
}

func (s *Session) handleSignal(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	switch sig.Path {
	case s.devicePath:
		if v, ok := changed["Connected"]; ok {
			if connected, _ := v.Value().(bool); !connected {
				s.log.Info("Pad reported disconnect")
				s.drop()
			}
		}
	case s.notifyPath:
		v, ok := changed["Value"]
		if !ok {
			return
		}
		frame, _ := v.Value().([]byte)
		st, err := parseStatus(frame)
		if err != nil {
			s.log.Debugf("Ignoring frame % x: %v", frame, err)
			return
		}
		// Keep only the latest reading.
		select {
		case <-s.status:
		default:
		}
		s.status <- st
	}
}

func (s *Session) write(ctx context.Context, frame []byte) error {
	select {
	case <-s.disconnected:
		return device.ErrDisconnected
	default:
	}
	s.log.Debugf("Writing % x", frame)
	options := map[string]interface{}{"type": "request"}
	return s.conn.Object(bluezName, s.writePath).
		CallWithContext(ctx, gattCharInterface+".WriteValue", 0, frame, options).Err
}

func (s *Session) Address() string {
	return s.address
}

func (s *Session) SetMode(ctx context.Context, mode device.Mode) error {
	return s.write(ctx, setModeFrame(mode))
}

func (s *Session) StartBelt(ctx context.Context) error {
	return s.write(ctx, startBeltFrame())
}

// StopBelt sets the speed to zero, the pad has no separate stop command.
func (s *Session) StopBelt(ctx context.Context) error {
	return s.SetSpeed(ctx, 0)
}

func (s *Session) SetSpeed(ctx context.Context, tenths int) error {
	frame, err := setSpeedFrame(tenths)
	if err != nil {
		return err
	}
	return s.write(ctx, frame)
}

// AskStats requests a status frame and waits for it to be notified.
func (s *Session) AskStats(ctx context.Context) (device.Status, error) {
	select {
	case <-s.status:
	default:
	}
	if err := s.write(ctx, askStatsFrame()); err != nil {
		return device.Status{}, err
	}
	select {
	case st := <-s.status:
		return st, nil
	case <-s.disconnected:
		return device.Status{}, device.ErrDisconnected
	case <-ctx.Done():
		return device.Status{}, ctx.Err()
	}
}

func (s *Session) Disconnected() <-chan struct{} {
	return s.disconnected
}

// Close stops notifications and disconnects. Safe to call more than once and
// from any goroutine.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.conn.RemoveSignal(s.signals)
		for _, path := range []dbus.ObjectPath{s.devicePath, s.notifyPath} {
			s.conn.RemoveMatchSignal(
				dbus.WithMatchObjectPath(path),
				dbus.WithMatchInterface(propsInterface),
				dbus.WithMatchMember("PropertiesChanged"),
			)
		}
		s.conn.Object(bluezName, s.notifyPath).Call(gattCharInterface+".StopNotify", 0)
		err = s.conn.Object(bluezName, s.devicePath).Call(deviceInterface+".Disconnect", 0).Err
		s.drop()
	})
	return err
}

func (s *Session) drop() {
	s.dropOnce.Do(func() { close(s.disconnected) })
}
