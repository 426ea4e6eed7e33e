/*
padrequest - Client for the walking pad DBus service.
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

// Package padrequest is a client for the walkingpad-controller D-Bus service.
package padrequest

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	dbusName = "org.cacophony.walkingpad"
	dbusPath = "/org/cacophony/walkingpad"
)

// Status of the pad and session, as reported by the service.
type Status struct {
	Connection     string
	Session        string
	SessionID      string
	SpeedKmh       float64
	DistanceKm     float64
	Steps          uint64
	CaloriesKcal   float64
	ResumeSpeedKmh float64
}

func call(method string, args ...interface{}) (*dbus.Call, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusName, dbusPath)
	c := obj.Call(dbusName+"."+method, 0, args...)
	return c, c.Err
}

// Connect asks the service to connect to the pad and returns the connection state.
func Connect() (string, error) {
	c, err := call("Connect")
	if err != nil {
		return "", err
	}
	var state string
	err = c.Store(&state)
	return state, err
}

func Start() error {
	_, err := call("Start")
	return err
}

func Pause() error {
	_, err := call("Pause")
	return err
}

func Resume() error {
	_, err := call("Resume")
	return err
}

// SetSpeed sets the belt speed and returns the speed that was requested after
// clamping to the allowed range.
func SetSpeed(kmh float64) (float64, error) {
	c, err := call("SetSpeed", kmh)
	if err != nil {
		return 0, err
	}
	var set float64
	err = c.Store(&set)
	return set, err
}

func GetStatus() (Status, error) {
	c, err := call("Status")
	if err != nil {
		return Status{}, err
	}
	values := map[string]dbus.Variant{}
	if err := c.Store(&values); err != nil {
		return Status{}, err
	}
	return FromVariants(values)
}

// FromVariants reads a Status from the a{sv} returned by the service.
func FromVariants(values map[string]dbus.Variant) (Status, error) {
	s := Status{}
	fields := []struct {
		key string
		ptr interface{}
	}{
		{"connection", &s.Connection},
		{"session", &s.Session},
		{"sessionId", &s.SessionID},
		{"speedKmh", &s.SpeedKmh},
		{"distanceKm", &s.DistanceKm},
		{"steps", &s.Steps},
		{"caloriesKcal", &s.CaloriesKcal},
		{"resumeSpeedKmh", &s.ResumeSpeedKmh},
	}
	for _, f := range fields {
		v, ok := values[f.key]
		if !ok {
			continue
		}
		if err := v.Store(f.ptr); err != nil {
			return Status{}, fmt.Errorf("bad '%s' in status: %w", f.key, err)
		}
	}
	return s, nil
}

// ToVariants is the inverse of FromVariants.
func (s Status) ToVariants() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"connection":     dbus.MakeVariant(s.Connection),
		"session":        dbus.MakeVariant(s.Session),
		"sessionId":      dbus.MakeVariant(s.SessionID),
		"speedKmh":       dbus.MakeVariant(s.SpeedKmh),
		"distanceKm":     dbus.MakeVariant(s.DistanceKm),
		"steps":          dbus.MakeVariant(s.Steps),
		"caloriesKcal":   dbus.MakeVariant(s.CaloriesKcal),
		"resumeSpeedKmh": dbus.MakeVariant(s.ResumeSpeedKmh),
	}
}
