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

// Package bluez talks to a WalkingPad through the BlueZ D-Bus API.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/walkingpad-controller/device"
	"github.com/godbus/dbus/v5"
)

const (
	bluezName         = "org.bluez"
	adapterInterface  = "org.bluez.Adapter1"
	deviceInterface   = "org.bluez.Device1"
	gattCharInterface = "org.bluez.GattCharacteristic1"
	propsInterface    = "org.freedesktop.DBus.Properties"
	objectManager     = "org.freedesktop.DBus.ObjectManager"
)

var scanInterval = 500 * time.Millisecond

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Adapter finds pads with a local Bluetooth adapter. It implements device.Discoverer.
type Adapter struct {
	conn *dbus.Conn
	path dbus.ObjectPath
	log  *logging.Logger
}

// NewAdapter uses the named adapter, "hci0" if name is empty.
func NewAdapter(name string, log *logging.Logger) (*Adapter, error) {
	if log == nil {
		log = logging.NewLogger("info")
	}
	if name == "" {
		name = "hci0"
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		conn: conn,
		path: dbus.ObjectPath("/org/bluez/" + name),
		log:  log,
	}
	powered, err := a.conn.Object(bluezName, a.path).GetProperty(adapterInterface + ".Powered")
	if err != nil {
		return nil, fmt.Errorf("bluetooth adapter %s not available: %w", name, err)
	}
	if on, ok := powered.Value().(bool); ok && !on {
		a.log.Infof("Powering on adapter %s", name)
		err := a.conn.Object(bluezName, a.path).SetProperty(adapterInterface+".Powered", dbus.MakeVariant(true))
		if err != nil {
			return nil, fmt.Errorf("failed to power on adapter %s: %w", name, err)
		}
	}
	return a, nil
}

func (a *Adapter) FindByAddress(ctx context.Context, address string) (string, error) {
	return a.find(ctx, func(props map[string]dbus.Variant) bool {
		addr, _ := props["Address"].Value().(string)
		return strings.EqualFold(addr, address)
	})
}

func (a *Adapter) FindByName(ctx context.Context, name string) (string, error) {
	return a.find(ctx, func(props map[string]dbus.Variant) bool {
		n, _ := props["Name"].Value().(string)
		return n == name
	})
}

// find scans until a device matching match is seen or ctx is done.
func (a *Adapter) find(ctx context.Context, match func(map[string]dbus.Variant) bool) (string, error) {
	// Devices BlueZ already knows about may not need a scan at all.
	if address, err := a.lookup(ctx, match); err != nil || address != "" {
		return address, err
	}

	adapter := a.conn.Object(bluezName, a.path)
	filter := map[string]interface{}{"Transport": "le"}
	if err := adapter.CallWithContext(ctx, adapterInterface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		a.log.Debugf("Failed to set discovery filter: %v", err)
	}
	if err := adapter.CallWithContext(ctx, adapterInterface+".StartDiscovery", 0).Err; err != nil {
		if !isDBusError(err, "org.bluez.Error.InProgress") {
			return "", fmt.Errorf("failed to start discovery: %w", err)
		}
	}
	defer func() {
		if err := adapter.Call(adapterInterface+".StopDiscovery", 0).Err; err != nil {
			a.log.Debugf("Failed to stop discovery: %v", err)
		}
	}()

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", device.ErrNotFound, ctx.Err())
		case <-ticker.C:
			address, err := a.lookup(ctx, match)
			if err != nil || address != "" {
				return address, err
			}
		}
	}
}

// lookup checks the devices BlueZ currently knows about.
func (a *Adapter) lookup(ctx context.Context, match func(map[string]dbus.Variant) bool) (string, error) {
	objects, err := a.managedObjects(ctx)
	if err != nil {
		return "", err
	}
	for path, ifaces := range objects {
		props, ok := ifaces[deviceInterface]
		if !ok || !strings.HasPrefix(string(path), string(a.path)+"/") {
			continue
		}
		if match(props) {
			address, _ := props["Address"].Value().(string)
			return address, nil
		}
	}
	return "", nil
}

func (a *Adapter) managedObjects(ctx context.Context) (managedObjects, error) {
	objects := managedObjects{}
	err := a.conn.Object(bluezName, "/").CallWithContext(ctx, objectManager+".GetManagedObjects", 0).Store(&objects)
	return objects, err
}

// Connect connects to the pad at address and subscribes to its status notifications.
func (a *Adapter) Connect(ctx context.Context, address string) (device.Session, error) {
	devicePath := a.devicePath(address)
	dev := a.conn.Object(bluezName, devicePath)
	a.log.Debugf("Connecting to %s", devicePath)
	if err := dev.CallWithContext(ctx, deviceInterface+".Connect", 0).Err; err != nil {
		if !isDBusError(err, "org.bluez.Error.AlreadyConnected") {
			return nil, err
		}
	}

	if err := a.waitServicesResolved(ctx, dev); err != nil {
		dev.Call(deviceInterface+".Disconnect", 0)
		return nil, err
	}

	notifyPath, writePath, err := a.characteristics(ctx, devicePath)
	if err != nil {
		dev.Call(deviceInterface+".Disconnect", 0)
		return nil, err
	}

	s, err := newSession(a.conn, a.log, address, devicePath, notifyPath, writePath)
	if err != nil {
		dev.Call(deviceInterface+".Disconnect", 0)
		return nil, err
	}
	if err := s.startNotify(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (a *Adapter) devicePath(address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", a.path, strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
}

func (a *Adapter) waitServicesResolved(ctx context.Context, dev dbus.BusObject) error {
	for {
		v, err := dev.GetProperty(deviceInterface + ".ServicesResolved")
		if err != nil {
			return err
		}
		if resolved, _ := v.Value().(bool); resolved {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("services not resolved: %w", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (a *Adapter) characteristics(ctx context.Context, devicePath dbus.ObjectPath) (notify, write dbus.ObjectPath, err error) {
	objects, err := a.managedObjects(ctx)
	if err != nil {
		return "", "", err
	}
	for path, ifaces := range objects {
		props, ok := ifaces[gattCharInterface]
		if !ok || !strings.HasPrefix(string(path), string(devicePath)+"/") {
			continue
		}
		uuid, _ := props["UUID"].Value().(string)
		switch strings.ToLower(uuid) {
		case NotifyUUID:
			notify = path
		case WriteUUID:
			write = path
		}
	}
	if notify == "" || write == "" {
		return "", "", errors.New("walking pad characteristics not found, is this a WalkingPad?")
	}
	return notify, write, nil
}

func isDBusError(err error, name string) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name == name
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) {
		return dbusErrPtr.Name == name
	}
	return false
}
