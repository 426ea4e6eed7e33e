package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheCacophonyProject/walkingpad-controller/device"
)

// Connect finds the pad and connects to it. The cached address is tried first,
// then a scan by name. It is a no-op while connected or already connecting.
func (c *Controller) Connect(ctx context.Context) (ConnectionState, error) {
	c.mu.Lock()
	if c.conn == Connected || c.conn == Connecting {
		state := c.conn
		c.mu.Unlock()
		log.Debugf("Connect called while %s", state)
		return state, nil
	}
	c.setConnLocked(Connecting)
	c.mu.Unlock()

	resp, err := c.worker.Submit("connect", c.connect)
	if err != nil {
		c.mu.Lock()
		c.setConnLocked(Failed)
		c.mu.Unlock()
		return Failed, err
	}
	select {
	case err := <-resp:
		return c.ConnectionState(), err
	case <-ctx.Done():
		// The connect job carries on, its outcome shows up in the connection state.
		return Connecting, ctx.Err()
	}
}

// HandleDisconnect drops the current device session. Safe to call any number of times.
func (c *Controller) HandleDisconnect() {
	c.disconnect(nil, Disconnected, "requested")
}

// Address returns the cached device address, empty if there is none.
func (c *Controller) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

func (c *Controller) ConnectionState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// connect runs on the worker.
func (c *Controller) connect(ctx context.Context) error {
	address := c.findDevice(ctx)
	if address == "" {
		log.Error("Could not find walking pad. Ensure it is on and in range.")
		c.mu.Lock()
		c.address = ""
		c.setConnLocked(Failed)
		c.mu.Unlock()
		c.reportEvent(EventDiscoveryFailed, map[string]interface{}{"name": c.cfg.DeviceName})
		return ErrDiscovery
	}
	log.Infof("Device found! Address: %s", address)
	c.mu.Lock()
	c.address = address
	c.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	sess, err := c.discoverer.Connect(cctx, address)
	cancel()
	if err != nil {
		c.connectFailed()
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	log.Debug("Switching to manual mode")
	err = c.dispatcher.Run(ctx, "set_mode", func(ctx context.Context) error {
		return sess.SetMode(ctx, device.ModeManual)
	})
	if err != nil {
		sess.Close()
		c.connectFailed()
		return fmt.Errorf("failed to set manual mode: %w", err)
	}

	source := c.selectSource(sess)

	c.mu.Lock()
	c.dev = sess
	c.source = source
	c.setConnLocked(Connected)
	c.mu.Unlock()

	go c.watchDisconnect(sess)
	log.Infof("Connected to %s, telemetry from %s", address, source.name())
	c.reportEvent(EventConnected, map[string]interface{}{"address": address})
	return nil
}

// findDevice returns the address of the pad or "" if it could not be found.
func (c *Controller) findDevice(ctx context.Context) string {
	c.mu.RLock()
	cached := c.address
	c.mu.RUnlock()

	if cached != "" {
		log.Infof("Attempting to connect to known address: %s", cached)
		actx, cancel := context.WithTimeout(ctx, c.cfg.AddressTimeout)
		address, err := c.discoverer.FindByAddress(actx, cached)
		cancel()
		if err == nil && address != "" {
			return address
		}
		log.Warnf("Could not find device at %s: %v", cached, err)
	}

	log.Infof("Scanning for '%s'", c.cfg.DeviceName)
	nctx, cancel := context.WithTimeout(ctx, c.cfg.NameTimeout)
	defer cancel()
	address, err := c.discoverer.FindByName(nctx, c.cfg.DeviceName)
	if err != nil {
		if !errors.Is(err, device.ErrNotFound) && !errors.Is(err, context.DeadlineExceeded) {
			log.Errorf("Scan failed: %v", err)
		}
		return ""
	}
	return address
}

func (c *Controller) connectFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setConnLocked(Failed)
}

func (c *Controller) watchDisconnect(sess device.Session) {
	<-sess.Disconnected()
	c.disconnect(sess, Disconnected, "link_lost")
}

// disconnect tears down the session. If sess is not nil nothing happens unless
// it is still the current device session.
func (c *Controller) disconnect(sess device.Session, to ConnectionState, reason string) {
	if dev := c.detach(sess, to, reason); dev != nil {
		c.closeDevice(dev)
	}
}

// detach clears the session state and returns the device session that was in
// use, for the caller to close.
func (c *Controller) detach(sess device.Session, to ConnectionState, reason string) device.Session {
	c.mu.Lock()
	if sess != nil && c.dev != sess {
		c.mu.Unlock()
		return nil
	}
	wasConnected := c.conn == Connected
	dev := c.dev
	c.clearSessionLocked()
	c.setConnLocked(to)
	c.mu.Unlock()

	if wasConnected {
		log.Warnf("Device has disconnected (%s)", reason)
		disconnects.WithLabelValues(reason).Inc()
		c.reportEvent(EventDisconnected, map[string]interface{}{"reason": reason})
	}
	return dev
}

// closeDevice closes dev on the worker, after whatever command is running or
// queued for it. Once the worker has stopped nothing else can be using dev, so
// it is closed straight away.
func (c *Controller) closeDevice(dev device.Session) <-chan error {
	resp, err := c.worker.Submit("close", func(ctx context.Context) error {
		return closeSession(dev)
	})
	result := make(chan error, 1)
	switch {
	case err == nil:
		go func() {
			err := <-resp
			if errors.Is(err, ErrWorkerStopped) {
				err = closeSession(dev)
			}
			result <- err
		}()
	case errors.Is(err, ErrWorkerStopped):
		result <- closeSession(dev)
	default:
		log.Warnf("Could not queue closing the device session: %v, retrying", err)
		go func() {
			result <- <-c.closeDevice(dev)
		}()
	}
	return result
}

func closeSession(dev device.Session) error {
	err := dev.Close()
	if err != nil {
		log.Debugf("Error closing device session: %v", err)
	}
	return err
}
