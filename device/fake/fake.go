// Package fake provides an in-memory walking pad for tests and for running the service without hardware.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/walkingpad-controller/device"
)

const stepsPerMeter = 1.35

// Pad implements device.Session. Status readings are either taken from a queue
// set up with QueueStatus or, when simulating, integrated from the belt speed.
type Pad struct {
	mu           sync.Mutex
	address      string
	mode         device.Mode
	running      bool
	speed        uint32
	status       device.Status
	queued       []device.Status
	calls        []string
	failures     map[string]error
	simulate     bool
	lastAdvance  time.Time
	meters       float64
	disconnected chan struct{}
	closeOnce    sync.Once
	holds        map[string]*hold
	inFlight     int
	overlapped   bool
}

type hold struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func NewPad(address string) *Pad {
	return &Pad{
		address:      address,
		failures:     map[string]error{},
		holds:        map[string]*hold{},
		disconnected: make(chan struct{}),
	}
}

// NewSimulatedPad returns a pad whose odometer advances in real time while the belt runs.
func NewSimulatedPad(address string) *Pad {
	p := NewPad(address)
	p.simulate = true
	return p
}

// PushPad is a Pad that also pushes readings to a subscriber.
type PushPad struct {
	*Pad
	subMu      sync.Mutex
	subscriber func(device.Status)
}

func NewPushPad(address string) *PushPad {
	return &PushPad{Pad: NewPad(address)}
}

func (p *PushPad) Subscribe(fn func(device.Status)) error {
	if err := p.call("Subscribe", "Subscribe"); err != nil {
		return err
	}
	p.subMu.Lock()
	p.subscriber = fn
	p.subMu.Unlock()
	return nil
}

// Emit pushes a reading to the subscriber, if there is one.
func (p *PushPad) Emit(st device.Status) {
	p.mu.Lock()
	p.status = st
	p.mu.Unlock()

	p.subMu.Lock()
	fn := p.subscriber
	p.subMu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// FailOn makes every following call of op ("SetMode", "StartBelt", "StopBelt",
// "SetSpeed", "AskStats", "Subscribe") return err. A nil err clears the failure.
func (p *Pad) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// Hold makes the next call of op block until release is called. entered is
// closed once that call has started.
func (p *Pad) Hold(op string) (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	p.mu.Lock()
	p.holds[op] = h
	p.mu.Unlock()
	return h.entered, func() {
		h.once.Do(func() { close(h.release) })
	}
}

// Overlapped reports whether Close was called while another call was still in progress.
func (p *Pad) Overlapped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlapped
}

// QueueStatus queues readings returned by AskStats, in order.
func (p *Pad) QueueStatus(st ...device.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued = append(p.queued, st...)
}

// Calls returns the calls made so far, formatted like "SetSpeed(25)".
func (p *Pad) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *Pad) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

func (p *Pad) Speed() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

func (p *Pad) Mode() device.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *Pad) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Status returns the last reading the pad produced.
func (p *Pad) Status() device.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Drop simulates the link going away.
func (p *Pad) Drop() {
	p.closeOnce.Do(func() { close(p.disconnected) })
}

func (p *Pad) Address() string {
	return p.address
}

func (p *Pad) SetMode(ctx context.Context, mode device.Mode) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if err := p.call("SetMode", fmt.Sprintf("SetMode(%s)", mode)); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	p.mode = mode
	if mode == device.ModeStandby {
		p.running = false
		p.speed = 0
	}
	return nil
}

func (p *Pad) StartBelt(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if err := p.call("StartBelt", "StartBelt"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	p.running = true
	if p.speed == 0 {
		p.speed = 10
	}
	return nil
}

func (p *Pad) StopBelt(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if err := p.call("StopBelt", "StopBelt"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	p.running = false
	p.speed = 0
	return nil
}

func (p *Pad) SetSpeed(ctx context.Context, tenths int) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if err := p.call("SetSpeed", fmt.Sprintf("SetSpeed(%d)", tenths)); err != nil {
		return err
	}
	if tenths < 0 {
		return fmt.Errorf("invalid speed %d", tenths)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	p.speed = uint32(tenths)
	return nil
}

func (p *Pad) AskStats(ctx context.Context) (device.Status, error) {
	if err := p.check(ctx); err != nil {
		return device.Status{}, err
	}
	if err := p.call("AskStats", "AskStats"); err != nil {
		return device.Status{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queued) > 0 {
		p.status = p.queued[0]
		p.queued = p.queued[1:]
		return p.status, nil
	}
	if p.simulate {
		p.advance()
	}
	return p.status, nil
}

func (p *Pad) Disconnected() <-chan struct{} {
	return p.disconnected
}

func (p *Pad) Close() error {
	p.mu.Lock()
	p.calls = append(p.calls, "Close")
	if p.inFlight > 0 {
		p.overlapped = true
	}
	p.mu.Unlock()
	p.Drop()
	return nil
}

func (p *Pad) check(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.disconnected:
		return device.ErrDisconnected
	default:
		return nil
	}
}

func (p *Pad) call(op, desc string) error {
	p.mu.Lock()
	p.calls = append(p.calls, desc)
	err := p.failures[op]
	h := p.holds[op]
	delete(p.holds, op)
	if h != nil {
		p.inFlight++
	}
	p.mu.Unlock()

	if h != nil {
		close(h.entered)
		<-h.release
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}
	return err
}

// advance integrates distance and steps up to now. Must hold p.mu.
func (p *Pad) advance() {
	now := time.Now()
	if !p.simulate {
		p.lastAdvance = now
		return
	}
	if !p.lastAdvance.IsZero() && p.running {
		elapsed := now.Sub(p.lastAdvance).Seconds()
		p.meters += float64(p.speed) / 10 / 3.6 * elapsed
		p.status.Distance = uint32(p.meters / 10)
		p.status.Steps = uint32(p.meters * stepsPerMeter)
	}
	p.status.Speed = 0
	if p.running {
		p.status.Speed = p.speed
	}
	p.lastAdvance = now
}

// Discoverer hands out sessions for a single pad.
type Discoverer struct {
	mu         sync.Mutex
	address    string
	name       string
	byAddress  bool
	byName     bool
	connectErr error
	lookups    []string
	newSession func(address string) device.Session
}

// NewDiscoverer returns a discoverer that finds the pad both by address and by name.
// newSession is called on every Connect.
func NewDiscoverer(address string, newSession func(address string) device.Session) *Discoverer {
	return &Discoverer{
		address:    address,
		name:       device.DefaultName,
		byAddress:  true,
		byName:     true,
		newSession: newSession,
	}
}

// SetVisible controls which lookups succeed.
func (d *Discoverer) SetVisible(byAddress, byName bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byAddress = byAddress
	d.byName = byName
}

func (d *Discoverer) SetConnectError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
}

// Lookups returns the lookups made so far, like "address:AA:BB" or "name:WalkingPad".
func (d *Discoverer) Lookups() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lookups...)
}

func (d *Discoverer) FindByAddress(ctx context.Context, address string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups = append(d.lookups, "address:"+address)
	if !d.byAddress || address != d.address {
		return "", device.ErrNotFound
	}
	return d.address, nil
}

func (d *Discoverer) FindByName(ctx context.Context, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups = append(d.lookups, "name:"+name)
	if !d.byName || name != d.name {
		return "", device.ErrNotFound
	}
	return d.address, nil
}

func (d *Discoverer) Connect(ctx context.Context, address string) (device.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	return d.newSession(address), nil
}
