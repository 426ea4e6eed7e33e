/*
session - Connection and session state for a WalkingPad.
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

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
)

var log = logging.NewLogger("info")

// SetLogger replaces the package logger.
func SetLogger(l *logging.Logger) {
	if l != nil {
		log = l
	}
}

// Request is a unit of work for the device worker.
type Request struct {
	RequestTime time.Time
	RequestID   int
	Name        string
	Fn          func(ctx context.Context) error
	Response    chan error // Buffered, receives exactly one result
}

// Worker runs every piece of device I/O and every telemetry update on a single
// goroutine, in the order they were submitted.
type Worker struct {
	requests      chan Request
	mutex         sync.Mutex
	requestCount  int
	submitTimeout time.Duration
	tickInterval  time.Duration
	tick          func(ctx context.Context)

	// stopMu is held for reading by Submit while it enqueues, and for writing
	// by Run while it drains, so nothing can be queued after the drain.
	stopMu   sync.RWMutex
	stopped  bool
	stopping chan struct{}
	done     chan struct{}
}

// NewWorker makes a worker with room for queueSize pending requests. If tick is
// not nil it is run on the worker every tickInterval, between requests.
func NewWorker(queueSize int, submitTimeout, tickInterval time.Duration, tick func(ctx context.Context)) *Worker {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Worker{
		requests:      make(chan Request, queueSize),
		submitTimeout: submitTimeout,
		tickInterval:  tickInterval,
		tick:          tick,
		stopping:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Run processes requests until ctx is cancelled. Requests still queued at that
// point get ErrWorkerStopped.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	var tickC <-chan time.Time
	if w.tick != nil && w.tickInterval > 0 {
		ticker := time.NewTicker(w.tickInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.stop()
			return
		case req := <-w.requests:
			queueDepth.Set(float64(len(w.requests)))
			if ctx.Err() != nil {
				req.Response <- ErrWorkerStopped
				continue
			}
			req.Response <- w.process(ctx, req)
		case <-tickC:
			w.runTick(ctx)
		}
	}
}

// Submit queues fn and returns the channel its result will be sent on.
// If the queue stays full for longer than the submit timeout ErrQueueFull is returned.
func (w *Worker) Submit(name string, fn func(ctx context.Context) error) (<-chan error, error) {
	w.mutex.Lock()
	requestID := w.requestCount
	w.requestCount++
	w.mutex.Unlock()

	req := Request{
		RequestTime: time.Now(),
		RequestID:   requestID,
		Name:        name,
		Fn:          fn,
		Response:    make(chan error, 1),
	}

	w.stopMu.RLock()
	defer w.stopMu.RUnlock()
	if w.stopped {
		return nil, ErrWorkerStopped
	}

	log.Debugf("Adding request '%d' (%s) to the queue", requestID, name)
	timer := time.NewTimer(w.submitTimeout)
	defer timer.Stop()
	select {
	case w.requests <- req:
		queueDepth.Set(float64(len(w.requests)))
		return req.Response, nil
	case <-w.stopping:
		return nil, ErrWorkerStopped
	case <-timer.C:
		log.Warnf("Dropping request '%s', queue is full", name)
		return nil, ErrQueueFull
	}
}

// Do submits fn and waits for its result.
func (w *Worker) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	resp, err := w.Submit(name, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) process(ctx context.Context, req Request) (err error) {
	log.Debugf("Waited %s for request '%d' (%s) to be processed.", time.Since(req.RequestTime), req.RequestID, req.Name)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Request '%s' panicked: %v", req.Name, r)
			err = fmt.Errorf("request '%s' panicked: %v", req.Name, r)
		}
	}()
	return req.Fn(ctx)
}

func (w *Worker) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Worker tick panicked: %v", r)
		}
	}()
	w.tick(ctx)
}

// stop answers everything still queued with ErrWorkerStopped. Submit calls
// blocked on a full queue give up once stopping is closed.
func (w *Worker) stop() {
	close(w.stopping)
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	w.stopped = true
	w.drain()
}

func (w *Worker) drain() {
	for {
		select {
		case req := <-w.requests:
			req.Response <- ErrWorkerStopped
		default:
			queueDepth.Set(0)
			return
		}
	}
}
