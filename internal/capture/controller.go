package capture

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"shortscap/internal/logger"
)

// Controller runs the poll loop for one cycle at a time: capture in bounded
// slices until the token is signaled, then write the accumulated packets out.
// Cycles are strictly sequential, so one Controller is reused across a run.
type Controller struct {
	Backend     Backend
	Interface   string
	Filter      string
	PollTimeout time.Duration
	Log         *logger.Logger

	// WriteFile overrides pcap serialization; nil means WritePcap.
	WriteFile func(path string, packets []Packet) error

	count atomic.Int64
}

// Run polls the backend until token is signaled, then serializes everything
// captured to path. Transient poll errors are logged and polling continues; a
// setup error stops the loop early but the partial capture is still written.
// The returned count is what went into the file.
func (c *Controller) Run(token *Token, path string) (int, error) {
	write := c.WriteFile
	if write == nil {
		write = WritePcap
	}
	c.count.Store(0)

	c.Log.Infof("capture: starting on %s (filter %q)", c.Interface, c.Filter)

	var captured []Packet
	var loopErr error
	for !token.Signaled() {
		pkts, err := c.Backend.CaptureFor(c.Interface, c.Filter, c.PollTimeout)
		if len(pkts) > 0 {
			captured = append(captured, pkts...)
			c.count.Store(int64(len(captured)))
		}
		if err != nil {
			if errors.Is(err, ErrSetup) {
				c.Log.Errorf("capture: unrecoverable: %v", err)
				loopErr = err
				break
			}
			c.Log.Warnf("capture: poll error, continuing: %v", err)
		}
	}

	if err := write(path, captured); err != nil {
		return len(captured), fmt.Errorf("serializing capture: %w", err)
	}
	c.Log.Infof("capture: finished, saved %d packets to %s", len(captured), path)
	return len(captured), loopErr
}

// Count returns how many packets the in-progress (or last) Run has
// accumulated. Safe to call from other goroutines.
func (c *Controller) Count() int {
	return int(c.count.Load())
}

// Result is the outcome of one capture task.
type Result struct {
	Path    string
	Packets int
	Err     error
}

// Handle is the join point for a spawned capture task. Wait returns only
// after the output file write has completed, so a joined cycle's artifact is
// guaranteed to be on disk.
type Handle struct {
	ctrl     *Controller
	started  chan struct{}
	done     chan Result
	result   Result
	received bool
}

// Start spawns the capture loop as a goroutine and returns its handle.
func Start(ctrl *Controller, token *Token, path string) *Handle {
	h := &Handle{
		ctrl:    ctrl,
		started: make(chan struct{}),
		done:    make(chan Result, 1),
	}
	go func() {
		close(h.started)
		n, err := ctrl.Run(token, path)
		h.done <- Result{Path: path, Packets: n, Err: err}
	}()
	return h
}

// Started is closed once the capture goroutine has begun polling.
func (h *Handle) Started() <-chan struct{} {
	return h.started
}

// Count returns the packets accumulated so far.
func (h *Handle) Count() int {
	return h.ctrl.Count()
}

// Wait blocks until the capture task has returned and its file is written.
// Only the spawning goroutine may call Wait.
func (h *Handle) Wait() Result {
	if !h.received {
		h.result = <-h.done
		h.received = true
	}
	return h.result
}
