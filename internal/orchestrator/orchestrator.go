// Package orchestrator runs the capture cycles: each cycle pairs one
// concurrent capture task with one interaction session under a shared
// cancellation token, and cycles never overlap.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"shortscap/internal/capture"
	"shortscap/internal/config"
	"shortscap/internal/logger"
	"shortscap/internal/progress"
	"shortscap/internal/session"
)

const (
	// defaultWarmUp is the fixed delay between capture start and session
	// start. Best-effort ordering, not a rendezvous.
	defaultWarmUp = 2 * time.Second
	// defaultInterCycle separates consecutive cycles.
	defaultInterCycle = 3 * time.Second
)

// DriverFactory builds a fresh browser driver for one cycle.
type DriverFactory func(ctx context.Context) (session.Driver, error)

// Cycle records one completed capture+interaction round.
type Cycle struct {
	Index       int
	PcapPath    string
	PacketCount int
	StartedAt   time.Time
	EndedAt     time.Time
}

// Orchestrator wires a capture controller and a driver factory into a run of
// sequential cycles. Fill the exported fields and call RunAll once.
type Orchestrator struct {
	Behavior   config.Behavior
	Controller *capture.Controller
	NewDriver  DriverFactory
	Log        *logger.Logger
	RNG        *rand.Rand

	OutDir string
	Prefix string
	Cycles int
	Items  int
	Quiet  bool

	// Zero means the defaults above.
	WarmUp     time.Duration
	InterCycle time.Duration

	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	runSession func(ctx context.Context, drv session.Driver, items int) error
}

func (o *Orchestrator) init() {
	if o.WarmUp == 0 {
		o.WarmUp = defaultWarmUp
	}
	if o.InterCycle == 0 {
		o.InterCycle = defaultInterCycle
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.runSession == nil {
		o.runSession = func(ctx context.Context, drv session.Driver, items int) error {
			return session.New(o.Behavior, drv, o.Log, o.RNG).Run(ctx, items)
		}
	}
}

// RunAll executes every cycle in order. On interrupt (context cancellation)
// the current cycle's capture is still signaled, joined and flushed before
// RunAll returns the context error.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	o.init()
	token := capture.NewToken()

	for c := 1; c <= o.Cycles; c++ {
		o.Log.Infof("============================================================")
		o.Log.Infof("cycle %d/%d", c, o.Cycles)
		o.Log.Infof("============================================================")

		cyc, err := o.runCycle(ctx, token, c)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				o.Log.Warnf("interrupted during cycle %d", c)
				return err
			}
			return fmt.Errorf("cycle %d: %w", c, err)
		}

		o.Log.Infof("cycle %d completed: %d packets -> %s (%.1fs)",
			cyc.Index, cyc.PacketCount, cyc.PcapPath,
			cyc.EndedAt.Sub(cyc.StartedAt).Seconds())

		if c < o.Cycles {
			if err := o.sleep(ctx, o.InterCycle); err != nil {
				return err
			}
		}
	}
	return nil
}

// runCycle runs one capture+session pair. Whatever happens after the capture
// task is spawned, the token is signaled and the task joined before return,
// so the cycle's pcap file is complete (possibly partial in content, never in
// form) on every path.
func (o *Orchestrator) runCycle(ctx context.Context, token *capture.Token, index int) (Cycle, error) {
	token.Clear()
	cyc := Cycle{
		Index:     index,
		PcapPath:  o.pcapPath(index, o.now()),
		StartedAt: o.now(),
	}

	handle := capture.Start(o.Controller, token, cyc.PcapPath)

	sessErr := o.sleep(ctx, o.WarmUp)
	if sessErr == nil {
		select {
		case <-handle.Started():
		default:
			o.Log.Warnf("capture: still not polling after warm-up")
		}

		var drv session.Driver
		drv, sessErr = o.NewDriver(ctx)
		if sessErr != nil {
			sessErr = fmt.Errorf("building driver: %w", sessErr)
		} else {
			p := progress.New(handle.Count, o.Quiet)
			p.Start()
			sessErr = o.runSession(ctx, drv, o.Items)
			p.Stop()
		}
	}

	token.Signal()
	o.Log.Infof("waiting for capture task to finish")
	res := handle.Wait()
	cyc.PacketCount = res.Packets
	cyc.EndedAt = o.now()

	if sessErr != nil {
		return cyc, sessErr
	}
	return cyc, res.Err
}

// pcapPath derives the per-cycle artifact path. The zero-padded cycle index
// keeps paths unique even when two cycles start within the same second.
func (o *Orchestrator) pcapPath(index int, t time.Time) string {
	name := fmt.Sprintf("%s_%s_c%03d.pcap", o.Prefix, t.Format("20060102_150405"), index)
	return filepath.Join(o.OutDir, name)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
