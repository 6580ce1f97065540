// Package session drives one simulated Shorts-viewing session: open the feed,
// then watch, half-watch or skip a fixed number of items with human-like
// pacing drawn from the behavior profile.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"shortscap/internal/config"
	"shortscap/internal/logger"
)

const (
	shortsURL     = "https://www.youtube.com/shorts"
	videoSelector = "video"
	// Matches the PT/EN consent button text.
	consentSelector = "//button[contains(., 'Aceitar') or contains(., 'Accept')]"

	videoWait     = 20 * time.Second
	consentWait   = 5 * time.Second
	consentSettle = 1500 * time.Millisecond
)

// stateJS reports the current video's duration and playback position.
// Non-finite values (a video without metadata yet) come back as 0 so duration
// resolution can substitute the fallback.
const stateJS = `(() => {
	const v = document.querySelector('video');
	if (!v) return {duration: 0, current: 0};
	return {
		duration: Number.isFinite(v.duration) ? v.duration : 0,
		current: Number.isFinite(v.currentTime) ? v.currentTime : 0,
	};
})()`

// playJS forces muted playback of the current video.
const playJS = `(() => {
	const v = document.querySelector('video');
	if (v) { v.muted = true; try { v.play(); } catch (e) {} }
	return true;
})()`

type watchMode int

const (
	watchFull watchMode = iota
	watchHalf
)

// Session runs the per-cycle interaction state machine against a Driver.
// Not safe for concurrent use; each cycle runs one Session to completion.
type Session struct {
	behavior config.Behavior
	drv      Driver
	log      *logger.Logger
	rng      *rand.Rand

	// Overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	pace  func(ctx context.Context) error
}

// New creates a Session. rng is the only randomness source used, so a seeded
// source replays a session's decisions deterministically.
func New(behavior config.Behavior, drv Driver, log *logger.Logger, rng *rand.Rand) *Session {
	// Position polls during a full watch run at 1 Hz.
	lim := rate.NewLimiter(rate.Every(time.Second), 1)
	return &Session{
		behavior: behavior,
		drv:      drv,
		log:      log,
		rng:      rng,
		sleep:    sleepCtx,
		now:      time.Now,
		pace:     lim.Wait,
	}
}

// Run opens the feed and plays through items content items, then quits the
// driver. The driver is quit on every exit path; any driver error other than
// the consent dismissal aborts the session and propagates after cleanup.
func (s *Session) Run(ctx context.Context, items int) error {
	defer func() {
		if qerr := s.drv.Quit(); qerr != nil {
			s.log.Warnf("session: quitting driver: %v", qerr)
		}
	}()

	if err := s.open(ctx); err != nil {
		return err
	}
	if err := s.maybeIdle(ctx); err != nil {
		return err
	}

	for i := 1; i <= items; i++ {
		s.log.Infof("session: short %d/%d", i, items)

		if s.rng.Float64() < s.behavior.WatchProbability {
			mode := watchFull
			if s.rng.Float64() < s.behavior.HalfWatchProbability {
				mode = watchHalf
			}
			if err := s.watch(ctx, mode); err != nil {
				return err
			}
		} else {
			s.log.Infof("session:   skip")
		}

		if err := s.drv.SendAdvanceKey(ctx); err != nil {
			return fmt.Errorf("advancing to next item: %w", err)
		}
		if err := s.sleep(ctx, secs(s.behavior.BetweenActions.Sample(s.rng))); err != nil {
			return err
		}
		if err := s.maybeIdle(ctx); err != nil {
			return err
		}
	}

	s.log.Infof("session: finished")
	return nil
}

func (s *Session) open(ctx context.Context) error {
	s.log.Infof("session: opening %s", shortsURL)
	if err := s.drv.Open(ctx, shortsURL); err != nil {
		return fmt.Errorf("opening shorts page: %w", err)
	}
	if err := s.sleep(ctx, secs(s.behavior.PageLoadWait.Sample(s.rng))); err != nil {
		return err
	}

	s.log.Infof("session: consent prompt %s", s.dismissConsent(ctx))

	if err := s.drv.WaitForElement(ctx, videoSelector, videoWait); err != nil {
		return fmt.Errorf("waiting for a playable item: %w", err)
	}
	s.log.Infof("session: shorts loaded")
	return nil
}

// dismissConsent is best-effort: whatever happens here never fails the
// session, but the branch taken is reported for logging and tests.
func (s *Session) dismissConsent(ctx context.Context) ConsentResult {
	err := s.drv.WaitForElement(ctx, consentSelector, consentWait)
	switch {
	case errors.Is(err, ErrTimedOut):
		return ConsentNotFound
	case err != nil:
		s.log.Debugf("session: consent wait: %v", err)
		return ConsentError
	}
	if err := s.drv.Click(ctx, consentSelector); err != nil {
		s.log.Debugf("session: consent click: %v", err)
		return ConsentError
	}
	if err := s.sleep(ctx, consentSettle); err != nil {
		return ConsentError
	}
	return ConsentHandled
}

func (s *Session) watch(ctx context.Context, mode watchMode) error {
	if _, err := s.drv.Eval(ctx, playJS); err != nil {
		return fmt.Errorf("forcing playback: %w", err)
	}

	reported, _, err := s.itemState(ctx)
	if err != nil {
		return err
	}
	d := resolveDuration(reported, s.behavior.MaxDuration, s.behavior.FallbackDuration)

	if mode == watchHalf {
		t := (d / 2) * (0.8 + 0.4*s.rng.Float64())
		s.log.Infof("session:   watch (half) ~%.1fs", t)
		return s.sleep(ctx, secs(t))
	}

	s.log.Infof("session:   watch (full) ~%.1fs", d)
	start := s.now()
	maxWait := d + s.behavior.FullWatchGrace
	for {
		_, pos, err := s.itemState(ctx)
		if err != nil {
			return err
		}
		if pos >= d-0.5 {
			return nil
		}
		// Guards against an item whose position never advances.
		if s.now().Sub(start).Seconds() > maxWait {
			s.log.Debugf("session:   full watch hit grace limit")
			return nil
		}
		if err := s.pace(ctx); err != nil {
			return err
		}
	}
}

func (s *Session) itemState(ctx context.Context) (duration, position float64, err error) {
	raw, err := s.drv.Eval(ctx, stateJS)
	if err != nil {
		return 0, 0, fmt.Errorf("querying playback state: %w", err)
	}
	return gjson.GetBytes(raw, "duration").Float(), gjson.GetBytes(raw, "current").Float(), nil
}

func (s *Session) maybeIdle(ctx context.Context) error {
	if s.rng.Float64() >= s.behavior.IdleProbability {
		return nil
	}
	t := s.behavior.IdleRange.Sample(s.rng)
	s.log.Infof("session:   idle for %.2fs", t)
	return s.sleep(ctx, secs(t))
}

// resolveDuration bounds an item's reported duration to something safe to
// sleep on: unknown (<= 0) and implausibly long values both become fallback.
func resolveDuration(d, max, fallback float64) float64 {
	if d <= 0 || d > max {
		return fallback
	}
	return d
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
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
