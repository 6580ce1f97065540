package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"shortscap/internal/config"
	"shortscap/internal/logger"
)

// fakeDriver scripts the browser side of a session.
type fakeDriver struct {
	opened   []string
	waits    []string
	clicks   []string
	advances int
	quits    int

	openErr    error
	waitErr    map[string]error // by selector
	clickErr   error
	advanceErr func(n int) error

	// state returned by the playback probe; playCalls counts force-play evals.
	duration  float64
	positions []float64 // consumed one per probe; last value repeats
	posIdx    int
	playCalls int
	evalErr   error
}

func (d *fakeDriver) Open(ctx context.Context, url string) error {
	d.opened = append(d.opened, url)
	return d.openErr
}

func (d *fakeDriver) WaitForElement(ctx context.Context, selector string, timeout time.Duration) error {
	d.waits = append(d.waits, selector)
	if err, ok := d.waitErr[selector]; ok {
		return err
	}
	return nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string) error {
	d.clicks = append(d.clicks, selector)
	return d.clickErr
}

func (d *fakeDriver) SendAdvanceKey(ctx context.Context) error {
	d.advances++
	if d.advanceErr != nil {
		return d.advanceErr(d.advances)
	}
	return nil
}

func (d *fakeDriver) Eval(ctx context.Context, js string) (json.RawMessage, error) {
	if d.evalErr != nil {
		return nil, d.evalErr
	}
	if strings.Contains(js, "play()") {
		d.playCalls++
		return json.RawMessage(`true`), nil
	}
	pos := 0.0
	if len(d.positions) > 0 {
		pos = d.positions[d.posIdx]
		if d.posIdx < len(d.positions)-1 {
			d.posIdx++
		}
	}
	raw := fmt.Sprintf(`{"duration":%g,"current":%g}`, d.duration, pos)
	return json.RawMessage(raw), nil
}

func (d *fakeDriver) Quit() error {
	d.quits++
	return nil
}

// fastBehavior zeroes every pacing knob so Run completes instantly.
func fastBehavior() config.Behavior {
	b := config.Default()
	b.PageLoadWait = config.Range{}
	b.BetweenActions = config.Range{}
	b.IdleProbability = 0
	b.IdleRange = config.Range{}
	return b
}

// newTestSession builds a Session with instant sleeps, instant pacing and a
// clock that only the test advances.
func newTestSession(b config.Behavior, drv Driver, seed int64) (*Session, *[]time.Duration) {
	s := New(b, drv, logger.New(io.Discard, logger.LevelError), rand.New(rand.NewSource(seed)))
	slept := &[]time.Duration{}
	s.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	s.pace = func(ctx context.Context) error { return ctx.Err() }
	return s, slept
}

func TestResolveDuration(t *testing.T) {
	const (
		max      = 120.0
		fallback = 30.0
	)
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"negative", -1, fallback},
		{"zero", 0, fallback},
		{"over max", 121, fallback},
		{"typical", 45, 45},
		{"exactly max", 120, 120},
		{"tiny", 0.5, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveDuration(tt.in, max, fallback); got != tt.want {
				t.Errorf("resolveDuration(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFullWatch_BoundedWhenPositionStalls(t *testing.T) {
	drv := &fakeDriver{duration: 40, positions: []float64{0}}
	b := fastBehavior()
	b.FullWatchGrace = 10

	s, _ := newTestSession(b, drv, 1)
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }
	paces := 0
	s.pace = func(ctx context.Context) error {
		clock = clock.Add(time.Second)
		paces++
		return nil
	}

	if err := s.watch(context.Background(), watchFull); err != nil {
		t.Fatalf("watch: %v", err)
	}
	// Elapsed wall clock must stay within duration + grace (plus one poll).
	if paces > 51 {
		t.Errorf("full watch polled %d times, want <= 51 (duration 40 + grace 10)", paces)
	}
	if paces < 50 {
		t.Errorf("full watch gave up after %d polls, want to exhaust the grace window", paces)
	}
}

func TestFullWatch_StopsWhenPositionReachesEnd(t *testing.T) {
	drv := &fakeDriver{duration: 30, positions: []float64{0, 10, 29.7}}
	s, _ := newTestSession(fastBehavior(), drv, 1)
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }
	paces := 0
	s.pace = func(ctx context.Context) error {
		clock = clock.Add(time.Second)
		paces++
		return nil
	}

	if err := s.watch(context.Background(), watchFull); err != nil {
		t.Fatalf("watch: %v", err)
	}
	// The duration read consumes the first probe; the loop then sees 10,
	// paces once, and stops at 29.7 >= 29.5.
	if paces != 1 {
		t.Errorf("paced %d times, want 1", paces)
	}
}

func TestFullWatch_UnknownDurationUsesFallback(t *testing.T) {
	drv := &fakeDriver{duration: 0, positions: []float64{100}}
	b := fastBehavior()
	s, _ := newTestSession(b, drv, 1)

	// Position 100 >= fallback(30)-0.5 immediately, so no pacing happens.
	if err := s.watch(context.Background(), watchFull); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if drv.playCalls != 1 {
		t.Errorf("playCalls = %d, want 1", drv.playCalls)
	}
}

func TestHalfWatch_SleepsAroundMidpoint(t *testing.T) {
	drv := &fakeDriver{duration: 40}
	s, slept := newTestSession(fastBehavior(), drv, 1)

	if err := s.watch(context.Background(), watchHalf); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(*slept) != 1 {
		t.Fatalf("recorded %d sleeps, want 1", len(*slept))
	}
	got := (*slept)[0].Seconds()
	// duration/2 * U(0.8, 1.2) for duration 40 is [16, 24].
	if got < 16 || got > 24 {
		t.Errorf("half-watch slept %.2fs, want within [16, 24]", got)
	}
}

func TestRun_AllSkipsWhenWatchProbabilityZero(t *testing.T) {
	drv := &fakeDriver{
		waitErr: map[string]error{consentSelector: ErrTimedOut},
	}
	b := fastBehavior()
	b.WatchProbability = 0

	s, slept := newTestSession(b, drv, 42)
	if err := s.Run(context.Background(), 10); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if drv.advances != 10 {
		t.Errorf("advanced %d times, want 10", drv.advances)
	}
	if drv.playCalls != 0 {
		t.Errorf("playCalls = %d, want 0 (everything skipped)", drv.playCalls)
	}
	// Only the page-load and between-actions sleeps remain, all zero here.
	for _, d := range *slept {
		if d != 0 {
			t.Errorf("unexpected non-zero sleep %v in skip-only session", d)
		}
	}
	if drv.quits != 1 {
		t.Errorf("quits = %d, want 1", drv.quits)
	}
}

func TestRun_AllFullWatches(t *testing.T) {
	drv := &fakeDriver{
		duration:  20,
		positions: []float64{25}, // already past the end, every watch returns at once
		waitErr:   map[string]error{consentSelector: ErrTimedOut},
	}
	b := fastBehavior()
	b.WatchProbability = 1.0
	b.HalfWatchProbability = 0.0

	s, _ := newTestSession(b, drv, 7)
	if err := s.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if drv.playCalls != 3 {
		t.Errorf("playCalls = %d, want 3 (every item full-watched)", drv.playCalls)
	}
	if drv.advances != 3 {
		t.Errorf("advanced %d times, want 3", drv.advances)
	}
	if drv.quits != 1 {
		t.Errorf("quits = %d, want 1", drv.quits)
	}
}

func TestRun_QuitsOnOpenError(t *testing.T) {
	drv := &fakeDriver{openErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	s, _ := newTestSession(fastBehavior(), drv, 1)

	err := s.Run(context.Background(), 5)
	if err == nil {
		t.Fatal("expected open error to propagate")
	}
	if drv.quits != 1 {
		t.Errorf("quits = %d, want 1 (driver must be released on failure)", drv.quits)
	}
	if drv.advances != 0 {
		t.Errorf("advanced %d times, want 0", drv.advances)
	}
}

func TestRun_MidLoopDriverErrorAborts(t *testing.T) {
	drv := &fakeDriver{
		waitErr: map[string]error{consentSelector: ErrTimedOut},
		advanceErr: func(n int) error {
			if n == 2 {
				return errors.New("tab crashed")
			}
			return nil
		},
	}
	b := fastBehavior()
	b.WatchProbability = 0

	s, _ := newTestSession(b, drv, 1)
	err := s.Run(context.Background(), 10)
	if err == nil {
		t.Fatal("expected mid-loop driver error to propagate")
	}
	if drv.advances != 2 {
		t.Errorf("advanced %d times, want 2 (session aborts on failure)", drv.advances)
	}
	if drv.quits != 1 {
		t.Errorf("quits = %d, want 1", drv.quits)
	}
}

func TestRun_WaitForPlayableItemFailureIsFatal(t *testing.T) {
	drv := &fakeDriver{
		waitErr: map[string]error{
			consentSelector: ErrTimedOut,
			videoSelector:   fmt.Errorf("%w: video", ErrTimedOut),
		},
	}
	s, _ := newTestSession(fastBehavior(), drv, 1)

	err := s.Run(context.Background(), 5)
	if err == nil {
		t.Fatal("expected error when no playable item appears")
	}
	if drv.quits != 1 {
		t.Errorf("quits = %d, want 1", drv.quits)
	}
}

func TestDismissConsent_Branches(t *testing.T) {
	t.Run("handled", func(t *testing.T) {
		drv := &fakeDriver{}
		s, slept := newTestSession(fastBehavior(), drv, 1)
		if got := s.dismissConsent(context.Background()); got != ConsentHandled {
			t.Errorf("got %v, want handled", got)
		}
		if len(drv.clicks) != 1 {
			t.Errorf("clicks = %d, want 1", len(drv.clicks))
		}
		if len(*slept) != 1 || (*slept)[0] != consentSettle {
			t.Errorf("expected one settle sleep of %v, got %v", consentSettle, *slept)
		}
	})

	t.Run("not found", func(t *testing.T) {
		drv := &fakeDriver{waitErr: map[string]error{consentSelector: ErrTimedOut}}
		s, _ := newTestSession(fastBehavior(), drv, 1)
		if got := s.dismissConsent(context.Background()); got != ConsentNotFound {
			t.Errorf("got %v, want not found", got)
		}
		if len(drv.clicks) != 0 {
			t.Errorf("clicked despite missing prompt")
		}
	})

	t.Run("error ignored", func(t *testing.T) {
		drv := &fakeDriver{clickErr: errors.New("element detached")}
		s, _ := newTestSession(fastBehavior(), drv, 1)
		if got := s.dismissConsent(context.Background()); got != ConsentError {
			t.Errorf("got %v, want error ignored", got)
		}
	})
}

func TestMaybeIdle_RateConverges(t *testing.T) {
	b := fastBehavior()
	b.IdleProbability = 0.3
	b.IdleRange = config.Range{Min: 1, Max: 1}

	drv := &fakeDriver{}
	s, slept := newTestSession(b, drv, 99)

	const trials = 20000
	for i := 0; i < trials; i++ {
		if err := s.maybeIdle(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	rate := float64(len(*slept)) / trials
	if math.Abs(rate-0.3) > 0.02 {
		t.Errorf("idle rate %.3f, want 0.3 +/- 0.02", rate)
	}
}

func TestRun_Cancellation(t *testing.T) {
	drv := &fakeDriver{waitErr: map[string]error{consentSelector: ErrTimedOut}}
	b := fastBehavior()
	b.WatchProbability = 0

	s, _ := newTestSession(b, drv, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if drv.quits != 1 {
		t.Errorf("quits = %d, want 1", drv.quits)
	}
}
