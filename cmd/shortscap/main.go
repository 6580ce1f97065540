// Command shortscap captures labeled VPN traffic while a simulated viewer
// navigates YouTube Shorts, writing one pcap file per cycle.
package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shortscap/internal/capture"
	"shortscap/internal/config"
	"shortscap/internal/driver"
	"shortscap/internal/logger"
	"shortscap/internal/orchestrator"
	"shortscap/internal/session"
)

const (
	ExitSuccess = 0
	ExitError   = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	iface := flag.String("interface", "enp0s8", "network interface to sniff")
	filter := flag.String("filter", "udp port 1194", "BPF capture filter")
	cycles := flag.Int("cycles", 5, "number of capture cycles")
	shorts := flag.Int("shorts", 20, "shorts per cycle")
	outdir := flag.String("outdir", "capturas", "output directory for pcap files")
	prefix := flag.String("prefix", "shorts_traffic", "pcap filename prefix")
	headless := flag.Bool("headless", false, "run chrome in headless mode")
	chromePath := flag.String("chrome-path", "", "chrome binary to launch (optional)")
	chromedriverPath := flag.String("chromedriver-path", "", "alias for --chrome-path (optional)")
	watchProb := flag.Float64("watch-prob", 0.35, "probability (0..1) of watching a short")
	halfWatchProb := flag.Float64("half-watch-prob", 0.45, "probability (0..1) of half-watch when watching")
	maxDuration := flag.Float64("max-duration", 120, "max duration clamp in seconds")
	fallbackDuration := flag.Float64("fallback-duration", 30, "fallback duration in seconds when an item's duration is invalid")
	behaviorPath := flag.String("behavior", "", "path to YAML behavior profile (optional)")
	pollTimeout := flag.Duration("poll-timeout", time.Second, "bounded duration of one capture poll")
	seed := flag.Int64("seed", 0, "random seed (0 = time-based)")
	quiet := flag.Bool("quiet", false, "suppress the capture progress line")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	logLevel := flag.String("log-level", "info", "minimum log level: debug, info, warn, error")
	flag.Parse()

	level := logger.ParseLevel(*logLevel)
	if *verbose {
		level = logger.LevelDebug
	}
	log := logger.New(os.Stderr, level)

	if os.Geteuid() != 0 {
		log.Errorf("packet capture needs raw-socket access, run as root (sudo)")
		return ExitError
	}
	if *cycles < 1 || *shorts < 1 {
		log.Errorf("--cycles and --shorts must be >= 1")
		return ExitError
	}
	if *pollTimeout <= 0 {
		log.Errorf("--poll-timeout must be > 0")
		return ExitError
	}
	if err := os.MkdirAll(*outdir, 0o755); err != nil {
		log.Errorf("creating output directory: %v", err)
		return ExitError
	}

	behavior := config.Default()
	if *behaviorPath != "" {
		b, err := config.LoadBehavior(*behaviorPath)
		if err != nil {
			log.Errorf("%v", err)
			return ExitError
		}
		behavior = b
	}
	// Flags passed explicitly win over the profile.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "watch-prob":
			behavior.WatchProbability = *watchProb
		case "half-watch-prob":
			behavior.HalfWatchProbability = *halfWatchProb
		case "max-duration":
			behavior.MaxDuration = *maxDuration
		case "fallback-duration":
			behavior.FallbackDuration = *fallbackDuration
		}
	})
	behavior = behavior.Normalized()

	execPath := *chromePath
	if execPath == "" {
		execPath = *chromedriverPath
	}

	backend := capture.NewLiveBackend()
	defer backend.Close()

	ctrl := &capture.Controller{
		Backend:     backend,
		Interface:   *iface,
		Filter:      *filter,
		PollTimeout: *pollTimeout,
		Log:         log,
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(rngSeed))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warnf("interrupt received, shutting down")
		cancel()
	}()

	orch := &orchestrator.Orchestrator{
		Behavior:   behavior,
		Controller: ctrl,
		NewDriver: func(ctx context.Context) (session.Driver, error) {
			return driver.New(ctx, driver.Options{Headless: *headless, ExecPath: execPath})
		},
		Log:    log,
		RNG:    rng,
		OutDir: *outdir,
		Prefix: *prefix,
		Cycles: *cycles,
		Items:  *shorts,
		Quiet:  *quiet,
	}

	log.Infof("starting run: %d cycles x %d shorts on %s (filter %q, seed %d)",
		*cycles, *shorts, *iface, *filter, rngSeed)

	if err := orch.RunAll(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Infof("run interrupted, partial captures flushed")
			return ExitSuccess
		}
		log.Errorf("run failed: %v", err)
		return ExitError
	}

	log.Infof("done")
	return ExitSuccess
}
