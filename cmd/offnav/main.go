package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"offnav/internal/api"
	"offnav/internal/config"
	"offnav/internal/log"
	"offnav/internal/mavlink"
	"offnav/internal/mission"
	"offnav/internal/nav"
	"offnav/internal/offboard"
	"offnav/internal/sim"
	"offnav/internal/telemetry"
)

// transport is a flight controller connection: the offboard.Link for
// commands plus a loop feeding telemetry into a sink.
type transport interface {
	offboard.Link
	Run(ctx context.Context, sink telemetry.Sink) error
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run is the whole process; its result is the exit code.
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("offnav", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var configPath, linkKind, endpoint, apiAddr, logLevel, logFile string
	fs.StringVar(&configPath, "config", "configs/offnav.json", "Path to JSON config; empty uses built-in defaults.")
	fs.StringVar(&linkKind, "link", "", "Override link kind (mavlink or sim).")
	fs.StringVar(&endpoint, "endpoint", "", "Override MAVLink endpoint (e.g. udp-server:0.0.0.0:14540).")
	fs.StringVar(&apiAddr, "api-addr", "", "Override status server address (host:port).")
	fs.StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error).")
	fs.StringVar(&logFile, "log-file", "", "Override rotated JSON log file path.")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(stderr, "load config %q: %v\n", configPath, err)
			return 1
		}
		cfg = loaded
	}

	if linkKind != "" {
		cfg.Link.Kind = linkKind
	}
	if endpoint != "" {
		cfg.Link.Endpoint = endpoint
	}
	if apiAddr != "" {
		cfg.API.Addr = apiAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	lg, err := log.New(cfg.LogOptions())
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fly(ctx, cfg, lg); err != nil {
		lg.Error("offnav failed", slog.Any("error", err))
		return 1
	}
	return 0
}

func fly(ctx context.Context, cfg config.AppConfig, lg *log.Logger) error {
	// Listen before anything else opens so a bad address fails the process
	// instead of a running flight.
	var ln net.Listener
	if cfg.API.Addr != "" {
		var err error
		ln, err = net.Listen("tcp", cfg.API.Addr)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
	}

	link, vehicle, err := openLink(cfg, lg)
	if err != nil {
		if ln != nil {
			ln.Close()
		}
		return err
	}

	tracker := nav.NewTracker(cfg.Nav.Tolerance, cfg.Nav.Home, cfg.Plan.First(),
		lg.With(slog.String("component", "nav")))
	ctrl := offboard.New(cfg.OffboardConfig(), link, tracker,
		lg.With(slog.String("component", "offboard")))
	driver := mission.NewDriver(cfg.Plan, tracker, ctrl.Done(),
		lg.With(slog.String("component", "mission")))

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		// Everything else winds down once the sequencer is done.
		defer cancel()
		return ctrl.Run(runCtx)
	})
	g.Go(func() error { return driver.Run(runCtx) })
	g.Go(func() error { return link.Run(runCtx, ctrl) })
	if ln != nil {
		srv := api.NewServer(ctrl, vehicle, lg.With(slog.String("component", "api")))
		g.Go(func() error { return srv.Serve(runCtx, ln) })
	}

	lg.Info("offnav running", slog.String("link", cfg.Link.Kind), slog.String("api", cfg.API.Addr),
		slog.Int("waypoints", len(cfg.Plan.Waypoints)), slog.Any("home", tracker.Home()))

	if err := g.Wait(); err != nil {
		return err
	}

	select {
	case <-ctrl.Done():
		lg.Info("vehicle disarmed at home, exiting")
	default:
		lg.Info("interrupted", slog.String("phase", ctrl.Phase().String()))
	}
	return nil
}

// openLink returns the transport named by cfg.Link.Kind and, for the
// simulator, the vehicle to expose on the status server.
func openLink(cfg config.AppConfig, lg *log.Logger) (transport, api.VehicleSource, error) {
	switch cfg.Link.Kind {
	case config.LinkSim:
		v := sim.New(cfg.SimulatorConfig(), lg.With(slog.String("component", "sim")))
		return v, v, nil
	case config.LinkMavlink:
		l, err := mavlink.Dial(cfg.MavlinkConfig(), lg.With(slog.String("component", "mavlink")))
		if err != nil {
			return nil, nil, err
		}
		return l, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown link kind %q", cfg.Link.Kind)
	}
}
