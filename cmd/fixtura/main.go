// main is the entry point of the Fixtura CLI.
// It parses the configuration, sets up logging, the fixture store, the optional catalog and
// GeoIP provider, and dispatches the selected command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/fixtura/internal/capture"
	"github.com/woozymasta/fixtura/internal/config"
	"github.com/woozymasta/fixtura/internal/fake"
	"github.com/woozymasta/fixtura/internal/fixture"
	"github.com/woozymasta/fixtura/internal/game"
	"github.com/woozymasta/fixtura/internal/geoip"
	"github.com/woozymasta/fixtura/internal/logger"
	"github.com/woozymasta/fixtura/internal/protocol"
	"github.com/woozymasta/fixtura/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Parse()

	resolver := protocol.NewResolver(game.Registry(cfg.A2S), cfg.Capture.DefaultProtocol)

	if cfg.Command == config.CmdWorker {
		logger.Setup(cfg.Logger.ForWorker())
		return runWorker(resolver)
	}

	logger.Setup(cfg.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, resolver)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return 1
	}
	defer a.Close()

	if cfg.Storage.GenerateCount > 0 {
		n, err := fake.GenerateFixtures(a.fixtures, a.recorder(), cfg.Storage.GenerateCount, nil)
		if err != nil {
			log.Error().Err(err).Msg("Failed to generate fake fixtures")
			return 1
		}
		log.Info().Int("count", n).Str("root", a.fixtures.Root()).Msg("Fake fixtures generated")
		return 0
	}

	if err := a.dispatch(ctx); err != nil {
		log.Error().Err(err).Str("command", cfg.Command).Msg("Command failed")
		return 1
	}

	return 0
}

// runWorker serves exactly one isolated capture over stdin/stdout.
func runWorker(resolver *protocol.Resolver) int {
	if !capture.IsWorkerProcess() {
		fmt.Fprintf(os.Stderr, "the %s command is started by --capture-worker, not by hand\n", config.CmdWorker)
		return 2
	}

	if err := capture.ServeWorker(context.Background(), resolver, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("Worker failed")
		return 1
	}

	return 0
}

type app struct {
	cfg      *config.Config
	fixtures *fixture.Storage
	catalog  *storage.Repository
	geo      *geoip.Provider
	service  *capture.Service
}

func newApp(ctx context.Context, cfg *config.Config, resolver *protocol.Resolver) (*app, error) {
	a := &app{
		cfg:      cfg,
		fixtures: fixture.New(cfg.Fixtures.Root),
	}

	if cfg.Storage.Path != "" {
		repo, err := storage.New(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		a.catalog = repo
	}

	geo, err := geoip.Setup(ctx, cfg.GeoIP)
	if err != nil {
		log.Error().Err(err).Msg("Failed to set up GeoIP database, country detection disabled")
	}
	a.geo = geo

	var opts []capture.ServiceOption
	if a.catalog != nil {
		opts = append(opts, capture.WithRecorder(a.catalog))
	}
	if a.geo != nil {
		opts = append(opts, capture.WithCountryResolver(a.geo))
	}

	a.service = capture.NewService(resolver, newStrategy(cfg), a.fixtures, opts...)

	return a, nil
}

func newStrategy(cfg *config.Config) capture.Strategy {
	if !cfg.Capture.Worker {
		return capture.NewDirectStrategy()
	}

	return capture.NewWorkerStrategy(capture.WorkerOptions{
		Launcher:       capture.Launcher{Args: cfg.WorkerArgs()},
		Timeout:        cfg.Capture.Timeout,
		AttemptTimeout: cfg.Capture.AttemptTimeout,
		MaxRetries:     cfg.Capture.MaxRetries,
		Backoff:        cfg.Capture.Backoff,
	})
}

// recorder returns the catalog as a capture.Recorder, nil when the catalog is disabled.
func (a *app) recorder() capture.Recorder {
	if a.catalog == nil {
		return nil
	}
	return a.catalog
}

func (a *app) Close() {
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing catalog")
		}
	}
	if a.geo != nil {
		if err := a.geo.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing GeoIP provider")
		}
	}
}
