// Package maintenance provide tools for cleaning the catalog and refreshing stored fixtures
package maintenance

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/woozymasta/fixtura/internal/capture"
	"github.com/woozymasta/fixtura/internal/fixture"
	"github.com/woozymasta/fixtura/internal/models"
	"golang.org/x/time/rate"
)

// Catalog is the part of the catalog repository used by maintenance tasks.
type Catalog interface {
	GetCapturesSubset(protocol string) ([]models.CatalogEntry, error)
	DeleteCapture(protocol, version, ip string, port int) error
}

// Capturer captures a single server, usually a *capture.Service.
type Capturer interface {
	Capture(ctx context.Context, ip string, port int, protocolName string, opts capture.Options) (string, error)
}

// Prune removes catalog entries of the given protocol (all when empty) whose fixture file
// is missing or no longer loads. It returns the number of removed entries.
func Prune(catalog Catalog, fixtures *fixture.Storage, protocol string) (int, error) {
	entries, err := catalog.GetCapturesSubset(protocol)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch catalog entries: %w", err)
	}

	removed := 0
	for _, e := range entries {
		path := e.Path
		if path == "" {
			path = fixtures.Path(e.Protocol, e.Version, e.IP, e.Port)
		}
		if _, ok := fixtures.LoadFile(path); ok {
			continue
		}

		log.Debug().
			Str("protocol", e.Protocol).
			Str("ip", e.IP).
			Int("port", e.Port).
			Str("path", path).
			Msg("Fixture missing or unreadable, deleting catalog entry")

		if err := catalog.DeleteCapture(e.Protocol, e.Version, e.IP, e.Port); err != nil {
			return removed, fmt.Errorf("failed to delete catalog entry %s:%d: %w", e.IP, e.Port, err)
		}
		removed++
	}

	return removed, nil
}

// RecaptureOptions tune Recapture.
type RecaptureOptions struct {
	// Progress receives a progress bar; nil disables it.
	Progress io.Writer

	// Workers bounds concurrent captures.
	Workers int

	// Rate limits capture starts per second; zero or negative means unlimited.
	Rate float64
}

// Report summarizes a Recapture run.
type Report struct {
	Succeeded int64
	Failed    int64
}

// Recapture captures every entry again through a bounded pool. It stops submitting new work
// when ctx ends and returns ctx.Err() in that case together with the partial report.
func Recapture(ctx context.Context, svc Capturer, entries []models.CatalogEntry, opts RecaptureOptions) (Report, error) {
	var (
		report Report
		wg     sync.WaitGroup
	)

	if len(entries) == 0 {
		return report, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	bar := newProgressBar(len(entries), opts.Progress)
	defer func() { _ = bar.Finish() }()

	pool, err := ants.NewPoolWithFunc(
		workers,
		func(i any) {
			defer wg.Done()
			defer func() { _ = bar.Add(1) }()

			e := i.(models.CatalogEntry)
			if _, err := svc.Capture(ctx, e.IP, e.Port, e.Protocol, capture.Options{}); err != nil {
				atomic.AddInt64(&report.Failed, 1)
				log.Debug().Err(err).Str("protocol", e.Protocol).Str("ip", e.IP).Int("port", e.Port).Msg("Recapture failed")
				return
			}
			atomic.AddInt64(&report.Succeeded, 1)
		},
		ants.WithPreAlloc(true),
		ants.WithExpiryDuration(time.Minute),
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(p any) {
			atomic.AddInt64(&report.Failed, 1)
			log.Error().Msgf("Recapture worker panic: %v", p)
		}),
	)
	if err != nil {
		return report, fmt.Errorf("failed to create recapture pool: %w", err)
	}
	defer pool.Release()

	log.Info().Int("entries", len(entries)).Int("workers", workers).Msg("Recapture started")

	var runErr error
	for _, e := range entries {
		if err := limiter.Wait(ctx); err != nil {
			runErr = err
			break
		}

		wg.Add(1)
		if err := pool.Invoke(e); err != nil {
			wg.Done()
			atomic.AddInt64(&report.Failed, 1)
			log.Error().Err(err).Msg("Failed to submit recapture task")
		}
	}
	wg.Wait()

	if runErr == nil {
		runErr = ctx.Err()
	}

	log.Info().
		Int64("succeeded", report.Succeeded).
		Int64("failed", report.Failed).
		Msg("Recapture finished")

	return report, runErr
}

func newProgressBar(total int, w io.Writer) *progressbar.ProgressBar {
	if w == nil {
		w = io.Discard
	}

	return progressbar.NewOptions64(
		int64(total),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetDescription("recapture"),
		progressbar.OptionClearOnFinish(),
	)
}
