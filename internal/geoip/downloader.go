// Package geoip annotates captures with the server country using MaxMind GeoLite2 databases.
package geoip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/fixtura/internal/config"
)

var errDownload = errors.New("failed to download GeoIP database")

// Setup makes sure the configured database is present and fresh, then opens it.
// It returns nil without error when GeoIP is not configured.
func Setup(ctx context.Context, cfg config.GeoIP) (*Provider, error) {
	if cfg.Path == "" {
		return nil, nil
	}

	if cfg.URL != "" {
		if err := EnsureDB(ctx, cfg.Path, cfg.URL, cfg.Interval); err != nil {
			return nil, err
		}
	}

	return Open(cfg.Path)
}

// EnsureDB checks if the GeoIP database exists at the specified path and if it is recent enough.
// If the file is missing or older than maxAge, it downloads a new copy from the provided URL.
func EnsureDB(ctx context.Context, path, url string, maxAge time.Duration) error {
	info, err := os.Stat(path)
	switch {
	case err == nil && time.Since(info.ModTime()) < maxAge:
		log.Debug().Str("path", path).Msg("GeoIP database is up to date")
		return nil
	case err == nil:
		log.Info().Str("path", path).Msg("GeoIP database is outdated, updating")
	case errors.Is(err, os.ErrNotExist):
		log.Info().Str("path", path).Msg("GeoIP database missing, downloading")
	default:
		return err
	}

	return download(ctx, path, url)
}

// download fetches url into path through a temporary file in the same directory.
func download(ctx context.Context, path, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errDownload, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", errDownload, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	out, err := os.CreateTemp(filepath.Dir(path), ".geoip-*.tmp")
	if err != nil {
		return err
	}
	tmp := out.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: %v", errDownload, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
