package capture

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/fixtura/internal/fixture"
	"github.com/woozymasta/fixtura/internal/models"
	"github.com/woozymasta/fixtura/internal/protocol"
	"github.com/woozymasta/fixtura/internal/vars"
	"github.com/woozymasta/fixtura/internal/version"
)

// Extra metadata keys added by Service.
const (
	MetaCaptureID = "capture_id"
	MetaGenerator = "generator"
	MetaLabels    = "labels"
	MetaCountry   = "country"
)

// Recorder keeps a catalog of stored captures.
type Recorder interface {
	UpsertCapture(entry models.CatalogEntry) error
}

// CountryResolver maps an IP to an ISO country code, empty when unknown.
type CountryResolver interface {
	GetCountryCode(ip string) string
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithRecorder records every stored capture in the catalog.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// WithCountryResolver annotates captures with the server country.
func WithCountryResolver(c CountryResolver) ServiceOption {
	return func(s *Service) { s.countries = c }
}

// Service resolves a handler, runs the capture strategy and stores the fixture.
type Service struct {
	resolver  *protocol.Resolver
	strategy  Strategy
	store     *fixture.Storage
	recorder  Recorder
	countries CountryResolver
}

// NewService creates a Service.
func NewService(resolver *protocol.Resolver, strategy Strategy, store *fixture.Storage, opts ...ServiceOption) *Service {
	s := &Service{
		resolver: resolver,
		strategy: strategy,
		store:    store,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Store returns the fixture storage the service writes to.
func (s *Service) Store() *fixture.Storage {
	return s.store
}

// Capture queries the server and writes the fixture, returning its path.
// An empty protocolName means protocol.Auto.
func (s *Service) Capture(ctx context.Context, ip string, port int, protocolName string, opts Options) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" || port < 1 || port > 65535 {
		return "", fmt.Errorf("%w: %q:%d", ErrInvalidAddress, ip, port)
	}
	if protocolName == "" {
		protocolName = protocol.Auto
	}

	handler, err := s.resolver.Resolve(protocolName, ip, port)
	if err != nil {
		return "", err
	}

	opts.ProtocolName = protocolName
	addr := models.ServerAddress{IP: ip, Port: port}

	start := time.Now()
	result, err := s.strategy.Capture(ctx, handler, addr, opts)
	if err != nil {
		return "", err
	}

	result = s.annotate(result, ip, opts)

	key := strings.ToLower(handlerName(handler))
	ver := version.Normalize(handler.Version(result.ServerInfo))

	path, err := s.store.Save(key, ver, ip, port, result)
	if err != nil {
		return "", err
	}

	if s.recorder != nil {
		if err := s.recorder.UpsertCapture(catalogEntry(key, ver, addr, path, result)); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to record capture in catalog")
		}
	}

	log.Info().
		Str("protocol", key).
		Str("version", ver).
		Str("server", addr.String()).
		Str("path", path).
		Dur("duration", time.Since(start)).
		Msg("Capture stored")

	return path, nil
}

func (s *Service) annotate(result models.CaptureResult, ip string, opts Options) models.CaptureResult {
	result = result.
		WithMetadata(MetaCaptureID, uuid.NewString()).
		WithMetadata(MetaGenerator, vars.Generator())

	if len(opts.Labels) > 0 {
		result = result.WithMetadata(MetaLabels, maps.Clone(opts.Labels))
	}

	if s.countries != nil {
		if cc := s.countries.GetCountryCode(ip); cc != "" {
			result = result.WithMetadata(MetaCountry, cc)
		}
	}

	return result
}

func catalogEntry(protocolName, ver string, addr models.ServerAddress, path string, result models.CaptureResult) models.CatalogEntry {
	info := result.ServerInfo
	now := time.Now().UTC()
	country, _ := result.Metadata[MetaCountry].(string)

	return models.CatalogEntry{
		Protocol:    protocolName,
		Version:     ver,
		IP:          addr.IP,
		Port:        addr.Port,
		Path:        path,
		ServerTitle: models.Value(info.ServerTitle),
		MapName:     models.Value(info.MapName),
		CountryCode: country,
		NumPlayers:  info.NumPlayers,
		MaxPlayers:  info.MaxPlayers,
		Online:      info.Online,
		FirstSeen:   now,
		LastSeen:    now,
	}
}
