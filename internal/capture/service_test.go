package capture

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/fixtura/internal/fixture"
	"github.com/woozymasta/fixtura/internal/models"
	"github.com/woozymasta/fixtura/internal/protocol"
)

type recorderFunc func(models.CatalogEntry) error

func (f recorderFunc) UpsertCapture(e models.CatalogEntry) error { return f(e) }

type staticCountry string

func (c staticCountry) GetCountryCode(string) string { return string(c) }

type failingStrategy struct{ err error }

func (s failingStrategy) Capture(context.Context, protocol.Handler, models.ServerAddress, Options) (models.CaptureResult, error) {
	return models.CaptureResult{}, s.err
}

func protoXService(t *testing.T, strategy Strategy, opts ...ServiceOption) *Service {
	t.Helper()

	h := &fakeHandler{name: "protoX", playersAt: 1}
	resolver := protocol.NewResolver(fixedRegistry(h), "protox")

	return NewService(resolver, strategy, fixture.New(t.TempDir()), opts...)
}

func TestServiceCaptureAuto(t *testing.T) {
	svc := protoXService(t, NewDirectStrategy())

	path, err := svc.Capture(context.Background(), "9.9.9.9", 9999, "auto", Options{Labels: map[string]string{"env": "test"}})
	require.NoError(t, err)

	assert.Contains(t, path, "protox")
	assert.Equal(t, filepath.Join(svc.Store().Root(), "protox", "v", "capture_9_9_9_9_9999.json"), path)
	assert.FileExists(t, path)

	loaded, ok := svc.Store().LoadFile(path)
	require.True(t, ok)

	assert.Equal(t, "9.9.9.9", models.Value(loaded.ServerInfo.Address))
	assert.Equal(t, "auto", loaded.Metadata[MetaProtocol])
	assert.Equal(t, "9.9.9.9", loaded.Metadata[MetaIP])
	assert.Equal(t, float64(9999), loaded.Metadata[MetaPort])
	assert.Equal(t, map[string]any{"env": "test"}, loaded.Metadata[MetaLabels])
	assert.NotEmpty(t, loaded.Metadata[MetaCaptureID])
	assert.NotEmpty(t, loaded.Metadata[MetaGenerator])
	assert.NotContains(t, loaded.Metadata, MetaWorkerUsed)
	assert.NotContains(t, loaded.Metadata, MetaCountry)
	assert.Empty(t, loaded.RawPackets)
}

func TestServiceCaptureEmptyProtocolMeansAuto(t *testing.T) {
	svc := protoXService(t, NewDirectStrategy())

	path, err := svc.Capture(context.Background(), "9.9.9.9", 9999, "", Options{})
	require.NoError(t, err)

	loaded, ok := svc.Store().LoadFile(path)
	require.True(t, ok)
	assert.Equal(t, protocol.Auto, loaded.Metadata[MetaProtocol])
}

func TestServiceCaptureInvalidAddress(t *testing.T) {
	svc := protoXService(t, NewDirectStrategy())

	cases := []struct {
		ip   string
		port int
	}{
		{"", 27016},
		{"   ", 27016},
		{"1.1.1.1", 0},
		{"1.1.1.1", 65536},
	}

	for _, tc := range cases {
		_, err := svc.Capture(context.Background(), tc.ip, tc.port, "auto", Options{})
		assert.ErrorIs(t, err, ErrInvalidAddress, "%q:%d", tc.ip, tc.port)
	}
}

func TestServiceCaptureUnknownProtocol(t *testing.T) {
	svc := protoXService(t, NewDirectStrategy())

	_, err := svc.Capture(context.Background(), "9.9.9.9", 9999, "quake3", Options{})
	require.ErrorIs(t, err, protocol.ErrUnknownProtocol)

	files, err := svc.Store().ListFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestServiceCaptureStrategyErrorWritesNothing(t *testing.T) {
	boom := errors.New("boom")
	svc := protoXService(t, failingStrategy{err: boom})

	_, err := svc.Capture(context.Background(), "9.9.9.9", 9999, "protox", Options{})
	require.ErrorIs(t, err, boom)

	files, err := svc.Store().ListFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestServiceCaptureRecorderAndCountry(t *testing.T) {
	var got []models.CatalogEntry
	recorder := recorderFunc(func(e models.CatalogEntry) error {
		got = append(got, e)
		return nil
	})

	svc := protoXService(t, NewDirectStrategy(), WithRecorder(recorder), WithCountryResolver(staticCountry("DE")))

	path, err := svc.Capture(context.Background(), "9.9.9.9", 9999, "protox", Options{})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "protox", got[0].Protocol)
	assert.Equal(t, "v", got[0].Version)
	assert.Equal(t, path, got[0].Path)
	assert.Equal(t, "DE", got[0].CountryCode)
	assert.Equal(t, 1, got[0].NumPlayers)
	assert.True(t, got[0].Online)

	loaded, ok := svc.Store().LoadFile(path)
	require.True(t, ok)
	assert.Equal(t, "DE", loaded.Metadata[MetaCountry])
}

func TestServiceCaptureRecorderFailureIsNotFatal(t *testing.T) {
	recorder := recorderFunc(func(models.CatalogEntry) error { return errors.New("database is locked") })
	svc := protoXService(t, NewDirectStrategy(), WithRecorder(recorder))

	path, err := svc.Capture(context.Background(), "9.9.9.9", 9999, "protox", Options{})
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestServiceCaptureThroughWorker(t *testing.T) {
	resolver := protocol.NewResolver(workerRegistry(), "stub")
	svc := NewService(resolver, testWorkerStrategy(30*time.Second), fixture.New(t.TempDir()))

	path, err := svc.Capture(context.Background(), "10.0.0.8", 2302, "stub", Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(svc.Store().Root(), "stub", "v1_2_3", "capture_10_0_0_8_2302.json"), path)

	loaded, ok := svc.Store().LoadFile(path)
	require.True(t, ok)
	assert.Equal(t, true, loaded.Metadata[MetaWorkerUsed])
	assert.Equal(t, "stub", loaded.Metadata[MetaProtocol])
	require.Len(t, loaded.ServerInfo.Players, 1)
}

func TestServiceCaptureWorkerTimeoutWritesNothing(t *testing.T) {
	resolver := protocol.NewResolver(workerRegistry(), "stub")
	svc := NewService(resolver, testWorkerStrategy(300*time.Millisecond), fixture.New(t.TempDir()))

	_, err := svc.Capture(context.Background(), "10.0.0.8", 2302, "hang", Options{})
	require.ErrorIs(t, err, ErrWorkerTimeout)

	files, err := svc.Store().ListFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}
