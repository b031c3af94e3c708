package maintenance

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/fixtura/internal/capture"
	"github.com/woozymasta/fixtura/internal/fixture"
	"github.com/woozymasta/fixtura/internal/models"
)

type memCatalog struct {
	entries []models.CatalogEntry
	deleted []string
}

func (c *memCatalog) GetCapturesSubset(protocol string) ([]models.CatalogEntry, error) {
	var out []models.CatalogEntry
	for _, e := range c.entries {
		if protocol == "" || e.Protocol == protocol {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *memCatalog) DeleteCapture(protocol, version, ip string, port int) error {
	c.deleted = append(c.deleted, ip)
	return nil
}

type fakeCapturer struct {
	mu       sync.Mutex
	seen     []string
	inFlight atomic.Int32
	peak     atomic.Int32
	failPort int
}

func (f *fakeCapturer) Capture(_ context.Context, ip string, port int, protocolName string, _ capture.Options) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.seen = append(f.seen, protocolName+"/"+ip)
	f.mu.Unlock()

	if port == f.failPort {
		return "", errors.New("timeout")
	}
	return "/tmp/" + ip, nil
}

func TestPrune(t *testing.T) {
	store := fixture.New(t.TempDir())

	good, err := store.Save("source", "v1", "10.0.0.1", 1, models.NewCaptureResult(nil, models.NewServerInfo(), nil))
	require.NoError(t, err)

	corrupt := store.Path("source", "v1", "10.0.0.2", 2)
	require.NoError(t, os.WriteFile(corrupt, []byte("{"), 0o644))

	catalog := &memCatalog{entries: []models.CatalogEntry{
		{Protocol: "source", Version: "v1", IP: "10.0.0.1", Port: 1, Path: good},
		{Protocol: "source", Version: "v1", IP: "10.0.0.2", Port: 2, Path: corrupt},
		{Protocol: "source", Version: "v1", IP: "10.0.0.3", Port: 3},
		{Protocol: "protox", Version: "v", IP: "10.0.0.4", Port: 4},
	}}

	removed, err := Prune(catalog, store, "source")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, catalog.deleted)
}

func TestRecapture(t *testing.T) {
	entries := make([]models.CatalogEntry, 0, 20)
	for i := 1; i <= 20; i++ {
		entries = append(entries, models.CatalogEntry{Protocol: "source", IP: "10.0.0.1", Port: i})
	}

	svc := &fakeCapturer{failPort: 7}
	var progress bytes.Buffer

	report, err := Recapture(context.Background(), svc, entries, RecaptureOptions{Workers: 4, Progress: &progress})
	require.NoError(t, err)

	assert.Equal(t, int64(19), report.Succeeded)
	assert.Equal(t, int64(1), report.Failed)
	assert.Len(t, svc.seen, 20)
	assert.LessOrEqual(t, svc.peak.Load(), int32(4))
	assert.Contains(t, svc.seen, "source/10.0.0.1")
}

func TestRecaptureEmpty(t *testing.T) {
	report, err := Recapture(context.Background(), &fakeCapturer{}, nil, RecaptureOptions{})
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestRecaptureCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &fakeCapturer{}
	entries := []models.CatalogEntry{{Protocol: "source", IP: "10.0.0.1", Port: 1}}

	report, err := Recapture(ctx, svc, entries, RecaptureOptions{Workers: 1, Rate: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Succeeded+report.Failed)
	assert.Empty(t, svc.seen)
}
