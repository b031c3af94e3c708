package storage

import (
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/fixtura/assets"
	"github.com/woozymasta/fixtura/internal/models"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()

	repo, err := New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func entry(protocol, ip string, port int, seen time.Time) models.CatalogEntry {
	return models.CatalogEntry{
		Protocol:    protocol,
		Version:     "v1_26",
		IP:          ip,
		Port:        port,
		Path:        filepath.Join("fixtures", protocol, "v1_26", "capture.json"),
		ServerTitle: "Chernarus PvE",
		MapName:     "chernarusplus",
		CountryCode: "DE",
		NumPlayers:  12,
		MaxPlayers:  60,
		Online:      true,
		FirstSeen:   seen,
		LastSeen:    seen,
	}
}

func TestUpsertCaptureIncrementsCount(t *testing.T) {
	repo := openTestRepo(t)
	first := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	require.NoError(t, repo.UpsertCapture(entry("source", "10.0.0.1", 27016, first)))

	offline := entry("source", "10.0.0.1", 27016, later)
	offline.Online = false
	offline.ServerTitle = ""
	offline.CountryCode = ""
	require.NoError(t, repo.UpsertCapture(offline))

	got, err := repo.GetCapture("source", "v1_26", "10.0.0.1", 27016)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, int64(2), got.Count)
	assert.False(t, got.Online)
	assert.Equal(t, "Chernarus PvE", got.ServerTitle)
	assert.Equal(t, "DE", got.CountryCode)
	assert.Equal(t, 12, got.NumPlayers)
	assert.True(t, first.Equal(got.FirstSeen), "first_seen %s", got.FirstSeen)
	assert.True(t, later.Equal(got.LastSeen), "last_seen %s", got.LastSeen)
}

func TestGetCapturesOrderAndSubset(t *testing.T) {
	repo := openTestRepo(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.UpsertCapture(entry("source", "10.0.0.1", 1, base)))
	require.NoError(t, repo.UpsertCapture(entry("source", "10.0.0.2", 2, base.Add(2*time.Hour))))
	require.NoError(t, repo.UpsertCapture(entry("protox", "10.0.0.3", 3, base.Add(time.Hour))))

	all, err := repo.GetCaptures()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{2, 3, 1}, []int{all[0].Port, all[1].Port, all[2].Port})

	subset, err := repo.GetCapturesSubset("protox")
	require.NoError(t, err)
	require.Len(t, subset, 1)
	assert.Equal(t, "10.0.0.3", subset[0].IP)

	everything, err := repo.GetCapturesSubset("")
	require.NoError(t, err)
	assert.Len(t, everything, 3)
}

func TestGetCaptureMissingAndDelete(t *testing.T) {
	repo := openTestRepo(t)

	got, err := repo.GetCapture("source", "v1", "10.0.0.1", 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.UpsertCapture(entry("source", "10.0.0.1", 1, time.Now())))
	require.NoError(t, repo.DeleteCapture("source", "v1_26", "10.0.0.1", 1))

	all, err := repo.GetCaptures()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMigrateIsIdempotent(t *testing.T) {
	repo := openTestRepo(t)

	n, err := migrate(repo.db, assets.FS())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrateOrderAndRollback(t *testing.T) {
	repo := openTestRepo(t)

	fsys := fstest.MapFS{
		"migrations/010_b.sql": {Data: []byte(`ALTER TABLE extra ADD COLUMN note TEXT;`)},
		"migrations/005_a.sql": {Data: []byte(`CREATE TABLE extra (id INTEGER);`)},
		"migrations/020_c.sql": {Data: []byte(`THIS IS NOT SQL;`)},
		"migrations/readme.md": {Data: []byte(`ignored`)},
	}

	n, err := migrate(repo.db, fsys)
	require.Error(t, err)
	assert.Equal(t, 2, n)

	var count int
	require.NoError(t, repo.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = '020_c.sql'`).Scan(&count))
	assert.Zero(t, count)
}
