// Package fixture persists capture results as JSON fixture files laid out as
// <root>/<protocol>/<version>/capture_<ip>_<port>.json.
package fixture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/fixtura/internal/models"
)

// Record keys of a fixture file.
const (
	KeyMetadata   = "metadata"
	KeyPackets    = "packets"
	KeyServerInfo = "server_info"
)

const (
	filePrefix = "capture_"
	fileExt    = ".json"
)

var (
	ipReplacer      = strings.NewReplacer(".", "_", ":", "_", "/", "_", "\\", "_")
	segmentReplacer = strings.NewReplacer("/", "_", "\\", "_")
)

// record is the on-disk shape of a fixture.
type record struct {
	Metadata   map[string]any `json:"metadata"`
	ServerInfo map[string]any `json:"server_info"`
	Packets    string         `json:"packets"`
}

// Entry is a decoded fixture file found while listing.
type Entry struct {
	Record map[string]any
	Path   string
}

// Storage reads and writes fixture files below a root directory.
// It does no locking: concurrent saves of one key race, the last rename wins.
type Storage struct {
	root string
}

// New creates a Storage rooted at root. The directory is created on first save.
func New(root string) *Storage {
	return &Storage{root: root}
}

// Root returns the fixtures root directory.
func (s *Storage) Root() string {
	return s.root
}

// Path returns the file path of the fixture identified by the given key.
func (s *Storage) Path(protocol, version, ip string, port int) string {
	name := fmt.Sprintf("%s%s_%d%s", filePrefix, ipReplacer.Replace(ip), port, fileExt)
	return filepath.Join(s.root, segment(strings.ToLower(protocol)), segment(version), name)
}

// Save writes result under the given key, replacing any existing fixture, and returns its path.
func (s *Storage) Save(protocol, version, ip string, port int, result models.CaptureResult) (string, error) {
	path := s.Path(protocol, version, ip, port)

	packets, err := EncodePackets(result.RawPackets)
	if err != nil {
		return "", err
	}

	metadata := make(map[string]any, len(result.Metadata)+1)
	for k, v := range result.Metadata {
		metadata[k] = v
	}
	if len(result.RawPackets) > 0 {
		metadata[MetaPacketsDigest] = PacketsDigest(result.RawPackets)
	}

	data, err := json.MarshalIndent(record{
		Metadata:   metadata,
		Packets:    packets,
		ServerInfo: result.ServerInfo.ToMap(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode fixture %s: %w", path, err)
	}

	if err := writeFile(path, data); err != nil {
		return "", err
	}

	log.Debug().
		Str("path", path).
		Int("packets", len(result.RawPackets)).
		Msg("Fixture saved")

	return path, nil
}

// Load reads the fixture identified by the given key.
// It reports false for missing files and for files that cannot be decoded.
func (s *Storage) Load(protocol, version, ip string, port int) (models.CaptureResult, bool) {
	return s.LoadFile(s.Path(protocol, version, ip, port))
}

// LoadFile reads a fixture by path with the same tolerant policy as Load.
func (s *Storage) LoadFile(path string) (models.CaptureResult, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debug().Err(err).Str("path", path).Msg("Failed to read fixture")
		}
		return models.CaptureResult{}, false
	}

	result, err := Decode(data)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Ignoring corrupt fixture")
		return models.CaptureResult{}, false
	}

	return result, true
}

// ListAll returns every fixture record that decodes as JSON, skipping the rest.
func (s *Storage) ListAll() []map[string]any {
	entries := s.Entries()

	records := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.Record)
	}

	return records
}

// Entries returns decoded fixture records with their paths in directory traversal order.
func (s *Storage) Entries() []Entry {
	files, err := s.ListFiles()
	if err != nil {
		log.Debug().Err(err).Str("root", s.root).Msg("Failed to list fixtures")
		return nil
	}

	entries := make([]Entry, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("Skipping unreadable fixture")
			continue
		}

		var rec map[string]any
		if err := json.Unmarshal(data, &rec); err != nil || rec == nil {
			log.Debug().Err(err).Str("path", path).Msg("Skipping corrupt fixture")
			continue
		}

		entries = append(entries, Entry{Path: path, Record: rec})
	}

	return entries
}

// ListFiles returns the paths of all fixture files below the root.
func (s *Storage) ListFiles() ([]string, error) {
	return filepath.Glob(filepath.Join(s.root, "*", "*", "*"+fileExt))
}

// writeFile replaces path with data through a temporary file in the same directory.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create fixture dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".capture-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp fixture: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write fixture %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// segment keeps a key component inside its directory level.
func segment(s string) string {
	s = segmentReplacer.Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}

	return s
}
