// Package models defines the data structures shared by capture, fixture persistence and the catalog.
package models

import (
	"maps"
	"net"
	"slices"
	"strconv"
	"time"
)

// ServerAddress identifies the queried server.
type ServerAddress struct {
	IP   string `json:"ip" msgpack:"ip"`
	Port int    `json:"port" msgpack:"port"`
}

// String returns the address in host:port form.
func (a ServerAddress) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

// Player is a single entry of a server player list.
type Player struct {
	Name  string  `json:"name" msgpack:"name"`
	Score int     `json:"score" msgpack:"score"`
	Time  float64 `json:"time" msgpack:"time"`
	Ping  int     `json:"ping,omitempty" msgpack:"ping,omitempty"`
	Team  string  `json:"team,omitempty" msgpack:"team,omitempty"`
}

// Channel is a voice channel reported by voice-capable servers.
type Channel struct {
	Name     string `json:"name" msgpack:"name"`
	Topic    string `json:"topic,omitempty" msgpack:"topic,omitempty"`
	ID       int    `json:"id" msgpack:"id"`
	ParentID int    `json:"parent_id" msgpack:"parent_id"`
}

// CaptureResult is one captured snapshot. It is built once per capture call and
// treated as a value afterwards: use WithMetadata instead of mutating Metadata.
type CaptureResult struct {
	Metadata   map[string]any
	RawPackets [][]byte
	ServerInfo ServerInfo
}

// NewCaptureResult copies packets and metadata so the result does not alias caller state.
func NewCaptureResult(packets [][]byte, info ServerInfo, metadata map[string]any) CaptureResult {
	raw := make([][]byte, 0, len(packets))
	for _, p := range packets {
		raw = append(raw, slices.Clone(p))
	}

	meta := make(map[string]any, len(metadata))
	maps.Copy(meta, metadata)

	return CaptureResult{
		RawPackets: raw,
		ServerInfo: info,
		Metadata:   meta,
	}
}

// WithMetadata returns a copy of the result with key set to value.
func (r CaptureResult) WithMetadata(key string, value any) CaptureResult {
	out := NewCaptureResult(r.RawPackets, r.ServerInfo, r.Metadata)
	out.Metadata[key] = value
	return out
}

// CatalogEntry represents a captured fixture registered in the catalog database.
type CatalogEntry struct {
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Protocol    string    `json:"protocol"`
	Version     string    `json:"version"`
	IP          string    `json:"ip"`
	Path        string    `json:"path"`
	ServerTitle string    `json:"server_title"`
	MapName     string    `json:"map_name"`
	CountryCode string    `json:"country_code"`
	Port        int       `json:"port"`
	NumPlayers  int       `json:"num_players"`
	MaxPlayers  int       `json:"max_players"`
	Count       int64     `json:"count"`
	Online      bool      `json:"online"`
}
