// Package protocol defines the capability set every game protocol handler implements
// and resolves protocol names to handlers.
package protocol

import (
	"context"
	"time"

	"github.com/woozymasta/fixtura/internal/models"
)

const (
	// Auto requests protocol auto-detection.
	Auto = "auto"

	// DefaultName labels captures whose protocol name is otherwise unknown.
	DefaultName = "source"
)

// Handler queries one kind of game server.
type Handler interface {
	// Query fetches info and player list from the server.
	Query(ctx context.Context, addr models.ServerAddress) (models.ServerInfo, error)

	// ProtocolName returns the canonical protocol name used for fixture keys.
	ProtocolName() string

	// Version extracts the game version string from a snapshot.
	Version(info models.ServerInfo) string
}

// TimeoutSetter is implemented by handlers with a configurable per-request transport timeout.
type TimeoutSetter interface {
	SetTimeout(d time.Duration)
}

// PlayerQuerier is implemented by handlers able to re-fetch only the player list.
type PlayerQuerier interface {
	QueryPlayers(ctx context.Context, addr models.ServerAddress) ([]models.Player, error)
}

// Tracer is implemented by handlers that keep a debug trace of their last request.
type Tracer interface {
	Trace() []string
}

// Factory builds a fresh handler instance.
type Factory func() Handler

// Registry maps protocol names to handler factories.
type Registry map[string]Factory
