// Package game provides protocol handlers that query game servers.
package game

import (
	"context"
	"fmt"
	"time"

	"github.com/woozymasta/a2s/pkg/a2s"
	"github.com/woozymasta/fixtura/internal/config"
	"github.com/woozymasta/fixtura/internal/models"
	"github.com/woozymasta/fixtura/internal/protocol"
)

// SourceName is the protocol name of Source Engine Query (A2S) servers.
const SourceName = "source"

// Source queries servers speaking the Source Engine Query protocol.
// A full query sends A2S_INFO, A2S_PLAYER and A2S_RULES over one connection.
type Source struct {
	trace   []string
	options config.A2S
}

// NewSource creates a Source handler with the given client options.
func NewSource(options config.A2S) *Source {
	return &Source{options: options}
}

// ProtocolName implements protocol.Handler.
func (s *Source) ProtocolName() string {
	return SourceName
}

// Version implements protocol.Handler.
func (s *Source) Version(info models.ServerInfo) string {
	if info.GameVersion != nil {
		return *info.GameVersion
	}

	return models.Value(info.Version)
}

// SetTimeout implements protocol.TimeoutSetter.
func (s *Source) SetTimeout(d time.Duration) {
	s.options.Timeout = d
}

// Trace implements protocol.Tracer.
func (s *Source) Trace() []string {
	return s.trace
}

// Query connects to a game server via UDP and requests A2S_INFO, A2S_PLAYER and A2S_RULES.
// Only an A2S_INFO failure fails the query, player and rule failures are traced and leave those fields empty.
func (s *Source) Query(ctx context.Context, addr models.ServerAddress) (models.ServerInfo, error) {
	s.trace = s.trace[:0]

	client, err := s.dial(ctx, addr)
	if err != nil {
		return models.ServerInfo{}, err
	}
	defer func() { _ = client.Close() }()

	s.tracef("A2S_INFO -> %s (timeout %s, buffer %d)", addr, client.Timeout, client.BufferSize)
	start := time.Now()

	info, err := client.GetInfo()
	if err != nil {
		s.tracef("A2S_INFO <- %s failed after %s: %v", addr, time.Since(start), err)
		return models.ServerInfo{}, fmt.Errorf("a2s info %s: %w", addr, err)
	}
	s.tracef("A2S_INFO <- %s in %s: %q on %q, %d/%d players",
		addr, time.Since(start), info.Name, info.Map, info.Players, info.MaxPlayers)

	snapshot := models.NewServerInfo()
	snapshot.Address = models.Ptr(addr.IP)
	snapshot.QueryPort = models.Ptr(addr.Port)
	snapshot.Online = true
	snapshot.GameName = models.Ptr(info.Game)
	snapshot.GameVersion = models.Ptr(info.Version)
	snapshot.ServerTitle = models.Ptr(info.Name)
	snapshot.MapName = models.Ptr(info.Map)
	snapshot.NumPlayers = int(info.Players)
	snapshot.MaxPlayers = int(info.MaxPlayers)

	if players, err := s.players(client, addr); err == nil {
		snapshot.Players = players
	}
	if rules, err := s.rules(client, addr); err == nil {
		snapshot.Rules = rules
	}

	// legacy aliases
	snapshot.Name = snapshot.ServerTitle
	snapshot.Map = snapshot.MapName
	snapshot.Version = snapshot.GameVersion
	snapshot.PlayersCurrent = models.Ptr(snapshot.NumPlayers)
	snapshot.PlayersMax = models.Ptr(snapshot.MaxPlayers)

	return snapshot, nil
}

// QueryPlayers implements protocol.PlayerQuerier with a single A2S_PLAYER request.
func (s *Source) QueryPlayers(ctx context.Context, addr models.ServerAddress) ([]models.Player, error) {
	s.trace = s.trace[:0]

	client, err := s.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	return s.players(client, addr)
}

func (s *Source) dial(ctx context.Context, addr models.ServerAddress) (*a2s.Client, error) {
	client, err := a2s.New(addr.IP, addr.Port)
	if err != nil {
		return nil, err
	}

	client.BufferSize = s.options.BufferSize
	if client.BufferSize == 0 {
		client.BufferSize = a2s.DefaultBufferSize
	}
	client.Timeout = s.timeout(ctx)

	return client, nil
}

func (s *Source) players(client *a2s.Client, addr models.ServerAddress) ([]models.Player, error) {
	s.tracef("A2S_PLAYER -> %s", addr)
	start := time.Now()

	reply, err := client.GetPlayers()
	if err != nil {
		s.tracef("A2S_PLAYER <- %s failed after %s: %v", addr, time.Since(start), err)
		return nil, fmt.Errorf("a2s players %s: %w", addr, err)
	}

	players := make([]models.Player, 0, len(*reply))
	for _, p := range *reply {
		players = append(players, models.Player{
			Name:  p.Name,
			Score: int(int32(p.Score)),
			Time:  p.Duration.Seconds(),
		})
	}
	s.tracef("A2S_PLAYER <- %s in %s: %d players", addr, time.Since(start), len(players))

	return players, nil
}

func (s *Source) rules(client *a2s.Client, addr models.ServerAddress) (map[string]any, error) {
	s.tracef("A2S_RULES -> %s", addr)
	start := time.Now()

	reply, err := client.GetRules()
	if err != nil {
		s.tracef("A2S_RULES <- %s failed after %s: %v", addr, time.Since(start), err)
		return nil, fmt.Errorf("a2s rules %s: %w", addr, err)
	}

	rules := make(map[string]any, len(reply))
	for k, v := range reply {
		rules[k] = v
	}
	s.tracef("A2S_RULES <- %s in %s: %d rules", addr, time.Since(start), len(rules))

	return rules, nil
}

// timeout shrinks the configured timeout to the context deadline when that comes first.
func (s *Source) timeout(ctx context.Context) time.Duration {
	timeout := s.options.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && (timeout <= 0 || left < timeout) {
			timeout = left
		}
	}

	return timeout
}

func (s *Source) tracef(format string, args ...any) {
	s.trace = append(s.trace, fmt.Sprintf(format, args...))
}

// Registry returns the handler registry for all built-in protocols.
func Registry(options config.A2S) protocol.Registry {
	source := func() protocol.Handler { return NewSource(options) }

	return protocol.Registry{
		SourceName: source,
		"a2s":      source,
	}
}
