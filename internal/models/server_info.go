package models

// Flat mapping keys of ServerInfo.
const (
	KeyAddress        = "address"
	KeyQueryPort      = "queryport"
	KeyOnline         = "online"
	KeyGameName       = "gamename"
	KeyGameVersion    = "gameversion"
	KeyServerTitle    = "servertitle"
	KeyMapName        = "mapname"
	KeyGameType       = "gametype"
	KeyNumPlayers     = "numplayers"
	KeyMaxPlayers     = "maxplayers"
	KeyRules          = "rules"
	KeyPlayers        = "players"
	KeyChannels       = "channels"
	KeyErrStr         = "errstr"
	KeyPassword       = "password"
	KeyName           = "name"
	KeyMap            = "map"
	KeyPlayersCurrent = "players_current"
	KeyPlayersMax     = "players_max"
	KeyVersion        = "version"
	KeyMotd           = "motd"
)

// ServerInfo is the canonical snapshot of a queried server.
// Nil pointers mark fields the protocol did not report; they are encoded as null, never omitted.
type ServerInfo struct {
	Rules map[string]any `json:"rules" msgpack:"rules"`

	Address     *string `json:"address" msgpack:"address"`
	QueryPort   *int    `json:"queryport" msgpack:"queryport"`
	GameName    *string `json:"gamename" msgpack:"gamename"`
	GameVersion *string `json:"gameversion" msgpack:"gameversion"`
	ServerTitle *string `json:"servertitle" msgpack:"servertitle"`
	MapName     *string `json:"mapname" msgpack:"mapname"`
	GameType    *string `json:"gametype" msgpack:"gametype"`
	ErrStr      *string `json:"errstr" msgpack:"errstr"`

	// Legacy aliases kept for older consumers of fixtures.
	Password       *bool   `json:"password" msgpack:"password"`
	Name           *string `json:"name" msgpack:"name"`
	Map            *string `json:"map" msgpack:"map"`
	PlayersCurrent *int    `json:"players_current" msgpack:"players_current"`
	PlayersMax     *int    `json:"players_max" msgpack:"players_max"`
	Version        *string `json:"version" msgpack:"version"`
	Motd           *string `json:"motd" msgpack:"motd"`

	Players  []Player  `json:"players" msgpack:"players"`
	Channels []Channel `json:"channels" msgpack:"channels"`

	NumPlayers int  `json:"numplayers" msgpack:"numplayers"`
	MaxPlayers int  `json:"maxplayers" msgpack:"maxplayers"`
	Online     bool `json:"online" msgpack:"online"`
}

// NewServerInfo returns an offline snapshot with every collection initialized.
func NewServerInfo() ServerInfo {
	return ServerInfo{
		Rules:    map[string]any{},
		Players:  []Player{},
		Channels: []Channel{},
	}
}

// Normalized returns a copy with nil collections replaced by empty ones.
func (s ServerInfo) Normalized() ServerInfo {
	if s.Rules == nil {
		s.Rules = map[string]any{}
	}
	if s.Players == nil {
		s.Players = []Player{}
	}
	if s.Channels == nil {
		s.Channels = []Channel{}
	}

	return s
}

// ToMap returns the flat field mapping used in fixture files.
// Every key is present; unset optional fields map to nil.
func (s ServerInfo) ToMap() map[string]any {
	s = s.Normalized()

	return map[string]any{
		KeyAddress:        deref(s.Address),
		KeyQueryPort:      deref(s.QueryPort),
		KeyOnline:         s.Online,
		KeyGameName:       deref(s.GameName),
		KeyGameVersion:    deref(s.GameVersion),
		KeyServerTitle:    deref(s.ServerTitle),
		KeyMapName:        deref(s.MapName),
		KeyGameType:       deref(s.GameType),
		KeyNumPlayers:     s.NumPlayers,
		KeyMaxPlayers:     s.MaxPlayers,
		KeyRules:          s.Rules,
		KeyPlayers:        s.Players,
		KeyChannels:       s.Channels,
		KeyErrStr:         deref(s.ErrStr),
		KeyPassword:       deref(s.Password),
		KeyName:           deref(s.Name),
		KeyMap:            deref(s.Map),
		KeyPlayersCurrent: deref(s.PlayersCurrent),
		KeyPlayersMax:     deref(s.PlayersMax),
		KeyVersion:        deref(s.Version),
		KeyMotd:           deref(s.Motd),
	}
}

// Ptr returns a pointer to v, for filling optional ServerInfo fields.
func Ptr[T any](v T) *T {
	return &v
}

// Value returns the pointed value or the zero value for nil.
func Value[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}

	return *p
}

// deref keeps nil as an untyped nil so JSON encodes it as null.
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}

	return *p
}
