package fixture

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/woozymasta/fixtura/internal/models"
)

var (
	errInvalidJSON    = errors.New("invalid JSON")
	errShape          = errors.New("unexpected fixture shape")
	errDigestMismatch = errors.New("packets digest mismatch")
)

// Decode parses fixture file contents. Shape errors fail the whole record; individual
// server_info fields with an unexpected type fall back to their defaults.
func Decode(data []byte) (models.CaptureResult, error) {
	if !gjson.ValidBytes(data) {
		return models.CaptureResult{}, errInvalidJSON
	}

	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return models.CaptureResult{}, fmt.Errorf("%w: top level is not an object", errShape)
	}

	meta := doc.Get(KeyMetadata)
	packets := doc.Get(KeyPackets)
	info := doc.Get(KeyServerInfo)

	if !meta.IsObject() {
		return models.CaptureResult{}, fmt.Errorf("%w: %s is not an object", errShape, KeyMetadata)
	}
	if packets.Type != gjson.String {
		return models.CaptureResult{}, fmt.Errorf("%w: %s is not a string", errShape, KeyPackets)
	}
	if !info.IsObject() {
		return models.CaptureResult{}, fmt.Errorf("%w: %s is not an object", errShape, KeyServerInfo)
	}

	var metadata map[string]any
	if err := json.Unmarshal([]byte(meta.Raw), &metadata); err != nil {
		return models.CaptureResult{}, fmt.Errorf("%w: %v", errShape, err)
	}

	raw, err := DecodePackets(packets.String())
	if err != nil {
		return models.CaptureResult{}, err
	}

	if digest, ok := metadata[MetaPacketsDigest].(string); ok && digest != PacketsDigest(raw) {
		return models.CaptureResult{}, errDigestMismatch
	}

	return models.NewCaptureResult(raw, decodeServerInfo(info), metadata), nil
}

// decodeServerInfo reads every field with its own type check.
func decodeServerInfo(r gjson.Result) models.ServerInfo {
	info := models.NewServerInfo()

	info.Address = optString(r, models.KeyAddress)
	info.QueryPort = optInt(r, models.KeyQueryPort)
	info.Online = boolean(r, models.KeyOnline)
	info.GameName = optString(r, models.KeyGameName)
	info.GameVersion = optString(r, models.KeyGameVersion)
	info.ServerTitle = optString(r, models.KeyServerTitle)
	info.MapName = optString(r, models.KeyMapName)
	info.GameType = optString(r, models.KeyGameType)
	info.NumPlayers = models.Value(optInt(r, models.KeyNumPlayers))
	info.MaxPlayers = models.Value(optInt(r, models.KeyMaxPlayers))
	info.ErrStr = optString(r, models.KeyErrStr)

	info.Password = optBool(r, models.KeyPassword)
	info.Name = optString(r, models.KeyName)
	info.Map = optString(r, models.KeyMap)
	info.PlayersCurrent = optInt(r, models.KeyPlayersCurrent)
	info.PlayersMax = optInt(r, models.KeyPlayersMax)
	info.Version = optString(r, models.KeyVersion)
	info.Motd = optString(r, models.KeyMotd)

	if v := r.Get(models.KeyRules); v.IsObject() {
		info.Rules = value(v).(map[string]any)
	}

	if players, ok := list[models.Player](r, models.KeyPlayers); ok {
		info.Players = players
	}
	if channels, ok := list[models.Channel](r, models.KeyChannels); ok {
		info.Channels = channels
	}

	return info
}

func optString(r gjson.Result, key string) *string {
	v := r.Get(key)
	if v.Type != gjson.String {
		return nil
	}

	return models.Ptr(v.String())
}

func optInt(r gjson.Result, key string) *int {
	v := r.Get(key)
	if v.Type != gjson.Number || v.Num != math.Trunc(v.Num) ||
		v.Num > math.MaxInt32 || v.Num < math.MinInt32 {
		return nil
	}

	return models.Ptr(int(v.Int()))
}

func optBool(r gjson.Result, key string) *bool {
	switch r.Get(key).Type {
	case gjson.True:
		return models.Ptr(true)
	case gjson.False:
		return models.Ptr(false)
	default:
		return nil
	}
}

func boolean(r gjson.Result, key string) bool {
	return models.Value(optBool(r, key))
}

// value converts a JSON value keeping integer literals as int, so rules survive a round trip exactly.
func value(v gjson.Result) any {
	switch {
	case v.IsObject():
		m := map[string]any{}
		v.ForEach(func(k, item gjson.Result) bool {
			m[k.String()] = value(item)
			return true
		})
		return m
	case v.IsArray():
		items := []any{}
		v.ForEach(func(_, item gjson.Result) bool {
			items = append(items, value(item))
			return true
		})
		return items
	case v.Type == gjson.Number:
		if n, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return int(n)
		}
		return v.Num
	default:
		return v.Value()
	}
}

// list decodes an array field; any malformed element rejects the whole field.
func list[T any](r gjson.Result, key string) ([]T, bool) {
	v := r.Get(key)
	if !v.IsArray() {
		return nil, false
	}

	out := []T{}
	if err := json.Unmarshal([]byte(v.Raw), &out); err != nil {
		return nil, false
	}

	return out, true
}
