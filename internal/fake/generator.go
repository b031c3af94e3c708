// Package fake generates synthetic fixtures for testing and development purposes.
package fake

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/fixtura/internal/capture"
	"github.com/woozymasta/fixtura/internal/fixture"
	"github.com/woozymasta/fixtura/internal/game"
	"github.com/woozymasta/fixtura/internal/models"
	"github.com/woozymasta/fixtura/internal/version"
)

// Generator marks synthetic fixtures in metadata.
const Generator = "fixtura/fake"

var (
	maps      = []string{"chernarusplus", "livonia", "namalsk", "takistan", "enoch", "sakhal", "deerisle"}
	osTypes   = []string{"Windows", "Linux"}
	gameVers  = []string{"1.23.150000", "1.24.160000", "1.25.170000", "1.26.159040"}
	countries = []string{"US", "DE", "RU", "CN", "BR", "FR", "GB", "PL", "CZ", "KZ", "UA", "CA", "AU"}
	names     = []string{"Survivor", "Bandit", "Medic", "Hunter", "Fresh", "Sniper"}
)

// GenerateFixtures writes count randomized source fixtures into store and records them in
// catalog when it is not nil. It returns the number of fixtures written.
func GenerateFixtures(store *fixture.Storage, catalog capture.Recorder, count int, rng *rand.Rand) (int, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	written := 0
	for i := 0; i < count; i++ {
		// random moment in the last 30 days
		seen := time.Now().UTC().
			Add(-time.Duration(rng.IntN(30)) * 24 * time.Hour).
			Add(-time.Duration(rng.IntN(1440)) * time.Minute)

		addr := models.ServerAddress{
			IP:   fmt.Sprintf("%d.%d.%d.%d", rng.IntN(220)+1, rng.IntN(255), rng.IntN(255), rng.IntN(254)+1),
			Port: 2302 + rng.IntN(100),
		}
		country := countries[rng.IntN(len(countries))]
		info := randomInfo(rng, addr)

		result := models.NewCaptureResult([][]byte{infoPacket(info)}, info, map[string]any{
			capture.MetaIP:        addr.IP,
			capture.MetaPort:      addr.Port,
			capture.MetaProtocol:  game.SourceName,
			capture.MetaTimestamp: seen.Unix(),
			capture.MetaCaptureID: uuid.NewString(),
			capture.MetaGenerator: Generator,
			capture.MetaCountry:   country,
		})

		ver := version.Normalize(models.Value(info.GameVersion))
		path, err := store.Save(game.SourceName, ver, addr.IP, addr.Port, result)
		if err != nil {
			return written, err
		}
		written++

		if catalog == nil {
			continue
		}

		entry := models.CatalogEntry{
			Protocol:    game.SourceName,
			Version:     ver,
			IP:          addr.IP,
			Port:        addr.Port,
			Path:        path,
			CountryCode: country,
			ServerTitle: models.Value(info.ServerTitle),
			MapName:     models.Value(info.MapName),
			NumPlayers:  info.NumPlayers,
			MaxPlayers:  info.MaxPlayers,
			Online:      true,
			FirstSeen:   seen.Add(-7 * 24 * time.Hour),
			LastSeen:    seen,
		}
		if err := catalog.UpsertCapture(entry); err != nil {
			log.Warn().Err(err).Msg("Failed to catalog fake fixture")
		}
	}

	return written, nil
}

func randomInfo(rng *rand.Rand, addr models.ServerAddress) models.ServerInfo {
	info := models.NewServerInfo()
	info.Address = models.Ptr(addr.IP)
	info.QueryPort = models.Ptr(addr.Port)
	info.Online = true
	info.GameName = models.Ptr("DayZ")
	info.GameVersion = models.Ptr(gameVers[rng.IntN(len(gameVers))])
	info.ServerTitle = models.Ptr(fmt.Sprintf("DayZ Server #%d [PvP]", rng.IntN(1000)))
	info.MapName = models.Ptr(maps[rng.IntN(len(maps))])
	info.GameType = models.Ptr("survival")
	info.MaxPlayers = 60
	info.Rules["environment"] = osTypes[rng.IntN(len(osTypes))]

	for n := rng.IntN(8); n > 0; n-- {
		info.Players = append(info.Players, models.Player{
			Name:  fmt.Sprintf("%s%d", names[rng.IntN(len(names))], rng.IntN(100)),
			Score: rng.IntN(50),
			Time:  float64(rng.IntN(7200)),
		})
	}
	info.NumPlayers = len(info.Players)

	info.Name = info.ServerTitle
	info.Map = info.MapName
	info.Version = info.GameVersion
	info.PlayersCurrent = models.Ptr(info.NumPlayers)
	info.PlayersMax = models.Ptr(info.MaxPlayers)

	return info
}

// infoPacket builds a plausible A2S_INFO response header with null-terminated strings.
func infoPacket(info models.ServerInfo) []byte {
	var b bytes.Buffer
	b.Write([]byte{0xff, 0xff, 0xff, 0xff, 0x49, 0x11})
	for _, s := range []string{
		models.Value(info.ServerTitle),
		models.Value(info.MapName),
		"dayz",
		models.Value(info.GameName),
	} {
		b.WriteString(s)
		b.WriteByte(0)
	}
	b.Write([]byte{0x00, 0x00, byte(info.NumPlayers), byte(info.MaxPlayers)})

	return b.Bytes()
}
