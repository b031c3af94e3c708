package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/fixtura/internal/capture"
	"github.com/woozymasta/fixtura/internal/config"
	"github.com/woozymasta/fixtura/internal/filter"
	"github.com/woozymasta/fixtura/internal/fixture"
	"github.com/woozymasta/fixtura/internal/maintenance"
	"github.com/woozymasta/fixtura/internal/models"
	"github.com/woozymasta/fixtura/internal/pcap"
)

var (
	errNoCatalog = errors.New("catalog is disabled, set --db-path")
	errNotFound  = errors.New("fixture not found or unreadable")
)

func (a *app) dispatch(ctx context.Context) error {
	switch a.cfg.Command {
	case config.CmdCapture:
		return a.capture(ctx, os.Stdout)
	case config.CmdList:
		return a.list(os.Stdout)
	case config.CmdShow:
		return a.show(os.Stdout)
	case config.CmdExport:
		return a.export()
	case config.CmdPrune:
		return a.prune()
	case config.CmdRecapture:
		return a.recapture(ctx)
	default:
		return fmt.Errorf("unknown command %q", a.cfg.Command)
	}
}

func (a *app) capture(ctx context.Context, w io.Writer) error {
	cmd := a.cfg.CaptureCmd

	path, err := a.service.Capture(ctx, cmd.Args.IP, cmd.Args.Port, cmd.Protocol, capture.Options{Labels: cmd.Labels})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, path)
	return err
}

func (a *app) list(w io.Writer) error {
	var f *filter.Filter
	if expr := a.cfg.ListCmd.Filter; expr != "" {
		var err error
		if f, err = filter.Compile(expr); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !a.cfg.ListCmd.JSON {
		fmt.Fprintln(tw, "PROTOCOL\tVERSION\tSERVER\tTITLE\tPLAYERS\tCAPTURED")
	}
	enc := json.NewEncoder(w)

	for _, e := range a.fixtures.Entries() {
		if f != nil {
			ok, err := f.Match(e.Record)
			if err != nil {
				log.Debug().Err(err).Str("path", e.Path).Msg("Filter evaluation failed, skipping")
				continue
			}
			if !ok {
				continue
			}
		}

		if a.cfg.ListCmd.JSON {
			rec := map[string]any{"path": e.Path}
			for k, v := range e.Record {
				rec[k] = v
			}
			if err := enc.Encode(rec); err != nil {
				return err
			}
			continue
		}

		fmt.Fprintln(tw, summaryLine(e))
	}

	if a.cfg.ListCmd.JSON {
		return nil
	}

	return tw.Flush()
}

// summaryLine renders one tab separated row of the list table.
func summaryLine(e fixture.Entry) string {
	meta, _ := e.Record[fixture.KeyMetadata].(map[string]any)
	info, _ := e.Record[fixture.KeyServerInfo].(map[string]any)

	versionDir := filepath.Base(filepath.Dir(e.Path))
	protocolDir := filepath.Base(filepath.Dir(filepath.Dir(e.Path)))

	captured := "-"
	if ts, ok := meta[capture.MetaTimestamp].(float64); ok {
		captured = humanize.Time(time.Unix(int64(ts), 0))
	}

	return fmt.Sprintf("%s\t%s\t%v:%v\t%v\t%v/%v\t%s",
		protocolDir, versionDir,
		meta[capture.MetaIP], meta[capture.MetaPort],
		orDash(info[models.KeyServerTitle]),
		info[models.KeyNumPlayers], info[models.KeyMaxPlayers],
		captured)
}

func orDash(v any) any {
	if v == nil {
		return "-"
	}
	return v
}

func (a *app) load(key config.FixtureKey) (models.CaptureResult, error) {
	result, ok := a.fixtures.Load(key.Protocol, key.Version, key.IP, key.Port)
	if !ok {
		return models.CaptureResult{}, fmt.Errorf("%w: %s", errNotFound, a.fixtures.Path(key.Protocol, key.Version, key.IP, key.Port))
	}
	return result, nil
}

type packetView struct {
	Hex  string `json:"hex"`
	Size string `json:"size"`
}

func (a *app) show(w io.Writer) error {
	result, err := a.load(a.cfg.ShowCmd.Args)
	if err != nil {
		return err
	}

	packets := make([]packetView, 0, len(result.RawPackets))
	for _, p := range result.RawPackets {
		packets = append(packets, packetView{Size: humanize.Bytes(uint64(len(p))), Hex: hex.EncodeToString(p)})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(map[string]any{
		fixture.KeyMetadata:   result.Metadata,
		fixture.KeyServerInfo: result.ServerInfo.ToMap(),
		fixture.KeyPackets:    packets,
	})
}

func (a *app) export() error {
	cmd := a.cfg.ExportCmd

	result, err := a.load(cmd.Args)
	if err != nil {
		return err
	}

	ts := time.Now()
	if v, ok := result.Metadata[capture.MetaTimestamp].(float64); ok {
		ts = time.Unix(int64(v), 0)
	}

	out, err := os.Create(cmd.Output)
	if err != nil {
		return err
	}

	addr := models.ServerAddress{IP: cmd.Args.IP, Port: cmd.Args.Port}
	if err := pcap.Write(out, addr, result.RawPackets, ts); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	size := uint64(0)
	if st, err := os.Stat(cmd.Output); err == nil {
		size = uint64(st.Size())
	}

	log.Info().
		Str("output", cmd.Output).
		Int("packets", len(result.RawPackets)).
		Str("size", humanize.Bytes(size)).
		Msg("Packets exported")

	return nil
}

func (a *app) prune() error {
	if a.catalog == nil {
		return errNoCatalog
	}

	removed, err := maintenance.Prune(a.catalog, a.fixtures, a.cfg.PruneCmd.Protocol)
	if err != nil {
		return err
	}

	log.Info().Int("deleted", removed).Msg("Prune finished")
	return nil
}

func (a *app) recapture(ctx context.Context) error {
	cmd := a.cfg.RecaptureCmd

	var entries []models.CatalogEntry
	if a.catalog != nil {
		var err error
		if entries, err = a.catalog.GetCapturesSubset(cmd.Protocol); err != nil {
			return err
		}
	} else {
		entries = entriesFromFixtures(a.fixtures, cmd.Protocol)
	}

	if len(entries) == 0 {
		log.Info().Msg("Nothing to recapture")
		return nil
	}

	opts := maintenance.RecaptureOptions{
		Workers: cmd.Workers,
		Rate:    cmd.Rate,
	}
	if cmd.Progress {
		opts.Progress = os.Stderr
	}

	_, err := maintenance.Recapture(ctx, a.service, entries, opts)
	return err
}

// entriesFromFixtures rebuilds recapture targets from fixture files when no catalog is configured.
func entriesFromFixtures(store *fixture.Storage, protocolName string) []models.CatalogEntry {
	var entries []models.CatalogEntry

	for _, e := range store.Entries() {
		meta, _ := e.Record[fixture.KeyMetadata].(map[string]any)
		ip, _ := meta[capture.MetaIP].(string)
		port, _ := meta[capture.MetaPort].(float64)
		proto := filepath.Base(filepath.Dir(filepath.Dir(e.Path)))

		if ip == "" || port <= 0 || (protocolName != "" && proto != protocolName) {
			continue
		}

		entries = append(entries, models.CatalogEntry{
			Protocol: proto,
			Version:  filepath.Base(filepath.Dir(e.Path)),
			IP:       ip,
			Port:     int(port),
			Path:     e.Path,
		})
	}

	return entries
}
