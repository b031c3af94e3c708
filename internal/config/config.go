// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woozymasta/fixtura/internal/logger"
	"github.com/woozymasta/fixtura/internal/vars"
)

// Command names.
const (
	CmdCapture   = "capture"
	CmdList      = "list"
	CmdShow      = "show"
	CmdExport    = "export"
	CmdPrune     = "prune"
	CmdRecapture = "recapture"
	CmdWorker    = "worker"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Fixtures Fixtures      `group:"Fixture Options" namespace:"fixtures" env-namespace:"FIXTURA_FIXTURES"`
	Capture  Capture       `group:"Capture Options" namespace:"capture" env-namespace:"FIXTURA_CAPTURE"`
	A2S      A2S           `group:"A2S Options" namespace:"a2s" env-namespace:"FIXTURA_A2S"`
	Storage  Storage       `group:"Catalog Options" namespace:"db" env-namespace:"FIXTURA_DB"`
	GeoIP    GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"FIXTURA_GEOIP"`
	Logger   logger.Config `group:"Logger Options" namespace:"log" env-namespace:"FIXTURA_LOG"`

	CaptureCmd   CaptureCommand   `command:"capture" description:"Query a server and store the snapshot as a fixture"`
	ListCmd      ListCommand      `command:"list" description:"List stored fixtures"`
	ShowCmd      ShowCommand      `command:"show" description:"Print a stored fixture"`
	ExportCmd    ExportCommand    `command:"export" description:"Write raw packets of a fixture as pcap"`
	PruneCmd     PruneCommand     `command:"prune" description:"Drop catalog entries whose fixture file is gone"`
	RecaptureCmd RecaptureCommand `command:"recapture" description:"Capture every cataloged server again"`
	WorkerCmd    WorkerCommand    `command:"worker" hidden:"true" description:"Run one isolated capture read from stdin"`

	// Command is the name of the selected command, empty when none was given.
	Command string `no-flag:"true"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Fixtures holds fixture file storage configuration.
type Fixtures struct {
	// betteralign:ignore

	Root string `short:"d" long:"root" env:"ROOT" description:"Fixtures root directory" default:"fixtures"`
}

// Capture holds capture execution configuration.
type Capture struct {
	// betteralign:ignore

	Worker          bool          `short:"w" long:"worker" env:"WORKER" description:"Run queries in an isolated worker process"`
	Timeout         time.Duration `long:"timeout" env:"TIMEOUT" description:"Worker process deadline" default:"5s"`
	AttemptTimeout  time.Duration `long:"attempt-timeout" env:"ATTEMPT_TIMEOUT" description:"Per-attempt query timeout inside the worker" default:"5s"`
	MaxRetries      int           `long:"max-retries" env:"MAX_RETRIES" description:"Players-only retries when the player list is empty" default:"2"`
	Backoff         time.Duration `long:"backoff" env:"BACKOFF" description:"Pause between worker retries" default:"200ms"`
	DefaultProtocol string        `long:"default-protocol" env:"DEFAULT_PROTOCOL" description:"Protocol picked by auto-detection" default:"source"`
}

// A2S holds Source Query protocol configuration.
type A2S struct {
	// betteralign:ignore

	Timeout    time.Duration `long:"timeout" env:"TIMEOUT" description:"Query timeout" default:"3s"`
	BufferSize uint16        `long:"buffer-size" env:"BUFFER_SIZE" description:"Response body buffer size" default:"1400"`
}

// Storage holds catalog database configuration.
type Storage struct {
	// betteralign:ignore

	Path          string `long:"path" env:"PATH" description:"Path to SQLite catalog, empty disables the catalog"`
	GenerateCount int    `long:"gen-fake-fixtures" hidden:"true"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file, empty disables country annotation"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB from when missing or outdated"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// Endpoint is a positional server address.
type Endpoint struct {
	IP   string `positional-arg-name:"ip" description:"Server IP address"`
	Port int    `positional-arg-name:"port" description:"Server query port"`
}

// FixtureKey is a positional fixture key.
type FixtureKey struct {
	Protocol string `positional-arg-name:"protocol"`
	Version  string `positional-arg-name:"version"`
	IP       string `positional-arg-name:"ip"`
	Port     int    `positional-arg-name:"port"`
}

// CaptureCommand holds options of the capture command.
type CaptureCommand struct {
	Labels   map[string]string `short:"L" long:"label" description:"Label stored in fixture metadata (key:value)"`
	Protocol string            `short:"p" long:"protocol" description:"Protocol name or auto" default:"auto"`
	Args     Endpoint          `positional-args:"yes" required:"yes"`
}

// ListCommand holds options of the list command.
type ListCommand struct {
	Filter string `short:"f" long:"filter" description:"CEL expression over metadata, server_info and packets"`
	JSON   bool   `long:"json" description:"Print matching records as JSON lines"`
}

// ShowCommand holds options of the show command.
type ShowCommand struct {
	Args FixtureKey `positional-args:"yes" required:"yes"`
}

// ExportCommand holds options of the export command.
type ExportCommand struct {
	Output string     `short:"o" long:"output" description:"Output pcap file" required:"true"`
	Args   FixtureKey `positional-args:"yes" required:"yes"`
}

// PruneCommand holds options of the prune command.
type PruneCommand struct {
	Protocol string `long:"protocol" description:"Restrict to one protocol"`
}

// RecaptureCommand holds options of the recapture command.
type RecaptureCommand struct {
	Protocol string  `long:"protocol" description:"Restrict to one protocol"`
	Workers  int     `long:"workers" description:"Concurrent captures" default:"4"`
	Rate     float64 `long:"rate" description:"Captures started per second" default:"2"`
	Progress bool    `long:"progress" description:"Show a progress bar"`
}

// WorkerCommand runs the worker side of an isolated capture.
type WorkerCommand struct{}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	cfg, err := ParseArgs(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	return cfg
}

// ParseArgs parses args without exiting the process.
func ParseArgs(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"
	parser.SubcommandsOptional = true

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if parser.Active != nil {
		cfg.Command = parser.Active.Name
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Command == CmdCapture {
		if c.CaptureCmd.Args.Port <= 0 || c.CaptureCmd.Args.Port > 65535 {
			return fmt.Errorf("invalid port %d", c.CaptureCmd.Args.Port)
		}
	}

	if c.Capture.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.Capture.MaxRetries)
	}

	if c.Capture.Timeout <= 0 {
		return fmt.Errorf("capture timeout must be positive, got %s", c.Capture.Timeout)
	}

	if c.Command == "" && !c.Version && c.Storage.GenerateCount == 0 {
		return errors.New("no command given, see --help")
	}

	return nil
}

// WorkerArgs returns the arguments that start a worker process with the options it needs.
func (c *Config) WorkerArgs() []string {
	return []string{
		"--a2s-timeout", c.A2S.Timeout.String(),
		"--a2s-buffer-size", strconv.Itoa(int(c.A2S.BufferSize)),
		"--capture-default-protocol", c.Capture.DefaultProtocol,
		"--log-level", c.Logger.Level,
		"--log-format", c.Logger.Format,
		CmdWorker,
	}
}
