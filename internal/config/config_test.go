package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCaptureDefaults(t *testing.T) {
	cfg, err := ParseArgs([]string{"capture", "1.2.3.4", "27016"})
	require.NoError(t, err)

	assert.Equal(t, CmdCapture, cfg.Command)
	assert.Equal(t, "1.2.3.4", cfg.CaptureCmd.Args.IP)
	assert.Equal(t, 27016, cfg.CaptureCmd.Args.Port)
	assert.Equal(t, "auto", cfg.CaptureCmd.Protocol)

	assert.Equal(t, "fixtures", cfg.Fixtures.Root)
	assert.False(t, cfg.Capture.Worker)
	assert.Equal(t, 5*time.Second, cfg.Capture.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Capture.AttemptTimeout)
	assert.Equal(t, 2, cfg.Capture.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Capture.Backoff)
	assert.Equal(t, "source", cfg.Capture.DefaultProtocol)
	assert.Equal(t, 3*time.Second, cfg.A2S.Timeout)
	assert.Equal(t, uint16(1400), cfg.A2S.BufferSize)
	assert.Empty(t, cfg.Storage.Path)
}

func TestParseCaptureOptions(t *testing.T) {
	cfg, err := ParseArgs([]string{
		"--fixtures-root", "/tmp/fx", "--capture-worker", "--capture-timeout", "20s",
		"capture", "-p", "source", "-L", "env:ci", "-L", "owner:qa", "10.0.0.2", "2303",
	})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/fx", cfg.Fixtures.Root)
	assert.True(t, cfg.Capture.Worker)
	assert.Equal(t, 20*time.Second, cfg.Capture.Timeout)
	assert.Equal(t, "source", cfg.CaptureCmd.Protocol)
	assert.Equal(t, map[string]string{"env": "ci", "owner": "qa"}, cfg.CaptureCmd.Labels)
}

func TestParseRejectsBadPort(t *testing.T) {
	_, err := ParseArgs([]string{"capture", "1.2.3.4", "0"})
	assert.Error(t, err)

	_, err = ParseArgs([]string{"capture", "1.2.3.4", "70000"})
	assert.Error(t, err)
}

func TestParseRequiresCommand(t *testing.T) {
	_, err := ParseArgs([]string{})
	assert.Error(t, err)

	cfg, err := ParseArgs([]string{"--version"})
	require.NoError(t, err)
	assert.True(t, cfg.Version)
}

func TestWorkerArgsRoundTrip(t *testing.T) {
	cfg, err := ParseArgs([]string{"--a2s-timeout", "750ms", "--a2s-buffer-size", "4096", "--log-level", "debug", "list"})
	require.NoError(t, err)

	worker, err := ParseArgs(cfg.WorkerArgs())
	require.NoError(t, err)

	assert.Equal(t, CmdWorker, worker.Command)
	assert.Equal(t, 750*time.Millisecond, worker.A2S.Timeout)
	assert.Equal(t, uint16(4096), worker.A2S.BufferSize)
	assert.Equal(t, "debug", worker.Logger.Level)
	assert.Equal(t, cfg.Capture.DefaultProtocol, worker.Capture.DefaultProtocol)
}
