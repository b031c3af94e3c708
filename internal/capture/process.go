package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/woozymasta/fixtura/internal/models"
	"github.com/woozymasta/fixtura/internal/protocol"
)

// DefaultWorkerTimeout is the parent-side deadline for one worker process.
const DefaultWorkerTimeout = 5 * time.Second

// waitDelay is how long the parent waits for worker pipes after killing it.
const waitDelay = time.Second

// Launcher describes how to start a worker process.
type Launcher struct {
	// Path to the executable; empty means the current executable.
	Path string

	// Args passed to the executable.
	Args []string

	// Env is appended to the parent environment.
	Env []string
}

// WorkerOptions configure a WorkerStrategy.
type WorkerOptions struct {
	Stderr         io.Writer
	Launcher       Launcher
	Timeout        time.Duration
	AttemptTimeout time.Duration
	Backoff        time.Duration
	MaxRetries     int
}

// DefaultWorkerOptions returns options with default timeouts and retry settings.
func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Timeout:        DefaultWorkerTimeout,
		AttemptTimeout: DefaultAttemptTimeout,
		MaxRetries:     DefaultMaxRetries,
		Backoff:        DefaultBackoff,
	}
}

// WorkerStrategy runs every query in a separate worker process and kills it on deadline.
type WorkerStrategy struct {
	opts WorkerOptions
}

// NewWorkerStrategy creates a WorkerStrategy.
func NewWorkerStrategy(opts WorkerOptions) *WorkerStrategy {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultWorkerTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	worst := time.Duration(opts.MaxRetries+1)*opts.AttemptTimeout + time.Duration(opts.MaxRetries)*opts.Backoff
	if opts.AttemptTimeout > 0 && worst > opts.Timeout {
		log.Warn().
			Dur("timeout", opts.Timeout).
			Dur("worst_case", worst).
			Msg("Worker timeout is shorter than all retry attempts, late retries will be cut off")
	}

	return &WorkerStrategy{opts: opts}
}

// Capture implements Strategy.
func (s *WorkerStrategy) Capture(ctx context.Context, handler protocol.Handler, addr models.ServerAddress, opts Options) (models.CaptureResult, error) {
	payload, err := msgpack.Marshal(workerRequest{
		Version:        ipcVersion,
		Protocol:       handlerName(handler),
		IP:             addr.IP,
		Port:           addr.Port,
		AttemptTimeout: s.opts.AttemptTimeout,
		MaxRetries:     s.opts.MaxRetries,
		Backoff:        s.opts.Backoff,
	})
	if err != nil {
		return models.CaptureResult{}, fmt.Errorf("%w: encode request: %v", ErrWorkerFailed, err)
	}

	path := s.opts.Launcher.Path
	if path == "" {
		if path, err = os.Executable(); err != nil {
			return models.CaptureResult{}, fmt.Errorf("%w: %v", ErrWorkerFailed, err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(runCtx, path, s.opts.Launcher.Args...)
	cmd.Env = append(append(os.Environ(), s.opts.Launcher.Env...), WorkerEnv+"=1")
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = s.opts.Stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return models.CaptureResult{}, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return models.CaptureResult{}, fmt.Errorf("%w after %s (%s)", ErrWorkerTimeout, s.opts.Timeout, addr)
		}

		return models.CaptureResult{}, fmt.Errorf("%w: %v", ErrWorkerFailed, err)
	}

	var resp workerResponse
	if err := msgpack.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return models.CaptureResult{}, fmt.Errorf("%w: malformed response: %v", ErrWorkerFailed, err)
	}
	if resp.Version != ipcVersion {
		return models.CaptureResult{}, fmt.Errorf("%w: %w: got %d", ErrWorkerFailed, errIPCVersion, resp.Version)
	}

	for _, line := range resp.Debug {
		log.Debug().Str("ip", addr.IP).Int("port", addr.Port).Msg(line)
	}

	if err := resp.err(); err != nil {
		return models.CaptureResult{}, err
	}

	log.Debug().
		Str("ip", addr.IP).
		Int("port", addr.Port).
		Int("pid", cmd.ProcessState.Pid()).
		Dur("duration", time.Since(start)).
		Msg("Worker query finished")

	meta := baseMetadata(addr, protocolLabel(handler, opts), time.Now())
	meta[MetaWorkerUsed] = true

	return models.NewCaptureResult(nil, resp.ServerInfo.Normalized(), meta), nil
}
