package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/woozymasta/fixtura/internal/models"
	"github.com/woozymasta/fixtura/internal/protocol"
)

// WorkerEnv marks a process started as a capture worker.
const WorkerEnv = "FIXTURA_CAPTURE_WORKER"

// ipcVersion is bumped on any incompatible change of the worker envelopes.
const ipcVersion = 1

// Error kinds reported by a worker.
const (
	kindUnknownProtocol = "unknown_protocol"
	kindQuery           = "query"
)

var errIPCVersion = errors.New("worker envelope version mismatch")

// workerRequest is written by the parent to the worker stdin.
type workerRequest struct {
	Protocol       string        `msgpack:"protocol"`
	IP             string        `msgpack:"ip"`
	Port           int           `msgpack:"port"`
	AttemptTimeout time.Duration `msgpack:"attempt_timeout"`
	MaxRetries     int           `msgpack:"max_retries"`
	Backoff        time.Duration `msgpack:"backoff"`
	Version        int           `msgpack:"v"`
}

// workerResponse is written by the worker to its stdout.
type workerResponse struct {
	Error      string            `msgpack:"error,omitempty"`
	ErrorKind  string            `msgpack:"error_kind,omitempty"`
	Debug      []string          `msgpack:"debug"`
	ServerInfo models.ServerInfo `msgpack:"server_info"`
	Version    int               `msgpack:"v"`
}

// IsWorkerProcess reports whether the current process was started by WorkerStrategy.
func IsWorkerProcess() bool {
	return os.Getenv(WorkerEnv) == "1"
}

// ServeWorker reads one request from r, runs the Worker logic and writes one response to w.
// Query failures are reported inside the response; the returned error covers broken IPC only.
func ServeWorker(ctx context.Context, resolver *protocol.Resolver, r io.Reader, w io.Writer) error {
	var req workerRequest
	if err := msgpack.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("failed to decode worker request: %w", err)
	}
	if req.Version != ipcVersion {
		return fmt.Errorf("%w: got %d, want %d", errIPCVersion, req.Version, ipcVersion)
	}

	worker := &Worker{
		resolver:       resolver,
		AttemptTimeout: req.AttemptTimeout,
		MaxRetries:     req.MaxRetries,
		Backoff:        req.Backoff,
	}

	result, err := worker.Query(ctx, req.Protocol, req.IP, req.Port)
	resp := workerResponse{
		Version:    ipcVersion,
		Debug:      result.Debug,
		ServerInfo: result.ServerInfo,
	}
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = kindQuery
		if errors.Is(err, protocol.ErrUnknownProtocol) {
			resp.ErrorKind = kindUnknownProtocol
		}
	}

	if err := msgpack.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode worker response: %w", err)
	}

	return nil
}

// err maps a reported worker error back onto the package sentinels.
func (resp workerResponse) err() error {
	if resp.Error == "" {
		return nil
	}

	if resp.ErrorKind == kindUnknownProtocol {
		return fmt.Errorf("%w: %s", protocol.ErrUnknownProtocol, resp.Error)
	}

	return fmt.Errorf("%w: %s", ErrHandlerQuery, resp.Error)
}
