// Package capture queries game servers through protocol handlers, either in-process or in an
// isolated worker process, and stores the resulting snapshots as fixtures.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/woozymasta/fixtura/internal/models"
	"github.com/woozymasta/fixtura/internal/protocol"
)

// Metadata keys written by every strategy.
const (
	MetaIP         = "ip"
	MetaPort       = "port"
	MetaProtocol   = "protocol"
	MetaTimestamp  = "timestamp"
	MetaWorkerUsed = "worker_used"
)

var (
	// ErrWorkerTimeout is returned when the worker process exceeds its deadline.
	ErrWorkerTimeout = errors.New("capture worker timed out")

	// ErrHandlerQuery is returned when the protocol handler failed inside the worker.
	ErrHandlerQuery = errors.New("handler query failed")

	// ErrWorkerFailed is returned when the worker process crashed or replied with garbage.
	ErrWorkerFailed = errors.New("capture worker failed")

	// ErrInvalidAddress is returned for an empty IP or a port outside 1..65535.
	ErrInvalidAddress = errors.New("invalid server address")
)

// Options tune a single capture.
type Options struct {
	// Labels are stored in fixture metadata.
	Labels map[string]string

	// ProtocolName is only used to label metadata.
	ProtocolName string
}

// Strategy runs a query and wraps the snapshot into a capture result.
type Strategy interface {
	Capture(ctx context.Context, handler protocol.Handler, addr models.ServerAddress, opts Options) (models.CaptureResult, error)
}

// protocolLabel picks the metadata protocol label: the requested name, then the handler name,
// then protocol.DefaultName.
func protocolLabel(handler protocol.Handler, opts Options) string {
	if opts.ProtocolName != "" {
		return opts.ProtocolName
	}

	return handlerName(handler)
}

func handlerName(handler protocol.Handler) string {
	if name := handler.ProtocolName(); name != "" {
		return name
	}

	return protocol.DefaultName
}

func baseMetadata(addr models.ServerAddress, protocolName string, now time.Time) map[string]any {
	return map[string]any{
		MetaIP:        addr.IP,
		MetaPort:      addr.Port,
		MetaProtocol:  protocolName,
		MetaTimestamp: now.Unix(),
	}
}
