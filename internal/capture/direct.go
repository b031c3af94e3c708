package capture

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/fixtura/internal/models"
	"github.com/woozymasta/fixtura/internal/protocol"
)

// DirectStrategy runs the query synchronously in the calling goroutine.
// It adds no timeout or retry on top of what the handler does itself.
type DirectStrategy struct{}

// NewDirectStrategy creates a DirectStrategy.
func NewDirectStrategy() *DirectStrategy {
	return &DirectStrategy{}
}

// Capture implements Strategy. Handler errors are returned unmodified.
func (DirectStrategy) Capture(ctx context.Context, handler protocol.Handler, addr models.ServerAddress, opts Options) (models.CaptureResult, error) {
	start := time.Now()

	info, err := handler.Query(ctx, addr)
	if err != nil {
		return models.CaptureResult{}, err
	}

	log.Debug().
		Str("ip", addr.IP).
		Int("port", addr.Port).
		Dur("duration", time.Since(start)).
		Msg("Direct query finished")

	return models.NewCaptureResult(nil, info.Normalized(), baseMetadata(addr, protocolLabel(handler, opts), time.Now())), nil
}
