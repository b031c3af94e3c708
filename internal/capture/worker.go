package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/fixtura/internal/models"
	"github.com/woozymasta/fixtura/internal/protocol"
)

// Default Worker settings.
const (
	DefaultAttemptTimeout = 5 * time.Second
	DefaultMaxRetries     = 2
	DefaultBackoff        = 200 * time.Millisecond
)

// Worker queries a server and retries when the snapshot comes back without players.
type Worker struct {
	resolver *protocol.Resolver

	// AttemptTimeout bounds every single query.
	AttemptTimeout time.Duration

	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries int

	// Backoff is the pause before every retry.
	Backoff time.Duration
}

// WorkerResult is the outcome of Worker.Query.
type WorkerResult struct {
	Debug      []string          `msgpack:"debug"`
	ServerInfo models.ServerInfo `msgpack:"server_info"`
}

// NewWorker creates a Worker with default settings.
func NewWorker(resolver *protocol.Resolver) *Worker {
	return &Worker{
		resolver:       resolver,
		AttemptTimeout: DefaultAttemptTimeout,
		MaxRetries:     DefaultMaxRetries,
		Backoff:        DefaultBackoff,
	}
}

// Query resolves the handler and runs at most 1+MaxRetries attempts. A failed first attempt
// is returned as an error; a failed retry keeps the snapshot already obtained.
func (w *Worker) Query(ctx context.Context, protocolName, ip string, port int) (WorkerResult, error) {
	handler, err := w.resolver.Resolve(protocolName, ip, port)
	if err != nil {
		return WorkerResult{}, err
	}

	if setter, ok := handler.(protocol.TimeoutSetter); ok && w.AttemptTimeout > 0 {
		setter.SetTimeout(w.AttemptTimeout)
	}

	addr := models.ServerAddress{IP: ip, Port: port}
	attempts := 1 + max(w.MaxRetries, 0)
	debug := []string{}

	info, err := w.attempt(ctx, func(ctx context.Context) (models.ServerInfo, error) {
		return handler.Query(ctx, addr)
	})
	debug = appendTrace(debug, handler, 1, attempts, "full", len(info.Players), err)
	if err != nil {
		return WorkerResult{Debug: debug}, err
	}

	for n := 2; n <= attempts && len(info.Players) == 0; n++ {
		if !pause(ctx, w.Backoff) {
			debug = append(debug, fmt.Sprintf("attempt %d/%d skipped: %v", n, attempts, ctx.Err()))
			break
		}

		mode, fetch := playersOnly(handler, addr)
		next, err := w.attempt(ctx, fetch)
		debug = appendTrace(debug, handler, n, attempts, mode, len(next.Players), err)
		if err != nil {
			log.Debug().Err(err).Str("ip", ip).Int("port", port).Int("attempt", n).Msg("Retry failed, keeping first snapshot")
			break
		}

		info.Players = next.Players
	}

	return WorkerResult{Debug: debug, ServerInfo: info.Normalized()}, nil
}

func (w *Worker) attempt(ctx context.Context, fn func(context.Context) (models.ServerInfo, error)) (models.ServerInfo, error) {
	if w.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.AttemptTimeout)
		defer cancel()
	}

	return fn(ctx)
}

// playersOnly prefers a players-only request and falls back to a full query.
func playersOnly(handler protocol.Handler, addr models.ServerAddress) (string, func(context.Context) (models.ServerInfo, error)) {
	if pq, ok := handler.(protocol.PlayerQuerier); ok {
		return "players", func(ctx context.Context) (models.ServerInfo, error) {
			players, err := pq.QueryPlayers(ctx, addr)
			return models.ServerInfo{Players: players}, err
		}
	}

	return "full", func(ctx context.Context) (models.ServerInfo, error) {
		return handler.Query(ctx, addr)
	}
}

func appendTrace(debug []string, handler protocol.Handler, n, total int, mode string, players int, err error) []string {
	if tracer, ok := handler.(protocol.Tracer); ok {
		debug = append(debug, tracer.Trace()...)
	}

	if err != nil {
		return append(debug, fmt.Sprintf("attempt %d/%d %s: error: %v", n, total, mode, err))
	}

	return append(debug, fmt.Sprintf("attempt %d/%d %s: players=%d", n, total, mode, players))
}

// pause waits for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
