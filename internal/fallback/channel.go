package fallback

import (
	"context"
	"errors"

	"github.com/greenroute/fleetlink/internal/model"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("fallback channel closed")

// Channel is a non-WebSocket real-time transport.
type Channel interface {
	// Initialize establishes the channel. It returns false when the
	// channel is unavailable in this environment.
	Initialize(ctx context.Context) (bool, error)

	// Send delivers an outbound envelope.
	Send(ctx context.Context, env model.Envelope) error

	// On registers a callback for every inbound frame. Callbacks run on the
	// channel's reader goroutine in arrival order.
	On(fn func(frame []byte))

	// Done is closed when the channel stops delivering frames.
	Done() <-chan struct{}

	// Close releases the channel. It is safe to call more than once.
	Close() error
}

// Factory builds a fresh, uninitialized Channel for each negotiation.
// A nil Factory means no fallback channel is configured.
type Factory func() Channel

// Poster sends envelopes over plain HTTP.
type Poster interface {
	PostMessage(ctx context.Context, env model.Envelope) error
}
