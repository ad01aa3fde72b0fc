package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	sse "github.com/tmaxmax/go-sse"

	"github.com/greenroute/fleetlink/internal/model"
)

// SSEConfig configures an SSE channel.
type SSEConfig struct {
	URL       string // full stream URL, e.g. https://fleet.example.com/api/events
	AuthToken string
	UserAgent string
	// Retries is how often a dropped stream is reopened, resuming from the
	// last event id, before Done is closed. 0 disables resumption.
	Retries int
}

// SSE is a Channel reading a text/event-stream and posting outbound
// envelopes through a Poster.
type SSE struct {
	cfg    SSEConfig
	http   *http.Client
	poster Poster
	logger *slog.Logger

	mu       sync.Mutex
	handlers []func([]byte)
	cancel   context.CancelFunc
	started  bool
	open     bool
	closed   bool

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewSSE creates an SSE channel. hc may be nil; it must not carry a client
// timeout since the stream is long-lived.
func NewSSE(cfg SSEConfig, hc *http.Client, poster Poster, logger *slog.Logger) *SSE {
	if hc == nil {
		hc = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SSE{
		cfg:    cfg,
		http:   hc,
		poster: poster,
		logger: logger.With("component", "sse"),
		done:   make(chan struct{}),
	}
}

// NewSSEFactory returns a Factory producing SSE channels with shared settings.
func NewSSEFactory(cfg SSEConfig, hc *http.Client, poster Poster, logger *slog.Logger) Factory {
	return func() Channel {
		return NewSSE(cfg, hc, poster, logger)
	}
}

// Initialize opens the stream. ctx bounds only the handshake; the stream
// lives until Close.
func (s *SSE) Initialize(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	if s.started {
		open := s.open
		s.mu.Unlock()
		if !open {
			return false, ErrClosed
		}
		return true, nil
	}
	s.started = true
	streamCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		s.abort()
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	opened := make(chan struct{})
	var openOnce sync.Once
	client := &sse.Client{
		HTTPClient: s.http,
		ResponseValidator: func(resp *http.Response) error {
			if err := sse.DefaultValidator(resp); err != nil {
				return err
			}
			openOnce.Do(func() { close(opened) })
			return nil
		},
		Backoff: sse.Backoff{MaxRetries: maxRetries(s.cfg.Retries)},
	}

	conn := client.NewConnection(req)
	conn.SubscribeToAll(func(ev sse.Event) {
		if ev.Data == "" {
			return
		}
		s.deliver([]byte(ev.Data))
	})

	ended := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.markDone()
		err := conn.Connect()
		ended <- err
		s.streamEnded(opened, err)
	}()

	select {
	case <-opened:
	case err := <-ended:
		s.abort()
		return false, fmt.Errorf("open stream: %w", err)
	case <-ctx.Done():
		s.abort()
		return false, ctx.Err()
	}

	s.mu.Lock()
	s.open = true
	s.mu.Unlock()

	s.logger.Info("fallback stream open", "url", s.cfg.URL)
	return true, nil
}

// maxRetries maps a retry count onto the client's convention, where 0
// retries forever and -1 never retries.
func maxRetries(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

// abort cancels a stream that never opened.
func (s *SSE) abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *SSE) streamEnded(opened <-chan struct{}, err error) {
	select {
	case <-opened:
	default:
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if err != nil {
		s.logger.Warn("fallback stream ended", "error", err)
		return
	}
	s.logger.Info("fallback stream closed by server")
}

// Send posts the envelope to the message endpoint.
func (s *SSE) Send(ctx context.Context, env model.Envelope) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if s.poster == nil {
		return fmt.Errorf("sse: no poster configured")
	}
	return s.poster.PostMessage(ctx, env)
}

// On registers a frame callback.
func (s *SSE) On(fn func([]byte)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// Done is closed when the stream ends or the channel is closed.
func (s *SSE) Done() <-chan struct{} {
	return s.done
}

// Close stops the stream and waits for the reader to exit.
func (s *SSE) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.markDone()
	return nil
}

func (s *SSE) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *SSE) deliver(frame []byte) {
	s.mu.Lock()
	handlers := make([]func([]byte), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(frame)
	}
}
