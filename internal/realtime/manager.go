package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/greenroute/fleetlink/internal/cache"
	"github.com/greenroute/fleetlink/internal/connection"
	"github.com/greenroute/fleetlink/internal/dispatch"
	"github.com/greenroute/fleetlink/internal/fallback"
	"github.com/greenroute/fleetlink/internal/guard"
	"github.com/greenroute/fleetlink/internal/metrics"
	"github.com/greenroute/fleetlink/internal/model"
	"github.com/greenroute/fleetlink/internal/outbox"
	"github.com/greenroute/fleetlink/internal/poller"
)

// Errors
var (
	ErrAlreadyStarted = errors.New("manager already started")
	ErrStopped        = errors.New("manager stopped")
)

// Manager owns the client's single active transport.
//
// Lock order: sendMu before mu. sendMu serializes everything that touches
// the outbound queue so flushes and sends stay in FIFO order.
type Manager struct {
	cfg    Config
	wsURL  string
	logger *slog.Logger

	store      *cache.Store
	guard      *guard.Guard
	dispatcher *dispatch.Dispatcher
	http       HTTPTransport
	fallback   fallback.Factory
	dial       DialFunc

	queue  *outbox.Ring[model.Envelope]
	sendMu sync.Mutex

	mu         sync.Mutex
	started    bool
	closed     bool
	connecting bool
	mode       Mode

	ws     connection.Client
	wsGen  uint64
	wsStop chan struct{}
	fb     fallback.Channel
	poll   *poller.Poller

	backoff        *reconnectBackoff
	attempts       int
	reconnectTimer *time.Timer
	pongTimer      *time.Timer
	lastLive       time.Time
	clientID       string

	warnedWS        bool
	warnedFallback  bool
	warnedExhausted bool

	// Test hooks.
	afterFunc func(time.Duration, func()) *time.Timer
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Manager. Handlers that keep deps.Cache current are
// registered on the dispatcher.
func New(cfg Config, deps Deps) (*Manager, error) {
	wsURL, err := connection.BuildURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "realtime")

	if deps.Cache == nil {
		deps.Cache = cache.NewStore()
	}
	if deps.Guard == nil {
		deps.Guard = guard.New(guard.DefaultConfig(), logger)
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = dispatch.New(logger)
	}
	if deps.Dial == nil {
		deps.Dial = connection.NewClient
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		wsURL:      wsURL,
		logger:     logger,
		store:      deps.Cache,
		guard:      deps.Guard,
		dispatcher: deps.Dispatcher,
		http:       deps.HTTP,
		fallback:   deps.Fallback,
		dial:       deps.Dial,
		queue:      outbox.NewRing[model.Envelope](cfg.QueueCapacity),
		mode:       ModeDisconnected,
		backoff:    newReconnectBackoff(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay),
		afterFunc:  time.AfterFunc,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
	m.queue.OnDrop = func(env model.Envelope) {
		metrics.OutboxDropped.Inc()
		m.logger.Warn("outbound queue full, dropped oldest message", "type", env.Type, "id", env.ID)
	}
	m.registerHandlers()
	metrics.SetTransportMode(string(ModeDisconnected))

	return m, nil
}

// Start begins transport negotiation and the health check.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStopped
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	m.cancel()
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.goLocked(m.healthLoop)
	m.goLocked(m.connect)

	m.logger.Info("realtime manager started", "url", m.wsURL)
	return nil
}

// Stop closes every transport and cancels all timers. No reconnect is
// attempted afterwards.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopReconnectTimerLocked()
	ws := m.detachWSLocked()
	fb, poll := m.fb, m.poll
	m.fb, m.poll = nil, nil
	m.mode = ModeDisconnected
	m.mu.Unlock()

	m.cancel()

	if ws != nil {
		ws.Close()
	}
	if fb != nil {
		fb.Close()
	}
	var errs []error
	if poll != nil {
		if err := poll.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop poller: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	metrics.SetTransportMode(string(ModeDisconnected))
	m.logger.Info("realtime manager stopped")
	return errors.Join(errs...)
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		Connected:         m.mode == ModeWebSocket,
		Mode:              m.mode,
		ReconnectAttempts: m.attempts,
		QueuedMessages:    m.queue.Len(),
		LastLiveEventAt:   m.lastLive,
		ReconnectDelay:    m.backoff.Peek(),
		DroppedMessages:   m.queue.Stats().TotalDropped,
		ClientID:          m.clientID,
	}
}

// Dispatcher returns the inbound dispatcher.
func (m *Manager) Dispatcher() *dispatch.Dispatcher {
	return m.dispatcher
}

// Cache returns the entity cache kept current by inbound frames.
func (m *Manager) Cache() *cache.Store {
	return m.store
}

// On subscribes fn to inbound frames of msgType (or dispatch.Wildcard) and
// to locally emitted connection_state events.
func (m *Manager) On(msgType string, fn dispatch.Listener) (cancel func()) {
	return m.dispatcher.On(msgType, fn)
}

// Send delivers env over the active transport. When no transport is ready,
// or the write fails, env is queued and Send returns false.
func (m *Manager) Send(env model.Envelope) bool {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		m.logger.Warn("send after stop", "type", env.Type)
		return false
	}

	if err := m.deliver(env); err != nil {
		if !errors.Is(err, errNoTransport) {
			m.logger.Warn("send failed, queueing", "type", env.Type, "error", err)
		}
		m.enqueue(env)
		return false
	}
	return true
}

var errNoTransport = errors.New("no active transport")

// deliver writes env to the active transport. Caller holds sendMu.
func (m *Manager) deliver(env model.Envelope) error {
	m.mu.Lock()
	mode, ws, fb, poll := m.mode, m.ws, m.fb, m.poll
	ctx := m.ctx
	m.mu.Unlock()

	switch {
	case mode == ModeWebSocket && ws != nil:
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", env.Type, err)
		}
		return ws.Send(data)

	case mode == ModeFallback && fb != nil:
		sctx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		defer cancel()
		return fb.Send(sctx, env)

	case mode == ModePolling && poll != nil && m.http != nil:
		sctx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		defer cancel()
		return m.http.PostMessage(sctx, env)
	}
	return errNoTransport
}

// enqueue appends env to the outbound queue. Caller holds sendMu.
func (m *Manager) enqueue(env model.Envelope) {
	m.queue.Push(env)
	metrics.OutboxDepth.Set(float64(m.queue.Len()))
}

// flush drains the queue in FIFO order over the active transport. On the
// first failure the undelivered remainder is re-queued in order. Caller
// holds sendMu.
func (m *Manager) flush() {
	pending := m.queue.Drain(0)
	if len(pending) == 0 {
		return
	}

	for i, env := range pending {
		if err := m.deliver(env); err != nil {
			m.logger.Warn("queue flush interrupted",
				"delivered", i,
				"remaining", len(pending)-i,
				"error", err,
			)
			for _, rest := range pending[i:] {
				m.queue.Push(rest)
			}
			break
		}
	}
	metrics.OutboxDepth.Set(float64(m.queue.Len()))
	m.logger.Debug("flushed outbound queue", "messages", len(pending), "remaining", m.queue.Len())
}

// connect runs one negotiation pass: WebSocket first, then fallback, then
// polling.
func (m *Manager) connect() {
	m.mu.Lock()
	if m.closed || m.connecting || m.mode == ModeWebSocket {
		m.mu.Unlock()
		return
	}
	m.connecting = true
	ctx := m.ctx
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	if m.isServerless() {
		m.warnOnce(&m.warnedWS, "websocket not supported on serverless host, using fallback", "url", m.wsURL)
		m.startFallback()
		return
	}

	client := m.dial(connection.ClientConfig{
		URL:              m.wsURL,
		AuthToken:        m.cfg.AuthToken,
		UserAgent:        m.cfg.UserAgent,
		HandshakeTimeout: m.cfg.ConnectTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
		MaxMessageSize:   connection.DefaultClientConfig().MaxMessageSize,
	}, m.logger)

	dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	err := client.Connect(dctx)
	cancel()
	if err != nil {
		client.Close()
		if ctx.Err() != nil {
			return
		}
		m.warnOnce(&m.warnedWS, "websocket unavailable, degrading", "url", m.wsURL, "error", err)
		m.logger.Debug("websocket connect failed", "error", err)
		m.startFallback()
		m.scheduleReconnect()
		return
	}

	m.onOpen(client)
}

// onOpen makes client the active transport, tearing down any fallback or
// poller first, then flushes the queue.
func (m *Manager) onOpen(client connection.Client) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Close()
		return
	}
	prevFB, prevPoll := m.fb, m.poll
	m.fb, m.poll = nil, nil
	m.mu.Unlock()

	m.teardown(prevFB, prevPoll)

	m.sendMu.Lock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.sendMu.Unlock()
		client.Close()
		return
	}
	m.ws = client
	m.wsGen++
	gen := m.wsGen
	stop := make(chan struct{})
	m.wsStop = stop
	m.mode = ModeWebSocket
	m.attempts = 0
	m.backoff.Reset()
	m.stopReconnectTimerLocked()
	m.lastLive = m.now()
	m.warnedWS = false
	m.warnedFallback = false
	m.warnedExhausted = false

	m.goLocked(func() { m.readLoop(client, gen, stop) })
	m.goLocked(func() { m.pingLoop(client, gen, stop) })
	m.mu.Unlock()

	m.flush()
	m.sendMu.Unlock()

	m.logger.Info("websocket connected", "url", m.wsURL)
	m.transitioned(ModeWebSocket, "websocket open")
}

// readLoop forwards frames from one WebSocket until it fails or is replaced.
func (m *Manager) readLoop(client connection.Client, gen uint64, stop <-chan struct{}) {
	reply := func(env model.Envelope) error {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return client.Send(data)
	}

	for {
		select {
		case <-stop:
			return
		case <-m.ctx.Done():
			return

		case err := <-client.Errors():
			// The reader queues every frame before reporting its error.
			m.drainFrames(client, reply)
			m.onClosed(gen, err)
			return

		case msg := <-client.Messages():
			m.handleFrame(msg.Data, reply)
		}
	}
}

// drainFrames routes frames still buffered on a failed client.
func (m *Manager) drainFrames(client connection.Client, reply func(model.Envelope) error) {
	for {
		select {
		case msg := <-client.Messages():
			m.handleFrame(msg.Data, reply)
		default:
			return
		}
	}
}

// onClosed handles a WebSocket that ended on its own. Any code other than
// 1000 schedules a reconnect; a normal close waits for the health check.
func (m *Manager) onClosed(gen uint64, err error) {
	code := connection.CloseCode(err)

	m.mu.Lock()
	if gen != m.wsGen || m.ws == nil {
		m.mu.Unlock()
		return
	}
	client := m.detachWSLocked()
	m.mode = ModeDisconnected
	closed := m.closed
	m.mu.Unlock()

	client.Close()
	if closed {
		return
	}

	m.transitioned(ModeDisconnected, fmt.Sprintf("websocket closed (%d)", code))
	if code == connection.CloseNormal {
		m.logger.Info("websocket closed normally", "code", code)
		return
	}
	m.logger.Warn("websocket closed", "code", code, "error", err)
	m.scheduleReconnect()
}

// detachWSLocked clears the active WebSocket and its liveness timers and
// returns it. Caller holds mu.
func (m *Manager) detachWSLocked() connection.Client {
	ws := m.ws
	m.ws = nil
	if m.wsStop != nil {
		close(m.wsStop)
		m.wsStop = nil
	}
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
	return ws
}

// startFallback activates the fallback channel, or polling when the
// channel is unavailable. An already active fallback or poller is kept.
func (m *Manager) startFallback() {
	m.mu.Lock()
	if m.closed || m.ws != nil || m.fb != nil || m.poll != nil {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.mu.Unlock()

	if m.fallback != nil {
		ch := m.fallback()
		ch.On(func(data []byte) { m.handleFrame(data, nil) })

		ictx, cancel := context.WithTimeout(ctx, m.cfg.FallbackInitTimeout)
		ok, err := ch.Initialize(ictx)
		cancel()

		if ok && err == nil {
			if m.activate(ModeFallback, ch, nil) {
				m.logger.Info("fallback channel active")
				return
			}
			ch.Close()
			return
		}

		ch.Close()
		if ctx.Err() != nil {
			return
		}
		m.warnOnce(&m.warnedFallback, "fallback channel unavailable, using http polling", "error", err)
	}

	m.startPolling()
}

func (m *Manager) startPolling() {
	if m.http == nil {
		m.logger.Warn("no http transport configured, waiting for websocket")
		return
	}

	p := poller.New(m.cfg.Poller, m.http, poller.HandlerFunc(m.handleEnvelope), m.logger)
	if m.activate(ModePolling, nil, p) {
		m.logger.Info("http polling active", "interval", m.cfg.Poller.Interval)
	}
}

// activate installs a fallback channel or poller as the active transport
// unless another transport won the race, then flushes the queue.
func (m *Manager) activate(mode Mode, ch fallback.Channel, p *poller.Poller) bool {
	m.sendMu.Lock()
	m.mu.Lock()
	if m.closed || m.ws != nil || m.fb != nil || m.poll != nil {
		m.mu.Unlock()
		m.sendMu.Unlock()
		return false
	}

	switch mode {
	case ModeFallback:
		m.fb = ch
		m.goLocked(func() { m.watchFallback(ch) })
	case ModePolling:
		if err := p.Start(m.ctx); err != nil {
			m.mu.Unlock()
			m.sendMu.Unlock()
			m.logger.Error("failed to start poller", "error", err)
			return false
		}
		m.poll = p
	}
	m.mode = mode
	m.lastLive = m.now()
	m.mu.Unlock()

	m.flush()
	m.sendMu.Unlock()

	m.transitioned(mode, string(mode)+" active")
	return true
}

// watchFallback waits for ch to end. A stream that dies while active leaves
// the manager disconnected and schedules a reconnect.
func (m *Manager) watchFallback(ch fallback.Channel) {
	select {
	case <-m.ctx.Done():
		return
	case <-ch.Done():
	}

	m.mu.Lock()
	if m.fb != ch || m.closed {
		m.mu.Unlock()
		return
	}
	m.fb = nil
	m.mode = ModeDisconnected
	m.mu.Unlock()

	ch.Close()
	m.logger.Warn("fallback channel ended")
	m.transitioned(ModeDisconnected, "fallback ended")
	m.scheduleReconnect()
}

// teardown closes a detached fallback channel and poller.
func (m *Manager) teardown(fb fallback.Channel, p *poller.Poller) {
	if fb != nil {
		if err := fb.Close(); err != nil {
			m.logger.Debug("closing fallback channel", "error", err)
		}
	}
	if p != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Poller.Timeout)
		defer cancel()
		if err := p.Stop(ctx); err != nil {
			m.logger.Warn("stopping poller", "error", err)
		}
	}
}

// transitioned records a transport change and emits connection_state.
func (m *Manager) transitioned(mode Mode, reason string) {
	metrics.SetTransportMode(string(mode))
	metrics.TransportSwitches.WithLabelValues(string(mode)).Inc()

	m.dispatcher.Emit(model.TypeConnectionState, ConnectionState{
		Connected: mode == ModeWebSocket,
		Mode:      mode,
		Reason:    reason,
	})
}

// isServerless reports whether the server host cannot hold a WebSocket.
func (m *Manager) isServerless() bool {
	u, err := url.Parse(m.cfg.BaseURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, suffix := range m.cfg.ServerlessHosts {
		suffix = strings.ToLower(strings.TrimPrefix(suffix, "."))
		if suffix != "" && (host == suffix || strings.HasSuffix(host, "."+suffix)) {
			return true
		}
	}
	return false
}

// warnOnce logs at warn level the first time per session, debug after.
func (m *Manager) warnOnce(flag *bool, msg string, args ...any) {
	m.mu.Lock()
	first := !*flag
	*flag = true
	m.mu.Unlock()

	if first {
		m.logger.Warn(msg, args...)
	} else {
		m.logger.Debug(msg, args...)
	}
}

// goLocked runs fn on a tracked goroutine unless the manager is stopped.
// Caller holds mu.
func (m *Manager) goLocked(fn func()) {
	if m.closed {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}
