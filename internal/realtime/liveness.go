package realtime

import (
	"encoding/json"
	"time"

	"github.com/greenroute/fleetlink/internal/connection"
	"github.com/greenroute/fleetlink/internal/metrics"
	"github.com/greenroute/fleetlink/internal/model"
)

// pingLoop sends an application-level ping every PingInterval while the
// WebSocket identified by gen is active.
func (m *Manager) pingLoop(client connection.Client, gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.ping(client, gen)
		}
	}
}

func (m *Manager) ping(client connection.Client, gen uint64) {
	m.mu.Lock()
	if gen != m.wsGen || m.ws == nil {
		m.mu.Unlock()
		return
	}
	// An unanswered ping keeps its original deadline.
	if m.pongTimer == nil {
		m.pongTimer = m.afterFunc(m.cfg.PongTimeout, func() { m.onPongTimeout(gen) })
	}
	m.mu.Unlock()

	data, err := json.Marshal(model.Envelope{Type: model.TypePing, Timestamp: m.now().UTC()})
	if err != nil {
		return
	}
	if err := client.Send(data); err != nil {
		m.logger.Debug("ping write failed", "error", err)
	}
}

// onPongTimeout closes a silent WebSocket with code 1000 and schedules a
// reconnect. Stale or repeated timeouts are ignored.
func (m *Manager) onPongTimeout(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.wsGen || m.ws == nil {
		m.mu.Unlock()
		return
	}
	m.pongTimer = nil
	client := m.detachWSLocked()
	m.mode = ModeDisconnected
	m.mu.Unlock()

	metrics.PongTimeouts.Inc()
	m.logger.Warn("no pong received, closing websocket", "timeout", m.cfg.PongTimeout)

	client.Close()
	m.transitioned(ModeDisconnected, "pong timeout")
	m.scheduleReconnect()
}

// markLive records inbound traffic and clears the pending pong deadline
// when env is a pong.
func (m *Manager) markLive(env model.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastLive = m.now()
	if env.Type == model.TypePong && m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
}

// scheduleReconnect arms a single reconnect timer using the backoff
// sequence. It is a no-op while a timer is pending or a WebSocket is open.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.reconnectTimer != nil || m.ws != nil {
		return
	}
	if max := m.cfg.MaxReconnectAttempts; max > 0 && m.attempts >= max {
		if !m.warnedExhausted {
			m.warnedExhausted = true
			m.logger.Warn("reconnect attempts exhausted, waiting for health check", "attempts", m.attempts)
		}
		return
	}

	delay := m.backoff.Next()
	m.attempts++
	metrics.ReconnectAttempts.Inc()
	m.reconnectTimer = m.afterFunc(delay, m.onReconnectTimer)

	m.logger.Info("scheduling reconnect", "attempt", m.attempts, "delay", delay)
}

func (m *Manager) onReconnectTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconnectTimer = nil
	m.goLocked(m.connect)
}

// stopReconnectTimerLocked cancels a pending reconnect. Caller holds mu.
func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// healthLoop restarts negotiation when no transport is active and nothing
// is pending.
func (m *Manager) healthLoop() {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if m.idle() {
				m.logger.Info("health check found no active transport, reconnecting")
				m.connect()
			}
		}
	}
}

func (m *Manager) idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.mode == ModeDisconnected && !m.connecting && m.reconnectTimer == nil
}
