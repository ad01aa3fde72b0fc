package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greenroute/fleetlink/internal/dispatch"
	"github.com/greenroute/fleetlink/internal/model"
	"github.com/greenroute/fleetlink/internal/state"
)

// Senders
const (
	SenderAdmin  = "admin"
	SenderDriver = "driver"
)

// Errors
var (
	ErrMissingDriver = errors.New("driver id required")
	ErrEmptyText     = errors.New("message text is empty")
)

// Sender delivers an outbound envelope, queueing it when offline.
type Sender interface {
	Send(env model.Envelope) bool
}

// History fetches a driver's messages from the server.
type History interface {
	DriverMessages(ctx context.Context, driverID string) ([]model.ChatMessage, error)
}

// Service owns the chat history and unread counters.
type Service struct {
	kv      state.KV
	sender  Sender
	history History
	logger  *slog.Logger

	persistTimeout time.Duration
	now            func() time.Time

	mu       sync.Mutex
	messages map[string][]model.ChatMessage // by driver
	unread   map[string]int
}

// NewService creates a Service. history may be nil when the REST API is
// unavailable.
func NewService(kv state.KV, sender Sender, history History, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		kv:             kv,
		sender:         sender,
		history:        history,
		logger:         logger.With("component", "messaging"),
		persistTimeout: 5 * time.Second,
		now:            time.Now,
		messages:       make(map[string][]model.ChatMessage),
		unread:         make(map[string]int),
	}
}

// Load restores persisted history and counters. Missing keys are not an
// error.
func (s *Service) Load(ctx context.Context) error {
	messages := make(map[string][]model.ChatMessage)
	if err := state.GetJSON(ctx, s.kv, state.KeyDriverMessages, &messages); err != nil && !errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("load messages: %w", err)
	}
	unread := make(map[string]int)
	if err := state.GetJSON(ctx, s.kv, state.KeyUnreadMessageCounts, &unread); err != nil && !errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("load unread counts: %w", err)
	}

	if messages == nil {
		messages = make(map[string][]model.ChatMessage)
	}
	if unread == nil {
		unread = make(map[string]int)
	}

	s.mu.Lock()
	s.messages = messages
	s.unread = unread
	s.mu.Unlock()

	s.logger.Debug("restored chat history", "drivers", len(messages))
	return nil
}

// Attach subscribes the service to inbound chat frames.
func (s *Service) Attach(d *dispatch.Dispatcher) (cancel func()) {
	return d.On(model.TypeChatMessage, s.HandleChat)
}

// HandleChat records an inbound chat_message. Messages from drivers bump
// the driver's unread counter; echoes of known ids are ignored.
func (s *Service) HandleChat(env model.Envelope) {
	var msg model.ChatMessage
	if err := env.DecodeData(&msg); err != nil {
		s.logger.Warn("dropping malformed chat message", "error", err)
		return
	}
	if msg.DriverID == "" {
		s.logger.Warn("chat message without driver")
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = env.Timestamp
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}

	s.mu.Lock()
	existing := s.messages[msg.DriverID]
	if msg.ID != "" && slices.ContainsFunc(existing, func(m model.ChatMessage) bool { return m.ID == msg.ID }) {
		s.mu.Unlock()
		return
	}
	s.messages[msg.DriverID] = Merge(existing, []model.ChatMessage{msg})
	if msg.Sender == SenderDriver && !msg.Read {
		s.unread[msg.DriverID]++
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := s.persist(ctx); err != nil {
		s.logger.Warn("failed to persist chat message", "driver", msg.DriverID, "error", err)
	}
}

// SyncDriver merges the server history for a driver into the local one and
// persists the result.
func (s *Service) SyncDriver(ctx context.Context, driverID string) ([]model.ChatMessage, error) {
	if driverID == "" {
		return nil, ErrMissingDriver
	}
	if s.history == nil {
		return s.Messages(driverID), nil
	}

	remote, err := s.history.DriverMessages(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("sync driver %s: %w", driverID, err)
	}

	s.mu.Lock()
	merged := Merge(s.messages[driverID], remote)
	s.messages[driverID] = merged
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		return nil, err
	}
	s.logger.Debug("synced driver messages", "driver", driverID, "remote", len(remote), "total", len(merged))
	return slices.Clone(merged), nil
}

// Send composes an admin message, stores it locally and hands it to the
// sender. sent reports whether it went out immediately.
func (s *Service) Send(ctx context.Context, driverID, text string) (msg model.ChatMessage, sent bool, err error) {
	if driverID == "" {
		return msg, false, ErrMissingDriver
	}
	if text == "" {
		return msg, false, ErrEmptyText
	}

	msg = model.ChatMessage{
		ID:        uuid.NewString(),
		DriverID:  driverID,
		Sender:    SenderAdmin,
		Text:      text,
		Timestamp: s.now().UTC(),
		Read:      true,
	}
	env, err := model.NewEnvelope(model.TypeChatMessage, msg)
	if err != nil {
		return msg, false, err
	}

	s.mu.Lock()
	s.messages[driverID] = Merge(s.messages[driverID], []model.ChatMessage{msg})
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		s.logger.Warn("failed to persist outbound message", "driver", driverID, "error", err)
	}

	sent = s.sender.Send(env)
	if !sent {
		s.logger.Info("message queued until a transport is available", "driver", driverID)
	}
	return msg, sent, nil
}

// Messages returns the history for a driver, oldest first.
func (s *Service) Messages(driverID string) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages[driverID])
}

// MarkRead clears the unread counter for a driver and flags its messages
// as read.
func (s *Service) MarkRead(ctx context.Context, driverID string) error {
	s.mu.Lock()
	delete(s.unread, driverID)
	if msgs, ok := s.messages[driverID]; ok {
		msgs = slices.Clone(msgs)
		for i := range msgs {
			msgs[i].Read = true
		}
		s.messages[driverID] = msgs
	}
	s.mu.Unlock()

	return s.persist(ctx)
}

// Unread returns the unread counters by driver.
func (s *Service) Unread() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.unread)
}

func (s *Service) persist(ctx context.Context) error {
	s.mu.Lock()
	messages := maps.Clone(s.messages)
	unread := maps.Clone(s.unread)
	s.mu.Unlock()

	if err := state.PutJSON(ctx, s.kv, state.KeyDriverMessages, messages); err != nil {
		return fmt.Errorf("persist messages: %w", err)
	}
	if err := state.PutJSON(ctx, s.kv, state.KeyUnreadMessageCounts, unread); err != nil {
		return fmt.Errorf("persist unread counts: %w", err)
	}
	return nil
}
