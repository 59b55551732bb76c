package ws

import (
	"context"
	"errors"
	"fmt"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"webchat/internal/broadcast"
	"webchat/internal/chat"
	"webchat/internal/moderation"
	"webchat/internal/presence"
	"webchat/internal/registry"
)

var ErrServerClosed = errors.New("chat server closed")

// minSendBuffer keeps a healthy client from overflowing while a burst of
// join and leave notices reaches it.
const minSendBuffer = 8

type Options struct {
	WriteTimeout     time.Duration
	PingPeriod       time.Duration
	SendBuffer       int
	MaxMessageLength int
	// NewID and NameFor default to random UUIDs and "User<n>".
	NewID   func() string
	NameFor func(seq uint64) string
}

func DefaultOptions() Options {
	return Options{
		WriteTimeout:     10 * time.Second,
		PingPeriod:       (60 * 9 * time.Second) / 10,
		SendBuffer:       16,
		MaxMessageLength: chat.DefaultMaxContentLength,
	}
}

// Manager accepts connections and owns every running Session.
type Manager struct {
	// ctx is detached from the caller's cancellation so sessions can
	// still flush the shutdown notice.
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
	registry *registry.Registry
	router   *broadcast.Router
	presence presence.Cache
	decoder  *chat.Decoder
	filter   *moderation.Filter
	opts     Options

	seq      atomic.Uint64
	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewManager(ctx context.Context, logger *slog.Logger, presenceCache presence.Cache, filter *moderation.Filter, opts Options) *Manager {
	defaults := DefaultOptions()
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaults.PingPeriod
	}
	if opts.SendBuffer < minSendBuffer {
		opts.SendBuffer = minSendBuffer
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.NameFor == nil {
		opts.NameFor = func(seq uint64) string { return fmt.Sprintf("User%d", seq) }
	}
	if presenceCache == nil {
		presenceCache = presence.NopCache{}
	}
	if filter == nil {
		filter, _ = moderation.NewFilter(nil, '*')
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	reg := registry.New()
	return &Manager{
		ctx:      sessionCtx,
		cancel:   cancel,
		logger:   logger,
		registry: reg,
		router:   broadcast.NewRouter(reg, logger),
		presence: presenceCache,
		decoder:  chat.NewDecoder(opts.MaxMessageLength),
		filter:   filter,
		opts:     opts,
		sessions: make(map[*Session]struct{}),
	}
}

// HandleNewConnection starts a session for conn and returns immediately.
func (m *Manager) HandleNewConnection(conn Conn) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, chat.ShutdownNotice)
		return ErrServerClosed
	}
	s := newSession(m.newID(), m.nextName(), conn, m)
	m.sessions[s] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Debug("client connected", "clientID", s.ID, "name", s.Name)
	go func() {
		defer m.wg.Done()
		s.Run()
	}()
	return nil
}

// Users returns the online set in join order.
func (m *Manager) Users() []string {
	return m.registry.Snapshot()
}

// Announce sends a system notice to every connected client.
func (m *Manager) Announce(content string) {
	content = m.filter.Text(content)
	if content == "" {
		return
	}
	m.router.Announce(content)
}

// Shutdown notifies every client, closes all sessions and waits for them
// until ctx expires. New connections are refused afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.logger.Info("shutting down chat sessions", "sessions", len(sessions))
	m.router.Announce(chat.ShutdownNotice)
	for _, s := range sessions {
		s.shutdown()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
}

func (m *Manager) newID() registry.ConnectionID {
	return registry.ConnectionID(m.opts.NewID())
}

func (m *Manager) nextName() string {
	return m.opts.NameFor(m.seq.Add(1))
}
