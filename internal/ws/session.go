package ws

import (
	"context"
	"errors"
	"fmt"
	"github.com/coder/websocket"
	"sync"
	"sync/atomic"
	"time"
	"webchat/internal/chat"
	"webchat/internal/presence"
	"webchat/internal/registry"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("send buffer full")
)

// maxJoinAttempts bounds id/name regeneration when registration collides.
const maxJoinAttempts = 3

type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Session drives one client connection through Connecting, Active and Closed.
type Session struct {
	// ID and Name are final once the session is Active.
	ID   registry.ConnectionID
	Name string

	conn       Conn
	manager    *Manager
	send       chan chat.Message
	state      atomic.Int32
	ctx        context.Context
	cancel     context.CancelFunc
	drain      chan struct{}
	drainOne   sync.Once
	closeOne   sync.Once
	joined     bool
	joinedAt   time.Time
	writerDone chan struct{}
	done       chan struct{}
}

func newSession(id registry.ConnectionID, name string, conn Conn, manager *Manager) *Session {
	ctx, cancel := context.WithCancel(manager.ctx)
	return &Session{
		ID:         id,
		Name:       name,
		conn:       conn,
		manager:    manager,
		send:       make(chan chat.Message, manager.opts.SendBuffer),
		ctx:        ctx,
		cancel:     cancel,
		drain:      make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session reached Closed and released its resources.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send queues msg for the writer without blocking.
func (s *Session) Send(msg chat.Message) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	select {
	case s.send <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Deliver lets the router reach this session.
func (s *Session) Deliver(msg chat.Message) error {
	return s.Send(msg)
}

// Close moves the session to Closed. It never blocks; teardown happens on the session goroutine.
func (s *Session) Close() {
	s.state.Store(int32(StateClosed))
	s.cancel()
}

// shutdown flushes whatever is queued, then closes with StatusGoingAway.
func (s *Session) shutdown() {
	s.drainOne.Do(func() { close(s.drain) })
}

// Run blocks until the connection ends.
func (s *Session) Run() {
	defer s.teardown()

	if err := s.join(); err != nil {
		s.manager.logger.Warn("failed to join", "clientID", s.ID, "error", err)
		return
	}
	s.joined = true
	s.joinedAt = time.Now()
	go s.writePump()
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		return
	}
	s.manager.logger.Info("client joined", "clientID", s.ID, "name", s.Name)

	record := &presence.Record{ID: string(s.ID), Name: s.Name, JoinedAt: s.joinedAt}
	if err := s.manager.presence.SetSession(s.ctx, record); err != nil {
		s.manager.logger.Warn("failed to cache session", "clientID", s.ID, "error", err)
	}

	s.readPump()
}

func (s *Session) join() error {
	var err error
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		err = s.manager.router.Join(s.ID, s.Name, s)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, registry.ErrDuplicateConnection):
			s.ID = s.manager.newID()
		case errors.Is(err, registry.ErrDuplicateName):
			s.Name = s.manager.nextName()
		default:
			return err
		}
	}
	return err
}

func (s *Session) readPump() {
	for {
		data, err := s.conn.Read(s.ctx)
		if err != nil {
			switch status := websocket.CloseStatus(err); {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				s.manager.logger.Debug("client closed connection", "clientID", s.ID, "status", status)
			case s.ctx.Err() != nil:
				s.manager.logger.Debug("stopped reading", "clientID", s.ID)
			default:
				s.manager.logger.Warn("failed to read message", "clientID", s.ID, "error", err)
			}
			return
		}
		s.handleFrame(data)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.manager.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				s.manager.logger.Warn("failed to write message", "clientID", s.ID, "error", err)
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, s.manager.opts.WriteTimeout)
			err := s.conn.Ping(ctx)
			cancel()
			if err != nil {
				s.manager.logger.Debug("failed to ping client", "clientID", s.ID, "error", err)
				return
			}
			s.refreshPresence()
		case <-s.drain:
			s.flush()
			s.closeTransport(websocket.StatusGoingAway, chat.ShutdownNotice)
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) flush() {
	for {
		select {
		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				s.manager.logger.Debug("failed to flush message", "clientID", s.ID, "error", err)
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(msg chat.Message) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.manager.opts.WriteTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, msg); err != nil {
		return err
	}
	s.manager.logger.Debug("message sent", "clientID", s.ID, "type", msg.Type())
	return nil
}

func (s *Session) handleFrame(data []byte) {
	req, err := s.manager.decoder.Decode(data)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownType) {
			s.manager.logger.Debug("received unknown type message", "clientID", s.ID, "error", err)
		} else {
			s.manager.logger.Warn("dropping malformed frame", "clientID", s.ID, "error", err)
		}
		return
	}

	content := s.manager.filter.Apply(req.Content)
	if content == "" {
		s.manager.logger.Debug("dropping empty message after filtering", "clientID", s.ID)
		return
	}

	s.manager.router.Broadcast(chat.NewChat(s.Name, content, time.Now()), s.ID)
	s.refreshPresence()
}

// refreshPresence rewrites the cached record so it outlives its TTL while
// the client is connected. An expired record is recreated.
func (s *Session) refreshPresence() {
	ctx, cancel := context.WithTimeout(s.ctx, s.manager.opts.WriteTimeout)
	defer cancel()

	record, err := s.manager.presence.GetSession(ctx, string(s.ID))
	if err != nil || record == nil {
		record = &presence.Record{ID: string(s.ID), Name: s.Name, JoinedAt: s.joinedAt}
	}
	if err := s.manager.presence.SetSession(ctx, record); err != nil {
		s.manager.logger.Warn("failed to refresh cached session", "clientID", s.ID, "error", err)
	}
}

func (s *Session) teardown() {
	s.Close()

	if s.joined {
		// The writer may be refreshing presence; wait so the record is not recreated after deletion.
		<-s.writerDone
		if s.manager.router.Leave(s.ID) {
			s.manager.logger.Info("client left", "clientID", s.ID, "name", s.Name)
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.manager.opts.WriteTimeout)
		if err := s.manager.presence.DeleteSession(ctx, string(s.ID)); err != nil {
			s.manager.logger.Warn("failed to delete cached session", "clientID", s.ID, "error", err)
		}
		cancel()
	}

	s.closeTransport(websocket.StatusNormalClosure, "bye")
	s.manager.forget(s)
	close(s.done)
}

func (s *Session) closeTransport(code websocket.StatusCode, reason string) {
	s.closeOne.Do(func() {
		if err := s.conn.Close(code, reason); err != nil {
			s.manager.logger.Debug("failed to close connection", "clientID", s.ID, "error", err)
		}
	})
}
