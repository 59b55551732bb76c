package broadcast

import (
	"fmt"
	"log/slog"
	"sync"
	"webchat/internal/chat"
	"webchat/internal/registry"
)

// Router is the single ordering point for every message sent to clients.
// Each call snapshots the registry and delivers under one lock, so two
// messages reach every recipient in the order they were submitted.
type Router struct {
	mu       sync.Mutex
	registry *registry.Registry
	logger   *slog.Logger
}

func NewRouter(reg *registry.Registry, logger *slog.Logger) *Router {
	return &Router{
		registry: reg,
		logger:   logger,
	}
}

// Broadcast delivers msg to every live connection except exclude.
// An empty exclude reaches everybody. Peers that fail delivery are evicted.
func (r *Router) Broadcast(msg chat.Message, exclude registry.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fanout(msg, exclude)
}

// Announce sends a system notice to every live connection.
func (r *Router) Announce(content string) {
	r.Broadcast(chat.NewSystem(content), "")
}

// Join registers the connection, greets it, tells everybody else and
// refreshes the user list, all without interleaving with other broadcasts.
func (r *Router) Join(id registry.ConnectionID, name string, peer registry.Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.registry.Register(id, name, peer); err != nil {
		return fmt.Errorf("joining: %w", err)
	}

	if err := peer.Deliver(chat.WelcomeNotice(name)); err != nil {
		r.logger.Warn("failed to deliver welcome", "clientID", id, "error", err)
		r.evict(id)
		return nil
	}
	r.fanout(chat.JoinedNotice(name), id)
	r.fanout(chat.NewUserList(r.registry.Snapshot()), "")
	return nil
}

// Leave unregisters id and notifies the remaining connections. It reports
// whether id was still registered; later calls for the same id do nothing.
func (r *Router) Leave(id registry.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.registry.Unregister(id)
	if !ok {
		return false
	}
	r.notifyLeft(e)
	return true
}

func (r *Router) fanout(msg chat.Message, exclude registry.ConnectionID) {
	var failed []registry.ConnectionID
	for _, e := range r.registry.Entries() {
		if e.ID == exclude {
			continue
		}
		if err := e.Peer.Deliver(msg); err != nil {
			r.logger.Warn("failed to deliver message", "clientID", e.ID, "type", msg.Type(), "error", err)
			failed = append(failed, e.ID)
		}
	}
	for _, id := range failed {
		r.evict(id)
	}
}

// evict tears down a peer from inside the router. Peer.Close must not call
// back into the router synchronously.
func (r *Router) evict(id registry.ConnectionID) {
	e, ok := r.registry.Unregister(id)
	if !ok {
		return
	}
	e.Peer.Close()
	r.logger.Info("evicted connection", "clientID", id, "name", e.Name)
	r.notifyLeft(e)
}

func (r *Router) notifyLeft(e registry.Entry) {
	r.fanout(chat.LeftNotice(e.Name), "")
	r.fanout(chat.NewUserList(r.registry.Snapshot()), "")
}
