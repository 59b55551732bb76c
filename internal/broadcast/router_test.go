package broadcast

import (
	"errors"
	"fmt"
	"github.com/stretchr/testify/require"
	"io"
	"log/slog"
	"sync"
	"testing"
	"webchat/internal/chat"
	"webchat/internal/registry"
)

type recordingPeer struct {
	mu       sync.Mutex
	received []chat.Message
	failing  bool
	closed   int
}

func (p *recordingPeer) Deliver(msg chat.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return errors.New("peer is gone")
	}
	p.received = append(p.received, msg)
	return nil
}

func (p *recordingPeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
}

func (p *recordingPeer) messages() []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]chat.Message, len(p.received))
	copy(out, p.received)
	return out
}

func (p *recordingPeer) userLists() [][]string {
	var out [][]string
	for _, m := range p.messages() {
		if ul, ok := m.(chat.UserList); ok {
			out = append(out, ul.Users)
		}
	}
	return out
}

func (p *recordingPeer) chats() []chat.Chat {
	var out []chat.Chat
	for _, m := range p.messages() {
		if c, ok := m.(chat.Chat); ok {
			out = append(out, c)
		}
	}
	return out
}

func (p *recordingPeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = nil
}

func newTestRouter() (*Router, *registry.Registry) {
	reg := registry.New()
	return NewRouter(reg, slog.New(slog.NewTextHandler(io.Discard, nil))), reg
}

func TestRouter_Join_Sequence(t *testing.T) {
	req := require.New(t)
	router, _ := newTestRouter()
	alice, bob := &recordingPeer{}, &recordingPeer{}

	// When alice then bob join
	req.NoError(router.Join("a", "alice", alice))
	req.NoError(router.Join("b", "bob", bob))

	// Then alice saw her welcome, her list, bob's arrival and the new list
	req.Equal([]chat.Message{
		chat.WelcomeNotice("alice"),
		chat.NewUserList([]string{"alice"}),
		chat.JoinedNotice("bob"),
		chat.NewUserList([]string{"alice", "bob"}),
	}, alice.messages())

	// And bob is greeted but not told about his own arrival
	req.Equal([]chat.Message{
		chat.WelcomeNotice("bob"),
		chat.NewUserList([]string{"alice", "bob"}),
	}, bob.messages())
}

func TestRouter_Join_Duplicate(t *testing.T) {
	req := require.New(t)
	router, reg := newTestRouter()
	first, second := &recordingPeer{}, &recordingPeer{}

	req.NoError(router.Join("a", "alice", first))
	err := router.Join("a", "bob", second)

	req.ErrorIs(err, registry.ErrDuplicateConnection)
	req.Empty(second.messages())
	req.Equal([]string{"alice"}, reg.Snapshot())
}

func TestRouter_Broadcast_Excludes_Sender(t *testing.T) {
	req := require.New(t)
	router, _ := newTestRouter()
	a, b, c := &recordingPeer{}, &recordingPeer{}, &recordingPeer{}
	req.NoError(router.Join("a", "alice", a))
	req.NoError(router.Join("b", "bob", b))
	req.NoError(router.Join("c", "carol", c))

	msg := chat.Chat{Sender: "alice", Content: "hi"}
	router.Broadcast(msg, "a")

	req.Empty(a.chats())
	req.Equal([]chat.Chat{msg}, b.chats())
	req.Equal([]chat.Chat{msg}, c.chats())
}

func TestRouter_Leave_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	router, reg := newTestRouter()
	alice, bob := &recordingPeer{}, &recordingPeer{}
	req.NoError(router.Join("a", "alice", alice))
	req.NoError(router.Join("b", "bob", bob))
	alice.reset()

	req.True(router.Leave("b"))
	req.False(router.Leave("b"))
	req.False(router.Leave("never-joined"))

	req.Equal([]chat.Message{
		chat.LeftNotice("bob"),
		chat.NewUserList([]string{"alice"}),
	}, alice.messages())
	req.Equal([]string{"alice"}, reg.Snapshot())
}

func TestRouter_Failing_Peer_Is_Evicted(t *testing.T) {
	req := require.New(t)
	router, reg := newTestRouter()
	alice, bob, carol := &recordingPeer{}, &recordingPeer{}, &recordingPeer{}
	req.NoError(router.Join("a", "alice", alice))
	req.NoError(router.Join("b", "bob", bob))
	req.NoError(router.Join("c", "carol", carol))
	carol.reset()

	// Given bob's connection is dead
	bob.mu.Lock()
	bob.failing = true
	bob.mu.Unlock()

	// When alice talks
	msg := chat.Chat{Sender: "alice", Content: "anyone?"}
	router.Broadcast(msg, "a")

	// Then carol still gets the message, followed by bob's departure
	req.Equal([]chat.Message{
		msg,
		chat.LeftNotice("bob"),
		chat.NewUserList([]string{"alice", "carol"}),
	}, carol.messages())
	req.Equal(1, bob.closed)
	req.Equal([]string{"alice", "carol"}, reg.Snapshot())

	// And a later leave from bob's own session does not repeat the notice
	req.False(router.Leave("b"))
}

func TestRouter_Concurrent_Broadcasts_Keep_One_Order(t *testing.T) {
	req := require.New(t)
	router, _ := newTestRouter()
	peers := make([]*recordingPeer, 4)
	for i := range peers {
		peers[i] = &recordingPeer{}
		req.NoError(router.Join(registry.ConnectionID(fmt.Sprint(i)), fmt.Sprintf("user%d", i), peers[i]))
	}

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func(sender int) {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				router.Broadcast(chat.Chat{Sender: fmt.Sprintf("user%d", sender), Content: fmt.Sprint(n)}, "")
			}
		}(s)
	}
	wg.Wait()

	// Every recipient observed the same total order
	reference := peers[0].chats()
	req.Len(reference, 200)
	for _, p := range peers[1:] {
		req.Equal(reference, p.chats())
	}
}

func TestRouter_UserList_Tracks_Joins_And_Leaves(t *testing.T) {
	req := require.New(t)
	router, reg := newTestRouter()
	observer := &recordingPeer{}
	req.NoError(router.Join("o", "observer", observer))

	steps := []struct {
		join bool
		id   registry.ConnectionID
		name string
	}{
		{true, "a", "alice"},
		{true, "b", "bob"},
		{false, "a", ""},
		{true, "c", "carol"},
		{false, "b", ""},
	}
	for _, s := range steps {
		if s.join {
			req.NoError(router.Join(s.id, s.name, &recordingPeer{}))
		} else {
			req.True(router.Leave(s.id))
		}
		lists := observer.userLists()
		req.Equal(reg.Snapshot(), lists[len(lists)-1])
	}
	req.Equal([]string{"observer", "carol"}, reg.Snapshot())
}
