package api

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"webchat/internal/config"
	"webchat/internal/ws"
)

type frame struct {
	Type    string   `json:"type"`
	Sender  string   `json:"sender"`
	Content string   `json:"content"`
	Users   []string `json:"users"`
}

func newTestServer(t *testing.T) (*httptest.Server, *ws.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := ws.NewManager(context.Background(), logger, nil, nil, ws.Options{})
	cfg := &config.Config{ReadLimit: 4096}
	srv := httptest.NewServer(NewServer(cfg, manager, logger).Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		srv.Close()
	})
	return srv, manager
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/chat", nil)
	require.NoError(t, err)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var f frame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	return f
}

func TestServer_Chat_Over_WebSocket(t *testing.T) {
	req := require.New(t)
	srv, manager := newTestServer(t)

	// Given the first user connects
	alice := dial(t, srv)
	req.Equal(frame{Type: "system", Content: "Welcome to the chat, User1!"}, read(t, alice))
	req.Equal(frame{Type: "userlist", Users: []string{"User1"}}, read(t, alice))

	// And a second one follows
	bob := dial(t, srv)
	req.Equal(frame{Type: "system", Content: "Welcome to the chat, User2!"}, read(t, bob))
	req.Equal(frame{Type: "userlist", Users: []string{"User1", "User2"}}, read(t, bob))
	req.Equal(frame{Type: "system", Content: "User2 joined the chat"}, read(t, alice))
	req.Equal(frame{Type: "userlist", Users: []string{"User1", "User2"}}, read(t, alice))

	// When the first user sends a malformed frame then a chat message
	ctx := context.Background()
	req.NoError(alice.Write(ctx, websocket.MessageText, []byte(`{"foo":"bar"}`)))
	req.NoError(wsjson.Write(ctx, alice, map[string]string{"type": "chat", "content": "hi"}))

	// Then the second user receives only the chat message, attributed by the server
	req.Equal(frame{Type: "chat", Sender: "User1", Content: "hi"}, read(t, bob))
	req.Equal([]string{"User1", "User2"}, manager.Users())

	// When the second user leaves
	req.NoError(bob.Close(websocket.StatusNormalClosure, ""))

	// Then the first user is told
	req.Equal(frame{Type: "system", Content: "User2 left the chat"}, read(t, alice))
	req.Equal(frame{Type: "userlist", Users: []string{"User1"}}, read(t, alice))

	// When the server shuts down
	go func() { _ = manager.Shutdown(context.Background()) }()

	// Then the remaining user gets the notice and a going-away close
	req.Equal(frame{Type: "system", Content: "Server is shutting down"}, read(t, alice))
	readCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := alice.Read(readCtx)
	req.Equal(websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestServer_Health(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	req.NoError(err)
	defer resp.Body.Close()

	req.Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	req.Equal("API server is started.", string(body))
}

func TestServer_Users(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t)

	conn := dial(t, srv)
	defer conn.CloseNow()
	read(t, conn)
	read(t, conn)

	resp, err := http.Get(srv.URL + "/users")
	req.NoError(err)
	defer resp.Body.Close()

	var got usersResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&got))
	req.Equal(usersResponse{Users: []string{"User1"}, Count: 1}, got)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServer_Chat_Requires_Upgrade(t *testing.T) {
	req := require.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := ws.NewManager(context.Background(), logger, nil, nil, ws.Options{})
	defer func() { _ = manager.Shutdown(context.Background()) }()

	var serverLog lockedBuffer
	srv := httptest.NewUnstartedServer(NewServer(&config.Config{}, manager, logger).Handler())
	srv.Config.ErrorLog = log.New(&serverLog, "", 0)
	srv.Start()
	defer srv.Close()

	// When a plain request hits the websocket endpoint
	resp, err := http.Get(srv.URL + "/chat")
	req.NoError(err)
	defer resp.Body.Close()

	// Then it is rejected once, without a second status line
	req.NotEqual(http.StatusSwitchingProtocols, resp.StatusCode)
	req.GreaterOrEqual(resp.StatusCode, 400)
	req.NotContains(serverLog.String(), "superfluous")
	req.Empty(manager.Users())
}
