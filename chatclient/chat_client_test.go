package chatclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/chatrelay/chatsession"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/tcpserver"
)

const waitFor = 2 * time.Second

func startRelay(t *testing.T) string {
	t.Helper()

	deps := chatsession.NewDependencies(logger.NewNopLogger())
	srv := tcpserver.NewTCPServer(tcpserver.DefaultConfig("127.0.0.1:0"), chatsession.NewSessionFunc(deps), nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv.Addr().String()
}

func connect(t *testing.T, addr string) (*Client, <-chan string, <-chan ConnectionState) {
	t.Helper()

	lines := make(chan string, 32)
	states := make(chan ConnectionState, 8)

	c := NewClient(DefaultConfig(addr))
	c.OnLine(func(e LineEvent) { lines <- e.Line })
	c.OnConnectionState(func(e ConnectionStateEvent) { states <- e.State })
	require.NoError(t, c.Connect())
	t.Cleanup(func() { _ = c.Close() })

	return c, lines, states
}

func expectLine(t *testing.T, lines <-chan string, want string) {
	t.Helper()

	select {
	case got := <-lines:
		require.Equal(t, want, got)
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func expectState(t *testing.T, states <-chan ConnectionState, want ConnectionState) {
	t.Helper()

	deadline := time.After(waitFor)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Unknown", ConnectionState(9).String())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("localhost:9000")
	assert.Equal(t, "localhost:9000", cfg.Address)
	assert.Equal(t, 10*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
}

func TestClient_SendLineBeforeConnect(t *testing.T) {
	c := NewClient(DefaultConfig("127.0.0.1:1"))
	assert.ErrorIs(t, c.SendLine("hello"), ErrNotConnected)
	assert.False(t, c.IsConnected())
}

func TestClient_DialFailure(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1:1")
	cfg.ConnectionTimeout = 200 * time.Millisecond

	var errs []error
	c := NewClient(cfg)
	c.OnError(func(e ErrorEvent) { errs = append(errs, e.Error) })

	assert.Error(t, c.Connect())
	assert.Equal(t, Disconnected, c.GetState())
	assert.Len(t, errs, 1)
}

func TestClient_ChatsThroughRelay(t *testing.T) {
	addr := startRelay(t)

	alice, aliceLines, _ := connect(t, addr)
	bob, bobLines, bobStates := connect(t, addr)
	assert.True(t, alice.IsConnected())
	assert.Error(t, alice.Connect())

	expectLine(t, aliceLines, chatsession.PromptAlias)
	require.NoError(t, alice.SendLine("alice"))
	expectLine(t, aliceLines, "Welcome alice! Type CONNECT to join the ChatRoom or EXIT to quit.")
	require.NoError(t, alice.SendLine("CONNECT"))
	expectLine(t, aliceLines, "alice has joined the ChatRoom")

	expectLine(t, bobLines, chatsession.PromptAlias)
	require.NoError(t, bob.SendLine("bob"))
	expectLine(t, bobLines, "Welcome bob! Type CONNECT to join the ChatRoom or EXIT to quit.")
	require.NoError(t, bob.SendLine("CONNECT"))
	expectLine(t, bobLines, "Members in the ChatRoom: alice")
	expectLine(t, bobLines, "bob has joined the ChatRoom")
	expectLine(t, aliceLines, "bob has joined the ChatRoom")

	require.NoError(t, alice.SendLine("@bob psst"))
	expectLine(t, bobLines, "[alice] psst")

	require.NoError(t, bob.SendLine("EXIT"))
	expectLine(t, bobLines, "bob has left the ChatRoom")
	expectLine(t, aliceLines, "bob has left the ChatRoom")
	expectState(t, bobStates, Disconnected)
	assert.ErrorIs(t, bob.SendLine("still there?"), ErrNotConnected)

	require.NoError(t, alice.Close())
	assert.Equal(t, Closed, alice.GetState())
	require.NoError(t, alice.Close())
	assert.Error(t, alice.Connect())
}
