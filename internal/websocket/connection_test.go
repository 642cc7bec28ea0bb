package websocket

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusrelay/pkg/interfaces"
)

var _ interfaces.Connection = (*Connection)(nil)

// dialPair returns a server-side Connection and the client socket talking to it.
func dialPair(t *testing.T, cfg ConnectionConfig) (*Connection, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	var ws *websocket.Conn
	select {
	case ws = <-serverSide:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
	}
	conn := NewConnection(ws, "s1", cfg, nil)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

const stuckEnqueueTimeout = 100 * time.Millisecond

// stuckConnection returns a Connection whose peer never reads, with its
// socket and one-slot buffer already full. It also returns how long the
// first refused Send waited.
func stuckConnection(t *testing.T) (*Connection, time.Duration) {
	t.Helper()
	conn, _ := dialPair(t, ConnectionConfig{
		BufferSize:     1,
		EnqueueTimeout: stuckEnqueueTimeout,
		WriteTimeout:   10 * time.Second,
	})

	frame := bytes.Repeat([]byte("x"), 1<<20)
	for i := 0; i < 256; i++ {
		start := time.Now()
		err := conn.Send(frame)
		if err == nil {
			continue
		}
		require.ErrorIs(t, err, ErrSendBufferFull)
		return conn, time.Since(start)
	}
	t.Fatal("send buffer never filled")
	return nil, 0
}

func TestConnectionConfig_Defaults(t *testing.T) {
	cfg := ConnectionConfig{BufferSize: 7}.withDefaults()

	assert.Equal(t, 7, cfg.BufferSize)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, time.Second, cfg.EnqueueTimeout)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
	assert.EqualValues(t, 128<<10, cfg.MaxMessageSize)
}

func TestConnection_SendPreservesOrder(t *testing.T) {
	conn, client := dialPair(t, DefaultConnectionConfig())
	assert.Equal(t, "s1", conn.UserID())

	for _, f := range []string{"one", "two", "three"} {
		require.NoError(t, conn.Send([]byte(f)))
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, want := range []string{"one", "two", "three"} {
		mt, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, mt)
		assert.Equal(t, want, string(data))
	}
}

func TestConnection_SendAfterCloseFails(t *testing.T) {
	conn, _ := dialPair(t, DefaultConnectionConfig())

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "close is idempotent")

	assert.ErrorIs(t, conn.Send([]byte("late")), ErrConnectionClosed)
	select {
	case <-conn.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestConnection_StuckPeerDoesNotStallSender(t *testing.T) {
	conn, waited := stuckConnection(t)

	assert.GreaterOrEqual(t, waited, stuckEnqueueTimeout)
	assert.Less(t, waited, time.Second, "a full buffer fails after the enqueue timeout")

	start := time.Now()
	assert.ErrorIs(t, conn.Send([]byte("small")), ErrSendBufferFull)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnection_ReadLoopDeliversDataFrames(t *testing.T) {
	conn, client := dialPair(t, DefaultConnectionConfig())

	got := make(chan string, 4)
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- conn.ReadLoop(func(data []byte) { got <- string(data) })
	}()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("first")))
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("second")))

	assert.Equal(t, "first", <-got)
	assert.Equal(t, "\x01", <-got, "binary frames reach the handler")
	assert.Equal(t, "second", <-got)

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	select {
	case err := <-loopDone:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit after peer close")
	}
}

func TestConnection_ReadLimitClosesOversizedPeer(t *testing.T) {
	conn, client := dialPair(t, ConnectionConfig{MaxMessageSize: 16})

	loopDone := make(chan error, 1)
	go func() { loopDone <- conn.ReadLoop(func([]byte) {}) }()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64))))
	select {
	case err := <-loopDone:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("oversized frame was accepted")
	}
}

func TestConnection_PingsKeepClientInformed(t *testing.T) {
	_, client := dialPair(t, ConnectionConfig{PingInterval: 20 * time.Millisecond})

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
