package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer upgrades and echoes every text message back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketTransport_SendAndReceive(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr := NewWebSocketTransport()
	conn, err := tr.Open(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte("hello")))

	select {
	case data := <-conn.Inbound():
		assert.Equal(t, "hello", string(data))
	case <-time.After(time.Second):
		t.Fatal("no echo received")
	}
}

func TestWebSocketTransport_CloseIsTerminal(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr := NewWebSocketTransport()
	conn, err := tr.Open(context.Background(), wsURL(srv))
	require.NoError(t, err)

	require.NoError(t, conn.Close())

	select {
	case <-conn.Closed():
	case <-time.After(time.Second):
		t.Fatal("Closed did not fire")
	}

	// Exactly one terminal event: the inbound stream ends too.
	require.Eventually(t, func() bool {
		_, ok := <-conn.Inbound()
		return !ok
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, conn.Send([]byte("late")), ErrNotConnected)
	// Closing again is a no-op, not a second event.
	assert.NoError(t, conn.Close())
}

func TestWebSocketTransport_ServerSideDrop(t *testing.T) {
	// httptest stops tracking hijacked connections, so CloseClientConnections
	// cannot reach a websocket; capture the server-side conn and drop it
	// directly instead.
	serverSide := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- ws
	}))

	tr := NewWebSocketTransport()
	conn, err := tr.Open(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	(<-serverSide).UnderlyingConn().Close()

	select {
	case <-conn.Closed():
		assert.Error(t, conn.Err(), "involuntary loss carries the transport error")
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss not signalled")
	}
	srv.Close()
}

func TestWebSocketTransport_DialFailure(t *testing.T) {
	tr := NewWebSocketTransport()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := tr.Open(ctx, "ws://127.0.0.1:1/api/ws/room")
	assert.Error(t, err)
}
