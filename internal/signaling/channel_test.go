package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achneerov/algolounge-voice/internal/core"
)

var testUpgrader = websocket.Upgrader{}

// testServer upgrades one websocket connection and hands every decoded
// frame to the responder, which may write frames back on the connection.
func testServer(t *testing.T, responder func(conn *websocket.Conn, msg *envelope)) (*httptest.Server, string) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg := &envelope{}
			if err := json.Unmarshal(payload, msg); err != nil {
				continue
			}
			responder(conn, msg)
		}
	}))
	t.Cleanup(srv.Close)

	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func writeFrame(t *testing.T, conn *websocket.Conn, msg *envelope) {
	t.Helper()

	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func TestDialRequiresToken(t *testing.T) {
	ch, err := Dial(context.Background(), "ws://localhost:0/voice", "")

	assert.Nil(t, ch)
	assert.ErrorIs(t, err, core.ErrNoAuthToken)
}

func TestDialSendsBearerToken(t *testing.T) {
	var mu sync.Mutex
	var header string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		header = r.Header.Get("Authorization")
		mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	ch, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "secret-token")
	require.NoError(t, err)
	defer ch.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer secret-token", header)
}

func TestRequestAckCorrelation(t *testing.T) {
	_, endpoint := testServer(t, func(conn *websocket.Conn, msg *envelope) {
		writeFrame(t, conn, &envelope{
			Version: msg.Version,
			ID:      msg.ID,
			Method:  msg.Method,
			Result:  json.RawMessage(`{"echo":"` + msg.Method + `"}`),
		})
	})

	ch, err := Dial(context.Background(), endpoint, "token")
	require.NoError(t, err)
	defer ch.Close()

	result := struct {
		Echo string `json:"echo"`
	}{}
	require.NoError(t, ch.Request(context.Background(), "join", map[string]int{"sessionId": 1}, &result))
	assert.Equal(t, "join", result.Echo)

	require.NoError(t, ch.Request(context.Background(), "mute", nil, &result))
	assert.Equal(t, "mute", result.Echo)
}

func TestRequestAckError(t *testing.T) {
	_, endpoint := testServer(t, func(conn *websocket.Conn, msg *envelope) {
		writeFrame(t, conn, &envelope{
			Version: msg.Version,
			ID:      msg.ID,
			Method:  msg.Method,
			Error:   "unsupported codec",
		})
	})

	ch, err := Dial(context.Background(), endpoint, "token")
	require.NoError(t, err)
	defer ch.Close()

	err = ch.Request(context.Background(), "produce", nil, nil)
	require.Error(t, err)

	sigErr := &core.SignalError{}
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, "produce", sigErr.Method)
	assert.Equal(t, "unsupported codec", sigErr.Reason)
}

func TestPushEventDispatch(t *testing.T) {
	_, endpoint := testServer(t, func(conn *websocket.Conn, msg *envelope) {
		// Ack the request, then push an unsolicited event.
		writeFrame(t, conn, &envelope{Version: msg.Version, ID: msg.ID, Result: json.RawMessage(`{}`)})
		writeFrame(t, conn, &envelope{
			Version: jsonRpcVersion,
			Method:  UserJoinedEvent,
			Params:  json.RawMessage(`{"userId":7}`),
		})
	})

	ch, err := Dial(context.Background(), endpoint, "token")
	require.NoError(t, err)
	defer ch.Close()

	first := make(chan json.RawMessage, 1)
	second := make(chan json.RawMessage, 1)
	ch.On(UserJoinedEvent, func(params json.RawMessage) { first <- params })
	ch.On(UserJoinedEvent, func(params json.RawMessage) { second <- params })

	require.NoError(t, ch.Request(context.Background(), "join", nil, nil))

	select {
	case params := <-first:
		assert.JSONEq(t, `{"userId":7}`, string(params))
	case <-time.After(2 * time.Second):
		t.Fatal("first handler never fired")
	}
	select {
	case params := <-second:
		assert.JSONEq(t, `{"userId":7}`, string(params))
	case <-time.After(2 * time.Second):
		t.Fatal("second handler never fired")
	}
}

func TestCloseIdempotent(t *testing.T) {
	_, endpoint := testServer(t, func(conn *websocket.Conn, msg *envelope) {})

	ch, err := Dial(context.Background(), endpoint, "token")
	require.NoError(t, err)

	ch.Close()
	assert.NotPanics(t, func() { ch.Close() })
}

func TestCloseRejectsPendingRequests(t *testing.T) {
	_, endpoint := testServer(t, func(conn *websocket.Conn, msg *envelope) {
		// Never ack; the request stays pending until the channel closes.
	})

	ch, err := Dial(context.Background(), endpoint, "token")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- ch.Request(context.Background(), "join", nil, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	ch.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, core.ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was never rejected")
	}
}

func TestRequestAfterClose(t *testing.T) {
	_, endpoint := testServer(t, func(conn *websocket.Conn, msg *envelope) {})

	ch, err := Dial(context.Background(), endpoint, "token")
	require.NoError(t, err)
	ch.Close()

	err = ch.Request(context.Background(), "join", nil, nil)
	assert.ErrorIs(t, err, core.ErrChannelClosed)
}

func TestServerDisconnectRejectsPending(t *testing.T) {
	_, endpoint := testServer(t, func(conn *websocket.Conn, msg *envelope) {
		conn.Close()
	})

	ch, err := Dial(context.Background(), endpoint, "token")
	require.NoError(t, err)
	defer ch.Close()

	err = ch.Request(context.Background(), "join", nil, nil)
	assert.ErrorIs(t, err, core.ErrChannelClosed)
}
