package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achneerov/algolounge-voice/internal/config"
	"github.com/achneerov/algolounge-voice/internal/core"
	"github.com/achneerov/algolounge-voice/internal/session"
)

func startApp(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	app := New(AppOptions{Env: core.DevelopmentEnv})
	ts := httptest.NewServer(app.Router())
	t.Cleanup(ts.Close)

	return ts, "ws" + strings.TrimPrefix(ts.URL, "http") + "/voice"
}

func clientConfig(endpoint, token string) *config.Config {
	cfg := config.NewConfig()
	cfg.ServerURL = endpoint
	cfg.AuthToken = token
	cfg.ConnectTimeout = 5 * time.Second
	return cfg
}

func TestVoiceEndpointRequiresBearerToken(t *testing.T) {
	ts, _ := startApp(t)

	for _, header := range []string{"", "Bearer ", "Token abc"} {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/voice", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "header %q", header)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := startApp(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTwoClientsSeeEachOther(t *testing.T) {
	_, endpoint := startApp(t)
	ctx := context.Background()

	alice := session.New(clientConfig(endpoint, "alice-token"))
	require.NoError(t, alice.Connect(ctx, 1))
	defer alice.Disconnect()

	// First member in the room sees nobody.
	assert.Empty(t, alice.Participants())

	bob := session.New(clientConfig(endpoint, "bob-token"))
	require.NoError(t, bob.Connect(ctx, 1))
	defer bob.Disconnect()

	// Bob's join ack roster already contains alice.
	require.Eventually(t, func() bool {
		return len(bob.Participants()) == 1
	}, 3*time.Second, 10*time.Millisecond, "bob never saw alice")

	// Alice learns about bob through his producer_added broadcasts.
	require.Eventually(t, func() bool {
		return len(alice.Participants()) == 1
	}, 3*time.Second, 10*time.Millisecond, "alice never saw bob")

	for _, p := range alice.Participants() {
		assert.False(t, p.IsMuted)
		assert.True(t, p.IsVideoEnabled)
	}
}

func TestMuteIsBroadcastToPeers(t *testing.T) {
	_, endpoint := startApp(t)
	ctx := context.Background()

	alice := session.New(clientConfig(endpoint, "alice-token"))
	require.NoError(t, alice.Connect(ctx, 7))
	defer alice.Disconnect()

	bob := session.New(clientConfig(endpoint, "bob-token"))
	require.NoError(t, bob.Connect(ctx, 7))
	defer bob.Disconnect()

	require.Eventually(t, func() bool {
		return len(bob.Participants()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.SetMuted(ctx, 7, true))
	require.Eventually(t, func() bool {
		for _, p := range bob.Participants() {
			return p.IsMuted
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "bob never saw alice's mute")

	require.NoError(t, alice.SetVideoEnabled(ctx, 7, false))
	require.Eventually(t, func() bool {
		for _, p := range bob.Participants() {
			return !p.IsVideoEnabled
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "bob never saw alice's video toggle")
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	_, endpoint := startApp(t)
	ctx := context.Background()

	alice := session.New(clientConfig(endpoint, "alice-token"))
	require.NoError(t, alice.Connect(ctx, 3))
	defer alice.Disconnect()

	bob := session.New(clientConfig(endpoint, "bob-token"))
	require.NoError(t, bob.Connect(ctx, 3))

	require.Eventually(t, func() bool {
		return len(alice.Participants()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	bob.Disconnect()

	require.Eventually(t, func() bool {
		return len(alice.Participants()) == 0
	}, 3*time.Second, 10*time.Millisecond, "alice never saw bob leave")
	assert.True(t, alice.Connected())
}
