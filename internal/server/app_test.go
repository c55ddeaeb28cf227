package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fenggwsx/BridgeRelay/internal/config"
	"github.com/fenggwsx/BridgeRelay/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Env:           "dev",
		ListenAddr:    "127.0.0.1:0",
		CORSAllow:     []string{"*"},
		PingInterval:  time.Second,
		WriteTimeout:  time.Second,
		MaxFrameBytes: 1 << 16,
		SendQueue:     32,
	}
}

func newTestApp(t *testing.T, cfg config.ServerConfig, store storage.Store) (*App, *httptest.Server) {
	t.Helper()
	app := NewApp(cfg, zap.NewNop(), store)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return app, srv
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, srv *httptest.Server, path string) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &testClient{t: t, conn: conn}
	welcome := c.expect("welcome")
	c.id = welcome["clientId"].(string)
	require.NotEmpty(t, c.id)
	return c
}

func (c *testClient) send(frame string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// expect reads frames until one of the wanted type arrives.
func (c *testClient) expect(messageType string) map[string]interface{} {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", messageType)
		var frame map[string]interface{}
		require.NoError(c.t, json.Unmarshal(data, &frame))
		if frame["type"] == messageType {
			return frame
		}
	}
}

func TestApp_WelcomeOnBothPaths(t *testing.T) {
	_, srv := newTestApp(t, testConfig(), nil)

	a := dial(t, srv, "/ws")
	b := dial(t, srv, "/")

	assert.NotEqual(t, a.id, b.id)
}

func TestApp_LobbyScenario(t *testing.T) {
	app, srv := newTestApp(t, testConfig(), nil)

	a := dial(t, srv, "/ws")
	b := dial(t, srv, "/ws")
	c := dial(t, srv, "/ws")

	a.send(`{"type":"register","clientType":"web"}`)
	a.expect("registered")
	b.send(`{"type":"register","clientType":"web"}`)
	b.expect("registered")
	c.send(`{"type":"register","clientType":"printer","metadata":{"model":"TM"}}`)
	c.expect("registered")

	b.send(`{"type":"join_room","roomId":"lobby"}`)
	b.expect("room_joined")
	c.send(`{"type":"join_room","roomId":"lobby"}`)
	c.expect("room_joined")
	joined := b.expect("client_joined_room")
	assert.Equal(t, c.id, joined["clientId"])
	assert.Equal(t, "printer", joined["clientType"])

	a.send(`{"type":"room_broadcast","data":"x"}`)
	assert.Equal(t, "Not in any room", a.expect("error")["message"])

	b.send(`{"type":"direct_message","targetId":"printer","data":{"job":1}}`)
	direct := c.expect("direct_message")
	assert.Equal(t, b.id, direct["from"])
	assert.Equal(t, "web", direct["fromType"])
	assert.Equal(t, "printer", b.expect("direct_message_sent")["targetId"])

	b.send(`{"type":"room_broadcast","data":"hello room"}`)
	roomMsg := c.expect("room_message")
	assert.Equal(t, "lobby", roomMsg["roomId"])
	sent := b.expect("room_broadcast_sent")
	assert.Equal(t, float64(1), sent["sentTo"])

	require.NoError(t, c.conn.Close())

	left := b.expect("client_left_room")
	assert.Equal(t, c.id, left["clientId"])
	assert.Equal(t, "lobby", left["roomId"])
	assert.Equal(t, c.id, b.expect("client_disconnected")["clientId"])
	assert.Equal(t, c.id, a.expect("client_disconnected")["clientId"])

	assert.Equal(t, []string{b.id}, app.registry.MembersOf("lobby"))
}

func TestApp_InvalidFramesKeepConnectionOpen(t *testing.T) {
	_, srv := newTestApp(t, testConfig(), nil)
	a := dial(t, srv, "/ws")

	a.send(`{not json`)
	assert.Equal(t, "Invalid JSON format", a.expect("error")["message"])

	a.send(`{"type":"teleport"}`)
	assert.Equal(t, "Unknown message type", a.expect("error")["message"])

	a.send(`{"type":"ping"}`)
	pong := a.expect("pong")
	assert.NotEmpty(t, pong["timestamp"])
}

func TestApp_BroadcastCountsRecipients(t *testing.T) {
	_, srv := newTestApp(t, testConfig(), nil)
	a := dial(t, srv, "/ws")
	b := dial(t, srv, "/ws")
	c := dial(t, srv, "/ws")

	a.send(`{"type":"broadcast","data":{"n":1}}`)

	assert.Equal(t, float64(2), a.expect("broadcast_sent")["sentTo"])
	assert.Equal(t, a.id, b.expect("broadcast_message")["from"])
	assert.Equal(t, a.id, c.expect("broadcast_message")["from"])
}

func TestApp_PongUpdatesLiveness(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 50 * time.Millisecond
	app, srv := newTestApp(t, cfg, nil)
	a := dial(t, srv, "/ws")

	go func() {
		// Reading lets the client answer pings.
		for {
			if err := a.conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if _, _, err := a.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		conn, ok := app.registry.Get(a.id)
		return ok && conn.LastSeen.After(conn.ConnectedAt)
	}, 3*time.Second, 20*time.Millisecond)
}

func TestApp_PongTimeoutClosesSilentPeer(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = 50 * time.Millisecond
	app, srv := newTestApp(t, cfg, nil)
	dial(t, srv, "/ws")

	require.Eventually(t, func() bool {
		conns, _ := app.registry.Counts()
		return conns == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestApp_OversizedFrameTerminatesSession(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFrameBytes = 64
	app, srv := newTestApp(t, cfg, nil)
	a := dial(t, srv, "/ws")

	a.send(`{"type":"broadcast","data":"` + strings.Repeat("x", 256) + `"}`)

	require.Eventually(t, func() bool {
		conns, _ := app.registry.Counts()
		return conns == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestApp_CheckOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.CORSAllow = []string{"https://dashboard.example"}
	app := NewApp(cfg, zap.NewNop(), nil)

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "https://dashboard.example", want: true},
		{origin: "https://evil.example", want: false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, app.checkOrigin(req), tt.origin)
	}
}

func TestApp_RunServesAndShutsDown(t *testing.T) {
	cfg := testConfig()
	cfg.TLS = config.TLSConfig{Addr: "127.0.0.1:0", CertFile: "missing.crt", KeyFile: "missing.key"}
	app := NewApp(cfg, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
