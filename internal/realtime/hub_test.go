package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mkhodary/chat-gateway/internal/config"
	"github.com/mkhodary/chat-gateway/internal/models"
	"github.com/mkhodary/chat-gateway/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          time.Second,
		PingInterval:          time.Second,
		SendTimeout:           time.Second,
		MaxConnections:        0,
		MaxConnectionsPerUser: 5,
		AwayAfter:             time.Minute,
		PresenceSweepInterval: time.Hour,
		NotificationStream:    "notifications",
		ConsumerGroup:         "gateway",
		PresenceChannel:       "presence-events",
	}
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newHubServer starts a hub behind an upgrade endpoint that admits the user
// named in the "user" query parameter.
func newHubServer(t *testing.T, cfg config.RealtimeConfig, redis storage.RedisClient) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(cfg, redis, storage.NewMockSessionStore())
	require.NoError(t, hub.Start())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		sessionID := r.URL.Query().Get("session")

		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if _, err := hub.Register(userID, sessionID, r.RemoteAddr, ws); err != nil {
			deadline := time.Now().Add(time.Second)
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection limit reached"), deadline)
			ws.Close()
		}
	}))

	t.Cleanup(func() {
		hub.Stop()
		server.Close()
	})
	return hub, server
}

func dialUser(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	return dialSession(t, server, userID, "")
}

func dialSession(t *testing.T, server *httptest.Server, userID, sessionID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?user=" + userID
	if sessionID != "" {
		url += "&session=" + sessionID
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	return decoded
}

func TestHub_PingPong(t *testing.T) {
	_, server := newHubServer(t, testRealtimeConfig(), nil)

	ws := dialUser(t, server, "user-1")
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	reply := readEnvelope(t, ws)
	assert.Equal(t, "pong", reply["type"])
}

func TestHub_StatusReply(t *testing.T) {
	_, server := newHubServer(t, testRealtimeConfig(), nil)

	ws := dialUser(t, server, "user-1")
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"status"}`)))

	reply := readEnvelope(t, ws)
	assert.Equal(t, "status", reply["type"])
	assert.Equal(t, "user-1", reply["userId"])
	assert.Equal(t, true, reply["isConnected"])
	assert.NotZero(t, reply["timestamp"])
}

func TestHub_MalformedFrameRecovers(t *testing.T) {
	_, server := newHubServer(t, testRealtimeConfig(), nil)

	ws := dialUser(t, server, "user-1")

	// A malformed payload gets an error reply, not a disconnect
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"`)))
	reply := readEnvelope(t, ws)
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "Error processing message", reply["message"])

	// The connection keeps working afterwards
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	reply = readEnvelope(t, ws)
	assert.Equal(t, "pong", reply["type"])
}

func TestHub_UnrecognizedFrameIgnored(t *testing.T) {
	_, server := newHubServer(t, testRealtimeConfig(), nil)

	ws := dialUser(t, server, "user-1")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))

	// No reply for the unrecognized frame; the next ping is answered
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	reply := readEnvelope(t, ws)
	assert.Equal(t, "pong", reply["type"])
}

func TestHub_AdmissionLimit(t *testing.T) {
	cfg := testRealtimeConfig()
	cfg.MaxConnectionsPerUser = 1
	hub, server := newHubServer(t, cfg, nil)

	first := dialUser(t, server, "user-1")

	// The second connection is refused with a policy-violation close code;
	// the first stays live.
	second := dialUser(t, server, "user-1")
	second.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
		"expected policy violation close, got %v", err)

	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	reply := readEnvelope(t, first)
	assert.Equal(t, "pong", reply["type"])

	connected, count := hub.GetConnectionStatus("user-1")
	assert.True(t, connected)
	assert.Equal(t, 1, count)

	stats := hub.GetStats()
	assert.Equal(t, int64(1), stats.AdmissionsRejected)
}

func TestHub_ChatRelay(t *testing.T) {
	_, server := newHubServer(t, testRealtimeConfig(), nil)

	sender := dialUser(t, server, "user-1")
	receiver := dialUser(t, server, "user-2")

	require.NoError(t, sender.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"chat","content":"hello","to":"user-2"}`)))

	relayed := readEnvelope(t, receiver)
	assert.Equal(t, "chat", relayed["type"])
	assert.Equal(t, "user-1", relayed["from"])
	assert.Equal(t, "hello", relayed["content"])
}

func TestHub_ChatRequiresRecipient(t *testing.T) {
	_, server := newHubServer(t, testRealtimeConfig(), nil)

	ws := dialUser(t, server, "user-1")
	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"chat","content":"hello"}`)))

	reply := readEnvelope(t, ws)
	assert.Equal(t, "error", reply["type"])
}

func TestHub_SendNotification(t *testing.T) {
	hub, server := newHubServer(t, testRealtimeConfig(), nil)

	ws := dialUser(t, server, "user-1")
	// Wait for the registry to see the connection before dispatching
	require.Eventually(t, func() bool {
		connected, _ := hub.GetConnectionStatus("user-1")
		return connected
	}, 2*time.Second, 10*time.Millisecond)

	report := hub.SendNotification("user-1", "maintenance at midnight", "alert")
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 0, report.Failed)

	env := readEnvelope(t, ws)
	assert.Equal(t, "alert", env["type"])
	assert.Equal(t, "maintenance at midnight", env["message"])
}

func TestHub_BroadcastExcept(t *testing.T) {
	hub, server := newHubServer(t, testRealtimeConfig(), nil)

	excluded := dialUser(t, server, "user-1")
	included := dialUser(t, server, "user-2")
	require.Eventually(t, func() bool {
		return hub.registry.Count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	report := hub.BroadcastMessageExcept("user-1", "hello everyone else", "broadcast")
	assert.Equal(t, 1, report.Delivered)

	env := readEnvelope(t, included)
	assert.Equal(t, "broadcast", env["type"])

	// The excluded user's next read should be the pong to its own ping,
	// not the broadcast.
	require.NoError(t, excluded.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	env = readEnvelope(t, excluded)
	assert.Equal(t, "pong", env["type"])
}

func TestHub_DisconnectUser(t *testing.T) {
	hub, server := newHubServer(t, testRealtimeConfig(), nil)

	ws := dialUser(t, server, "user-1")
	require.Eventually(t, func() bool {
		connected, _ := hub.GetConnectionStatus("user-1")
		return connected
	}, 2*time.Second, 10*time.Millisecond)

	closed := hub.DisconnectUser("user-1")
	assert.Equal(t, 1, closed)

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "expected the socket to be closed")

	connected, _ := hub.GetConnectionStatus("user-1")
	assert.False(t, connected)
}

func TestHub_DisconnectTransitionsOffline(t *testing.T) {
	hub, server := newHubServer(t, testRealtimeConfig(), nil)

	ws := dialUser(t, server, "user-1")
	require.Eventually(t, func() bool {
		return hub.GetUserStatus("user-1").State == models.PresenceOnline
	}, 2*time.Second, 10*time.Millisecond)

	ws.Close()

	// The read pump notices the closed transport and unregisters, which
	// drops the user's presence to offline.
	require.Eventually(t, func() bool {
		return hub.GetUserStatus("user-1").State == models.PresenceOffline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RevokeSessionClosesConnection(t *testing.T) {
	hub, server := newHubServer(t, testRealtimeConfig(), nil)
	ctx := context.Background()

	require.NoError(t, hub.RegisterSession(ctx, &models.Session{ID: "sess-1", UserID: "user-1"}))

	ws := dialSession(t, server, "user-1", "sess-1")
	require.Eventually(t, func() bool {
		connected, _ := hub.GetConnectionStatus("user-1")
		return connected
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.RevokeSession(ctx, "sess-1", "user-1"))

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "expected the revoked session's socket to be closed")

	require.Eventually(t, func() bool {
		connected, _ := hub.GetConnectionStatus("user-1")
		return !connected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ConsumesNotificationStream(t *testing.T) {
	cfg := testRealtimeConfig()
	redis := storage.NewMockRedisClient()

	hub := NewHub(cfg, redis, storage.NewMockSessionStore())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(r.URL.Query().Get("user"), "", r.RemoteAddr, ws)
	}))
	t.Cleanup(func() {
		hub.Stop()
		server.Close()
	})

	ws := dialUser(t, server, "user-1")
	require.Eventually(t, func() bool {
		connected, _ := hub.GetConnectionStatus("user-1")
		return connected
	}, 2*time.Second, 10*time.Millisecond)

	// Queue a record before the consumer starts so the mock stream replays it
	notification := models.Notification{
		ID:      "notif-1",
		UserID:  "user-1",
		Type:    "alert",
		Message: "new message waiting",
	}
	require.NoError(t, redis.PublishToStream(context.Background(), cfg.NotificationStream, "notification", notification))

	require.NoError(t, hub.Start())

	env := readEnvelope(t, ws)
	assert.Equal(t, "alert", env["type"])
	assert.Equal(t, "new message waiting", env["message"])

	require.Eventually(t, func() bool {
		return hub.GetStats().NotificationsReceived == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PresencePublication(t *testing.T) {
	cfg := testRealtimeConfig()
	cfg.BroadcastPresence = true
	redis := storage.NewMockRedisClient()

	_, server := newHubServer(t, cfg, redis)

	dialUser(t, server, "user-1")

	// The online transition is published on the presence channel
	require.Eventually(t, func() bool {
		return len(redis.PublishedOn(cfg.PresenceChannel)) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	var event models.PresenceEvent
	require.NoError(t, json.Unmarshal([]byte(redis.PublishedOn(cfg.PresenceChannel)[0]), &event))
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, models.PresenceOffline, event.Previous)
	assert.Equal(t, models.PresenceOnline, event.Current)
}
