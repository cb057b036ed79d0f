package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mkhodary/chat-gateway/internal/config"
	"github.com/mkhodary/chat-gateway/internal/models"
	"github.com/mkhodary/chat-gateway/internal/realtime"
	"github.com/mkhodary/chat-gateway/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newAPIServer wires a hub, its collaborator routes, and an upgrade endpoint
// for tests that need live connections.
func newAPIServer(t *testing.T) (*realtime.Hub, *httptest.Server) {
	t.Helper()

	cfg := config.RealtimeConfig{
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          time.Second,
		PingInterval:          time.Second,
		SendTimeout:           time.Second,
		MaxConnectionsPerUser: 5,
		AwayAfter:             time.Minute,
		PresenceSweepInterval: time.Hour,
	}
	hub := realtime.NewHub(cfg, nil, storage.NewMockSessionStore())

	router := mux.NewRouter()
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(r.URL.Query().Get("user"), r.URL.Query().Get("session"), r.RemoteAddr, ws)
	})
	NewGatewayHandler(hub).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return hub, server
}

func dialUser(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?user=" + userID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func doJSON(t *testing.T, method, url string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestOnlineUsers(t *testing.T) {
	hub, server := newAPIServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/users/online", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])

	dialUser(t, server, "user-1")
	require.Eventually(t, func() bool {
		connected, _ := hub.GetConnectionStatus("user-1")
		return connected
	}, 2*time.Second, 10*time.Millisecond)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/users/online", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
}

func TestUserStatus(t *testing.T) {
	hub, server := newAPIServer(t)

	// Unknown user: disconnected and offline
	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/users/user-1/status", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, "offline", body["state"])

	dialUser(t, server, "user-1")
	require.Eventually(t, func() bool {
		connected, _ := hub.GetConnectionStatus("user-1")
		return connected
	}, 2*time.Second, 10*time.Millisecond)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/users/user-1/status", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, float64(1), body["connections"])
	assert.Equal(t, "online", body["state"])
}

func TestRegisterSession(t *testing.T) {
	_, server := newAPIServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions", map[string]string{
		"user_id":     "user-1",
		"device_info": "Pixel 9",
	}, nil)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "user-1", body["user_id"])
	assert.NotEmpty(t, body["id"], "a session id should be generated when omitted")
}

func TestRegisterSessionRequiresUser(t *testing.T) {
	_, server := newAPIServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions", map[string]string{
		"device_info": "Pixel 9",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRevokeSession(t *testing.T) {
	hub, server := newAPIServer(t)
	require.NoError(t, hub.RegisterSession(context.Background(), &models.Session{ID: "sess-1", UserID: "user-1"}))

	// Wrong owner is forbidden
	resp, _ := doJSON(t, http.MethodDelete, server.URL+"/api/v1/sessions/sess-1", nil,
		map[string]string{"X-User-ID": "user-2"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Missing requester is a bad request
	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/v1/sessions/sess-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The owner succeeds
	resp, body := doJSON(t, http.MethodDelete, server.URL+"/api/v1/sessions/sess-1", nil,
		map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "revoked", body["status"])

	// Revoking again conflicts
	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/v1/sessions/sess-1", nil,
		map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown session is not found
	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/v1/sessions/no-such", nil,
		map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRevokeSessionAdmin(t *testing.T) {
	hub, server := newAPIServer(t)
	require.NoError(t, hub.RegisterSession(context.Background(), &models.Session{ID: "sess-1", UserID: "user-1"}))

	// Admin revocation skips the ownership check
	resp, body := doJSON(t, http.MethodDelete, server.URL+"/api/v1/sessions/sess-1", nil,
		map[string]string{"X-Admin": "true"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "revoked", body["status"])
}

func TestUserSessions(t *testing.T) {
	hub, server := newAPIServer(t)
	ctx := context.Background()
	require.NoError(t, hub.RegisterSession(ctx, &models.Session{ID: "sess-1", UserID: "user-1"}))
	require.NoError(t, hub.RegisterSession(ctx, &models.Session{ID: "sess-2", UserID: "user-1"}))
	require.NoError(t, hub.RevokeSessionAdmin(ctx, "sess-2"))

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/users/user-1/sessions", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"], "revoked sessions are excluded")
}

func TestNotify(t *testing.T) {
	hub, server := newAPIServer(t)

	// No live connections: delivered 0, still a 200
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/users/user-1/notify", map[string]string{
		"message": "hello",
	}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["delivered"])

	ws := dialUser(t, server, "user-1")
	require.Eventually(t, func() bool {
		connected, _ := hub.GetConnectionStatus("user-1")
		return connected
	}, 2*time.Second, 10*time.Millisecond)

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/users/user-1/notify", map[string]string{
		"message": "hello",
		"type":    "alert",
	}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["delivered"])
	assert.Equal(t, float64(0), body["failed"])

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "alert", env["type"])
	assert.Equal(t, "hello", env["message"])
}

func TestBroadcast(t *testing.T) {
	hub, server := newAPIServer(t)

	dialUser(t, server, "user-1")
	dialUser(t, server, "user-2")
	require.Eventually(t, func() bool {
		return len(hub.GetActiveUsers()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/broadcast", map[string]string{
		"message": "maintenance tonight",
	}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["delivered"])

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/broadcast", map[string]string{
		"message":        "everyone but user-1",
		"except_user_id": "user-1",
	}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["delivered"])
}

func TestDisconnect(t *testing.T) {
	hub, server := newAPIServer(t)

	dialUser(t, server, "user-1")
	require.Eventually(t, func() bool {
		connected, _ := hub.GetConnectionStatus("user-1")
		return connected
	}, 2*time.Second, 10*time.Millisecond)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/users/user-1/disconnect", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["connections_closed"])

	connected, _ := hub.GetConnectionStatus("user-1")
	assert.False(t, connected)
}
