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

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/eldtechnologies/promptsync/internal/api/middleware"
	"github.com/eldtechnologies/promptsync/internal/fanout"
	"github.com/eldtechnologies/promptsync/internal/registry"
	"github.com/eldtechnologies/promptsync/internal/session"
	"github.com/eldtechnologies/promptsync/internal/store"
)

type testEnv struct {
	srv   *httptest.Server
	rooms store.RoomStore
	reg   *registry.Registry
}

// newEnv starts a server backed by miniredis, or by the in-memory store
// with no broker when degraded is true.
func newEnv(t *testing.T, degraded bool) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	opts := store.Options{SecretHashCost: bcrypt.MinCost}

	var (
		rooms  store.RoomStore
		fo     fanout.Fanout
		client *redis.Client
	)
	if degraded {
		rooms = store.NewMemoryStore(opts)
		fo = fanout.NewLocal("")
	} else {
		mr := miniredis.RunT(t)
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		rooms = store.NewRedisStore(client, opts)
		fo = fanout.NewRedis(client, fanout.RedisOptions{Timeout: time.Second, Logger: logger})
	}

	reg := registry.New(logger)
	coord := session.New(rooms, reg, fo, session.Options{Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, fo.Subscribe(ctx, fanout.AllRooms, coord.HandleRelay))

	srv := httptest.NewServer(NewRouter(Deps{
		Logger:      logger,
		Rooms:       rooms,
		Fanout:      fo,
		Coordinator: coord,
		Registry:    reg,
		Redis:       client,
	}))
	t.Cleanup(func() {
		reg.Close()
		srv.Close()
		cancel()
		fo.Close()
		if client != nil {
			client.Close()
		}
	})

	return &testEnv{srv: srv, rooms: rooms, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path, secret string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if secret != "" {
		req.Header.Set(middleware.RoomSecretHeader, secret)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) createRoom(t *testing.T, name string) (id, secret string) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/rooms", "", map[string]string{"room_name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["room_id"].(string), body["room_secret"].(string)
}

func (e *testEnv) dial(t *testing.T, roomID, secret, mode string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "authenticate", "room_id": roomID, "secret": secret, "mode": mode,
	}))
	ok := readUntil(t, conn, "auth_success")
	return conn, ok["participant_id"].(string)
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", msgType)
		if msg["type"] == msgType {
			return msg
		}
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t, false)
	resp, body := e.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]any)
	require.Equal(t, "pass", checks["store"].(map[string]any)["status"])
	require.Equal(t, "pass", checks["broker"].(map[string]any)["status"])
	require.EqualValues(t, 0, body["active_connections"])

	resp, body = e.do(t, http.MethodGet, "/api/live", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alive", body["status"])
}

func TestHealthDegradedWithoutBroker(t *testing.T) {
	e := newEnv(t, true)
	resp, body := e.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	require.Equal(t, "pass", checks["store"].(map[string]any)["status"])
	require.Equal(t, "fail", checks["broker"].(map[string]any)["status"])
}

func TestCreateAndGetRoom(t *testing.T) {
	e := newEnv(t, false)

	resp, body := e.do(t, http.MethodPost, "/api/rooms", "", map[string]string{"room_name": "Keynote"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "Keynote", body["room_name"])
	require.NotEmpty(t, body["room_secret"])
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	roomID := body["room_id"].(string)

	resp, body = e.do(t, http.MethodGet, "/api/rooms/"+roomID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Keynote", body["room_name"])
	require.EqualValues(t, 0, body["participant_count"])
	require.NotContains(t, body, "room_secret")
	require.NotContains(t, body, "secret_hash")

	resp, _ = e.do(t, http.MethodGet, "/api/rooms/does-not-exist", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateRoomWithoutBodyGetsGeneratedName(t *testing.T) {
	e := newEnv(t, true)
	resp, body := e.do(t, http.MethodPost, "/api/rooms", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, strings.HasSuffix(body["room_name"].(string), " Room"))
}

func TestVerifyRoomSecret(t *testing.T) {
	e := newEnv(t, false)
	roomID, secret := e.createRoom(t, "")

	resp, _ := e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/verify", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/verify", "wrong", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/verify", secret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["valid"])
}

func TestPlaybackAndScrollReachDisplays(t *testing.T) {
	e := newEnv(t, false)
	roomID, secret := e.createRoom(t, "")
	disp, _ := e.dial(t, roomID, secret, "display")

	resp, body := e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/playback/start", secret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["delivered"])
	msg := readUntil(t, disp, "start")
	require.Equal(t, session.APISender, msg["sender_id"])
	require.Equal(t, roomID, msg["room_id"])

	resp, _ = e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/scroll/forward/7", secret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msg = readUntil(t, disp, "scroll_lines")
	require.Equal(t, "forward", msg["direction"])
	require.EqualValues(t, 7, msg["lines"])

	resp, _ = e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/scroll/back", secret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msg = readUntil(t, disp, "scroll_lines")
	require.Equal(t, "backward", msg["direction"])
	require.EqualValues(t, 5, msg["lines"])

	resp, _ = e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/scroll/top", secret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readUntil(t, disp, "go_to_beginning")

	resp, _ = e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/scroll/forward/0", secret, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/scroll/sideways", secret, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/playback/rewind", secret, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/playback/start", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRenameAndKickOverHTTP(t *testing.T) {
	e := newEnv(t, false)
	roomID, secret := e.createRoom(t, "")
	ctrl, ctrlID := e.dial(t, roomID, secret, "controller")
	disp, dispID := e.dial(t, roomID, secret, "display")

	resp, _ := e.do(t, http.MethodPut, "/api/rooms/"+roomID+"/name", secret,
		map[string]string{"participant_id": dispID, "room_name": "Hijacked"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPut, "/api/rooms/"+roomID+"/name", secret,
		map[string]string{"participant_id": ctrlID, "room_name": "Late Show"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msg := readUntil(t, disp, "room_name_updated")
	require.Equal(t, "Late Show", msg["room_name"])

	resp, _ = e.do(t, http.MethodDelete, "/api/rooms/"+roomID+"/participants/"+ctrlID+"?kicker_id="+ctrlID, secret, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/api/rooms/"+roomID+"/participants/"+dispID, secret, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/api/rooms/"+roomID+"/participants/"+dispID+"?kicker_id="+ctrlID, secret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readUntil(t, disp, "kicked")
	msg = readUntil(t, ctrl, "participant_kicked")
	require.Equal(t, dispID, msg["participant_id"])

	resp, _ = e.do(t, http.MethodDelete, "/api/rooms/"+roomID+"/participants/"+dispID+"?kicker_id="+ctrlID, secret, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketRejectsBadSecret(t *testing.T) {
	e := newEnv(t, false)
	roomID, _ := e.createRoom(t, "")

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "authenticate", "room_id": roomID, "secret": "nope", "mode": "display",
	}))
	readUntil(t, conn, "auth_error")

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, registry.CloseAuthFailed, closeErr.Code)
	require.Equal(t, 0, e.reg.Len())
}

func TestRoomStats(t *testing.T) {
	e := newEnv(t, false)
	roomID, secret := e.createRoom(t, "")
	e.dial(t, roomID, secret, "controller")
	e.dial(t, roomID, secret, "display")

	resp, body := e.do(t, http.MethodGet, "/api/rooms/"+roomID+"/stats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, body["participants"])
	require.EqualValues(t, 1, body["displays"])
	require.EqualValues(t, 2, body["local_connections"])
	require.Equal(t, true, body["has_controller"])
	require.Equal(t, "just now", body["created"])
}

func TestCreateRoomRateLimited(t *testing.T) {
	e := newEnv(t, false)
	for i := 0; i < 10; i++ {
		resp, _ := e.do(t, http.MethodPost, "/api/rooms", "", nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode, "request %d", i)
	}
	resp, _ := e.do(t, http.MethodPost, "/api/rooms", "", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestSecurityHeaders(t *testing.T) {
	e := newEnv(t, true)
	resp, _ := e.do(t, http.MethodGet, "/api/live", "", nil)
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	require.Contains(t, resp.Header.Get("Content-Security-Policy"), "default-src 'none'")
}
