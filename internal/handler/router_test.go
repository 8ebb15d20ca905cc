package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkroom/internal/app/directory"
	"linkroom/internal/app/gateway"
	"linkroom/internal/app/realtime"
	"linkroom/internal/app/room"
	"linkroom/internal/configs"
	"linkroom/internal/pkg/errs"
	"linkroom/internal/pkg/resp"
)

func newTestServer(t *testing.T, dir directory.Directory) *httptest.Server {
	t.Helper()

	hub := realtime.NewHub()
	deps := &AppDeps{
		Config:    &configs.AppConfig{Environment: "development"},
		Directory: dir,
		Substrate: hub,
	}

	srv := httptest.NewServer(Router(deps))
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Close()
	})
	return srv
}

func getJSON(t *testing.T, url string) (int, resp.JSONResponse) {
	t.Helper()

	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()

	var body resp.JSONResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return res.StatusCode, body
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, directory.NewMemory())

	status, body := getJSON(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, body.Code)
	assert.Equal(t, map[string]any{"status": "ok", "service": "Link Room Server"}, body.Data)
}

func TestGetRoom(t *testing.T) {
	dir := directory.NewMemory()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, dir.Register(context.Background(), room.Room{
		ID:        "r1",
		Code:      "AB12CD",
		CreatedAt: created,
		Document:  "<h1>secret draft</h1>",
		Language:  room.DefaultLanguage,
	}))
	srv := newTestServer(t, dir)

	status, body := getJSON(t, srv.URL+"/api/rooms/ab12cd")
	assert.Equal(t, http.StatusOK, status)
	data, ok := body.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AB12CD", data["code"])
	assert.Equal(t, "html", data["language"])
	assert.Equal(t, created.Format(time.RFC3339), data["createdAt"])
	assert.NotContains(t, data, "codeContent", "the document is only served to room members")

	status, body = getJSON(t, srv.URL+"/api/rooms/ZZZZZZ")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errs.ErrRoomNotFound, body.Code)

	_, body = getJSON(t, srv.URL+"/api/rooms/nope")
	assert.Equal(t, errs.ErrInvalidParams, body.Code)
}

type brokenDirectory struct {
	directory.Directory
}

func (brokenDirectory) Lookup(context.Context, string) (room.Room, error) {
	return room.Room{}, io.ErrUnexpectedEOF
}

func TestGetRoomDirectoryFailure(t *testing.T) {
	srv := newTestServer(t, brokenDirectory{Directory: directory.NewMemory()})

	status, body := getJSON(t, srv.URL+"/api/rooms/AB12CD")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, errs.ErrDirectoryUnavailable, body.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, directory.NewMemory())

	_, _ = getJSON(t, srv.URL+"/health")

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(raw), `linkroom_http_requests_total{method="GET",route="/health",status="200"}`)
}

func TestWebSocketRoute(t *testing.T) {
	srv := newTestServer(t, directory.NewMemory())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	frame, err := json.Marshal(map[string]any{
		"type":    gateway.TypeCreateRoom,
		"payload": gateway.CreateRoomPayload{Username: "Ada"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var f gateway.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == gateway.TypeRoomCreated {
			var p gateway.RoomCreatedPayload
			require.NoError(t, json.Unmarshal(f.Payload, &p))
			assert.Len(t, p.Code, 6)
			return
		}
	}
}

func sendCreate(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{
		"type":    gateway.TypeCreateRoom,
		"payload": gateway.CreateRoomPayload{Username: "Ada"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readFrame(t *testing.T, conn *websocket.Conn, types ...gateway.FrameType) gateway.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var f gateway.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		for _, ft := range types {
			if f.Type == ft {
				return f
			}
		}
	}
}

// Room creation is throttled per client IP, across connections.
func TestRoomCreationRateLimit(t *testing.T) {
	dir := directory.NewMemory()
	srv := newTestServer(t, dir)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	for i := 0; i < CreateBurst; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		sendCreate(t, conn)
		f := readFrame(t, conn, gateway.TypeRoomCreated, gateway.TypeError)
		assert.Equal(t, gateway.TypeRoomCreated, f.Type)
		_ = conn.Close()
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	sendCreate(t, conn)
	f := readFrame(t, conn, gateway.TypeRoomCreated, gateway.TypeError)
	require.Equal(t, gateway.TypeError, f.Type)

	var p gateway.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, errs.ErrRateLimitExceeded, p.Code)
	assert.Equal(t, CreateBurst, dir.Len())
}
