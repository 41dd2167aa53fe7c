package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanWatcher struct {
	ch chan struct{}
}

func (w *chanWatcher) Watch(context.Context, int64) (<-chan struct{}, func() error, error) {
	return w.ch, func() error { return nil }, nil
}

func dialFeed(t *testing.T, ctx context.Context, base, path, token string, subprotocols ...string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	url := "ws" + strings.TrimPrefix(base, "http") + path
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: subprotocols,
		HTTPHeader:   header,
	})
	require.NoError(t, err)
	return c
}

func readSnapshot(t *testing.T, ctx context.Context, c *websocket.Conn) waitResp {
	t.Helper()
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	var snap waitResp
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap
}

func TestRoomFeedStreamsUntilDissolved(t *testing.T) {
	watcher := &chanWatcher{ch: make(chan struct{}, 1)}
	api := newTestAPI(t, WithRoomWatcher(watcher), WithFeedInterval(time.Hour))
	ts := httptest.NewServer(api.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := api.register(t, "alice", 1)
	roomID, err := api.srv.engine.CreateRoom(ctx, 1, 9, models.DifficultyNormal)
	require.NoError(t, err)

	c := dialFeed(t, ctx, ts.URL, "/room/ws/1", alice, roomSubprotocol)
	defer c.CloseNow()

	snap := readSnapshot(t, ctx, c)
	assert.Equal(t, models.RoomWaiting, snap.Status)
	require.Len(t, snap.Users, 1)
	assert.True(t, snap.Users[0].IsMe)

	res, err := api.srv.engine.JoinRoom(ctx, 2, roomID, models.DifficultyHard)
	require.NoError(t, err)
	require.Equal(t, models.JoinOk, res)
	watcher.ch <- struct{}{}

	snap = readSnapshot(t, ctx, c)
	assert.Len(t, snap.Users, 2)

	require.NoError(t, api.srv.engine.LeaveRoom(ctx, 2, roomID))
	require.NoError(t, api.srv.engine.LeaveRoom(ctx, 1, roomID))
	watcher.ch <- struct{}{}

	snap = readSnapshot(t, ctx, c)
	assert.Equal(t, models.RoomDissolved, snap.Status)
	assert.Empty(t, snap.Users)

	_, _, err = c.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestRoomFeedPollsWithoutWatcher(t *testing.T) {
	api := newTestAPI(t, WithFeedInterval(10*time.Millisecond))
	ts := httptest.NewServer(api.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := api.register(t, "alice", 1)
	roomID, err := api.srv.engine.CreateRoom(ctx, 1, 9, models.DifficultyNormal)
	require.NoError(t, err)

	c := dialFeed(t, ctx, ts.URL, "/room/ws/1", alice, roomSubprotocol)
	defer c.CloseNow()
	readSnapshot(t, ctx, c)

	started, err := api.srv.engine.StartRoom(ctx, 1, roomID)
	require.NoError(t, err)
	require.True(t, started)

	// unchanged polls send nothing, so the next frame is the status change
	snap := readSnapshot(t, ctx, c)
	assert.Equal(t, models.RoomLiveStarted, snap.Status)
}

func TestRoomFeedCloseCodes(t *testing.T) {
	api := newTestAPI(t)
	ts := httptest.NewServer(api.handler)
	defer ts.Close()
	alice := api.register(t, "alice", 1)

	tests := []struct {
		name         string
		path         string
		token        string
		subprotocols []string
		want         websocket.StatusCode
	}{
		{"missing subprotocol", "/room/ws/1", alice, nil, BadSubprotocolError},
		{"bad token", "/room/ws/1", "nope", []string{roomSubprotocol}, InvalidAuthTokenError},
		{"bad room id", "/room/ws/abc", alice, []string{roomSubprotocol}, InvalidRoomIDError},
		{"zero room id", "/room/ws/0", alice, []string{roomSubprotocol}, InvalidRoomIDError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			c := dialFeed(t, ctx, ts.URL, tt.path, tt.token, tt.subprotocols...)
			defer c.CloseNow()
			_, _, err := c.Read(ctx)
			assert.Equal(t, tt.want, websocket.CloseStatus(err))
		})
	}
}
