// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/liveroom/internal/metrics"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	roomSubprotocol = "room"
	feedWriteWait   = 5 * time.Second
)

// RoomWSHandler streams wait snapshots of one room. A snapshot is sent on
// connect, then whenever the room changes; the socket is closed normally
// after the room is dissolved.
func (s *Server) RoomWSHandler(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{roomSubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("websocket accept error")
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != roomSubprotocol {
		c.Close(BadSubprotocolError, "client must speak the room subprotocol")
		return
	}

	u, err := s.authenticate(r)
	if err != nil {
		c.Close(InvalidAuthTokenError, "invalid auth token")
		return
	}

	roomID, err := strconv.ParseInt(r.PathValue("room_id"), 10, 64)
	if err != nil || roomID <= 0 {
		c.Close(InvalidRoomIDError, "invalid room id")
		return
	}

	metrics.FeedConnections.Inc()
	defer metrics.FeedConnections.Dec()

	log := s.logger.WithFields(logrus.Fields{"room_id": roomID, "user_id": u.ID, "remote": r.RemoteAddr})
	log.Info("room feed connected")

	// the feed never reads; CloseRead handles control frames and cancels ctx when the client goes away
	ctx := c.CloseRead(r.Context())

	err = s.streamRoom(ctx, c, u.ID, roomID)
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("room feed failed")
		return
	}
	log.Info("room feed disconnected")
}

// streamRoom writes snapshots until the room is dissolved or ctx ends.
func (s *Server) streamRoom(ctx context.Context, c *websocket.Conn, userID, roomID int64) error {
	var signals <-chan struct{}
	if s.watcher != nil {
		ch, stop, err := s.watcher.Watch(ctx, roomID)
		if err != nil {
			// polling alone still keeps the feed correct
			s.logger.WithError(err).WithField("room_id", roomID).Warn("room watch unavailable, polling only")
		} else {
			signals = ch
			defer stop()
		}
	}

	ticker := time.NewTicker(s.feedInterval)
	defer ticker.Stop()

	var last *waitRoomResponse
	for {
		status, users, err := s.engine.WaitRoom(ctx, userID, roomID)
		if err != nil {
			return err
		}
		snap := &waitRoomResponse{Status: status, Users: users}
		if snap.Users == nil {
			snap.Users = []models.RoomUser{}
		}
		if last == nil || !reflect.DeepEqual(last, snap) {
			if err := writeSnapshot(ctx, c, snap); err != nil {
				return err
			}
			last = snap
		}
		if status == models.RoomDissolved {
			return c.Close(websocket.StatusNormalClosure, "room dissolved")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-signals:
			if !ok {
				signals = nil
			}
		}
	}
}

func writeSnapshot(ctx context.Context, c *websocket.Conn, snap *waitRoomResponse) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, feedWriteWait)
	defer cancel()
	return c.Write(wctx, websocket.MessageText, data)
}
