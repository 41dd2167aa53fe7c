// internal/handlers/api_server.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jason-s-yu/liveroom/internal/auth"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/sirupsen/logrus"
)

// RoomWatcher signals whenever something happens in a room.
type RoomWatcher interface {
	Watch(ctx context.Context, roomID int64) (<-chan struct{}, func() error, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server holds what the HTTP and WebSocket handlers share.
type Server struct {
	engine       *room.Engine
	gateway      *auth.Gateway
	logger       logrus.FieldLogger
	watcher      RoomWatcher
	feedInterval time.Duration
	checks       map[string]HealthCheck
}

// Option configures a Server.
type Option func(*Server)

// WithRoomWatcher pushes feed snapshots on room events instead of only polling.
func WithRoomWatcher(w RoomWatcher) Option {
	return func(s *Server) { s.watcher = w }
}

// WithFeedInterval sets how often an idle feed re-reads the room.
func WithFeedInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.feedInterval = d
		}
	}
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

func NewServer(engine *room.Engine, gateway *auth.Gateway, logger logrus.FieldLogger, opts ...Option) *Server {
	s := &Server{
		engine:       engine,
		gateway:      gateway,
		logger:       logger,
		feedInterval: 2 * time.Second,
		checks:       make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the API mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// user endpoints
	mux.HandleFunc("POST /user/create", s.CreateUserHandler)
	mux.HandleFunc("GET /user/me", s.MeHandler)
	mux.HandleFunc("POST /user/update", s.UpdateUserHandler)

	// room endpoints
	mux.HandleFunc("POST /room/create", s.CreateRoomHandler)
	mux.HandleFunc("POST /room/list", s.ListRoomsHandler)
	mux.HandleFunc("POST /room/join", s.JoinRoomHandler)
	mux.HandleFunc("POST /room/wait", s.WaitRoomHandler)
	mux.HandleFunc("POST /room/start", s.StartRoomHandler)
	mux.HandleFunc("POST /room/end", s.EndRoomHandler)
	mux.HandleFunc("POST /room/result", s.ResultRoomHandler)
	mux.HandleFunc("POST /room/leave", s.LeaveRoomHandler)

	// room feed
	mux.HandleFunc("GET /room/ws/{room_id}", s.RoomWSHandler)

	mux.HandleFunc("GET /healthz", s.HealthHandler)
	return mux
}

// HealthHandler answers 200 when every registered dependency responds.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(s.checks))
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.WithError(err).WithField("dependency", name).Warn("health check failed")
			status[name] = "down"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, status)
}
