package handlers

import (
	"errors"
	"net/http"

	"github.com/jason-s-yu/liveroom/internal/auth"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/sirupsen/logrus"
)

// writeError maps caller errors to 4xx and logs everything else as a 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUserNotFound):
		http.Error(w, "invalid token", http.StatusUnauthorized)
	case errors.Is(err, room.ErrNoMembership):
		http.Error(w, "no such membership", http.StatusNotFound)
	default:
		s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("request failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
