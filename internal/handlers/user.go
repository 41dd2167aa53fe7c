package handlers

import (
	"net/http"

	"github.com/jason-s-yu/liveroom/internal/models"
)

type userRequest struct {
	Name     string `json:"user_name"`
	AvatarID int64  `json:"leader_card_id"`
}

// authenticate resolves the caller's token to a user.
func (s *Server) authenticate(r *http.Request) (*models.User, error) {
	return s.gateway.ResolveToken(r.Context(), tokenFromRequest(r))
}

// CreateUserHandler registers a user and hands back its token, also as a cookie.
//
// Request payload:
//
//	{"user_name": "alice", "leader_card_id": 12}
//
// Response payload:
//
//	{"user_token": "{jwt}"}
func (s *Server) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.AvatarID < 0 {
		http.Error(w, "leader_card_id must not be negative", http.StatusBadRequest)
		return
	}

	_, token, err := s.gateway.Register(r.Context(), req.Name, req.AvatarID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		MaxAge:   s.gateway.Issuer().MaxAge(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"user_token": token})
}

// MeHandler returns the caller's identity.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	u, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdateUserHandler renames the caller and changes their leader card.
func (s *Server) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	u, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.AvatarID < 0 {
		http.Error(w, "leader_card_id must not be negative", http.StatusBadRequest)
		return
	}

	u.Name = req.Name
	u.AvatarID = req.AvatarID
	if err := s.gateway.UpdateUser(r.Context(), u); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyResponse)
}
