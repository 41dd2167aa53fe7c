package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/sirupsen/logrus"
)

type roomRequest struct {
	RoomID int64 `json:"room_id"`
}

func (req roomRequest) validate() error {
	if req.RoomID <= 0 {
		return errors.New("room_id must be positive")
	}
	return nil
}

type createRoomRequest struct {
	SongID     int64             `json:"live_id"`
	Difficulty models.Difficulty `json:"select_difficulty"`
}

type listRoomsRequest struct {
	SongID int64 `json:"live_id"`
}

type joinRoomRequest struct {
	RoomID     int64             `json:"room_id"`
	Difficulty models.Difficulty `json:"select_difficulty"`
}

type endRoomRequest struct {
	RoomID      int64   `json:"room_id"`
	JudgeCounts []int64 `json:"judge_count_list"`
	Score       int64   `json:"score"`
}

func (req endRoomRequest) result() (models.Result, error) {
	res := models.Result{Score: req.Score}
	if req.RoomID <= 0 {
		return res, errors.New("room_id must be positive")
	}
	if req.Score < 0 {
		return res, errors.New("score must not be negative")
	}
	if len(req.JudgeCounts) != models.JudgeCategories {
		return res, fmt.Errorf("judge_count_list must have %d entries", models.JudgeCategories)
	}
	for i, n := range req.JudgeCounts {
		if n < 0 {
			return res, fmt.Errorf("judge_count_list[%d] must not be negative", i)
		}
		res.JudgeCounts[i] = n
	}
	return res, nil
}

type waitRoomResponse struct {
	Status models.RoomStatus `json:"status"`
	Users  []models.RoomUser `json:"room_user_list"`
}

// decodeAuthed authenticates the caller and decodes the body into req.
// It writes the error response itself and reports whether to continue.
func (s *Server) decodeAuthed(w http.ResponseWriter, r *http.Request, req any) (*models.User, bool) {
	u, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if err := decodeJSON(w, r, req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return u, true
}

// CreateRoomHandler opens a room hosted by the caller.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	u, ok := s.decodeAuthed(w, r, &req)
	if !ok {
		return
	}
	if req.SongID < 0 {
		http.Error(w, "live_id must not be negative", http.StatusBadRequest)
		return
	}
	if !req.Difficulty.Valid() {
		http.Error(w, "invalid select_difficulty", http.StatusBadRequest)
		return
	}

	roomID, err := s.engine.CreateRoom(r.Context(), u.ID, req.SongID, req.Difficulty)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"room_id": roomID})
}

// ListRoomsHandler lists joinable rooms; live_id 0 matches every song.
func (s *Server) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	var req listRoomsRequest
	if _, ok := s.decodeAuthed(w, r, &req); !ok {
		return
	}
	if req.SongID < 0 {
		http.Error(w, "live_id must not be negative", http.StatusBadRequest)
		return
	}

	rooms, err := s.engine.ListRooms(r.Context(), req.SongID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.RoomInfo{"room_info_list": rooms})
}

// JoinRoomHandler answers with the join outcome; refusals are not HTTP errors.
func (s *Server) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	u, ok := s.decodeAuthed(w, r, &req)
	if !ok {
		return
	}
	if err := (roomRequest{RoomID: req.RoomID}).validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Difficulty.Valid() {
		http.Error(w, "invalid select_difficulty", http.StatusBadRequest)
		return
	}

	result, err := s.engine.JoinRoom(r.Context(), u.ID, req.RoomID, req.Difficulty)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.JoinRoomResult{"join_room_result": result})
}

// WaitRoomHandler is polled by members until the live starts.
func (s *Server) WaitRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	u, ok := s.decodeAuthed(w, r, &req)
	if !ok {
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status, users, err := s.engine.WaitRoom(r.Context(), u.ID, req.RoomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []models.RoomUser{}
	}
	writeJSON(w, http.StatusOK, waitRoomResponse{Status: status, Users: users})
}

// StartRoomHandler starts the live; a request from anyone but the host is ignored.
func (s *Server) StartRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	u, ok := s.decodeAuthed(w, r, &req)
	if !ok {
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	started, err := s.engine.StartRoom(r.Context(), u.ID, req.RoomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !started {
		s.logger.WithFields(logrus.Fields{"user_id": u.ID, "room_id": req.RoomID}).Debug("start ignored")
	}
	writeJSON(w, http.StatusOK, emptyResponse)
}

// EndRoomHandler records the caller's play result.
func (s *Server) EndRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req endRoomRequest
	u, ok := s.decodeAuthed(w, r, &req)
	if !ok {
		return
	}
	res, err := req.result()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	recorded, err := s.engine.SubmitResult(r.Context(), u.ID, req.RoomID, res)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !recorded {
		s.logger.WithFields(logrus.Fields{"user_id": u.ID, "room_id": req.RoomID}).Debug("result ignored")
	}
	writeJSON(w, http.StatusOK, emptyResponse)
}

// ResultRoomHandler returns every member's result once all have submitted,
// and an empty list before that.
func (s *Server) ResultRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if _, ok := s.decodeAuthed(w, r, &req); !ok {
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results, err := s.engine.AggregateResult(r.Context(), req.RoomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []models.ResultUser{}
	}
	writeJSON(w, http.StatusOK, map[string][]models.ResultUser{"result_user_list": results})
}

// LeaveRoomHandler removes the caller from the room, handing over the host role if needed.
func (s *Server) LeaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	u, ok := s.decodeAuthed(w, r, &req)
	if !ok {
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.LeaveRoom(r.Context(), u.ID, req.RoomID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyResponse)
}
