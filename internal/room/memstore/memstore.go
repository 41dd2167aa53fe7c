// Package memstore keeps rooms, memberships and users in process memory.
//
// It honours the room.Store contract closely enough to run the engine without
// Postgres: every room has its own row lock, held from LockRoom until the
// transaction ends, and a failed transaction is undone from an undo log.
// Unlike Postgres, writes of an open transaction are visible to readers that
// do not take the row lock.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jason-s-yu/liveroom/internal/auth"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
)

type memberKey struct {
	roomID int64
	userID int64
}

// Store is an in-memory room.Store and user directory.
type Store struct {
	mu      sync.RWMutex
	rooms   map[int64]*models.Room
	members map[memberKey]*models.Member
	users   map[int64]*models.User
	rowLock map[int64]chan struct{}

	nextRoomID int64
	nextUserID int64
	nextSeq    int64
	now        func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		rooms:   make(map[int64]*models.Room),
		members: make(map[memberKey]*models.Member),
		users:   make(map[int64]*models.User),
		rowLock: make(map[int64]chan struct{}),
		now:     time.Now,
	}
}

// WithTx implements room.Store.
func (s *Store) WithTx(ctx context.Context, mode room.TxMode, fn func(tx room.Tx) error) error {
	t := &tx{s: s, mode: mode, held: make(map[int64]bool)}
	if mode == room.ReadOnly {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return fn(t)
	}

	defer t.release()
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// CreateUser assigns u an id and stores it.
func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	u.ID = s.nextUserID
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// GetUserByID returns auth.ErrUserNotFound for unknown ids.
func (s *Store) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// UpdateUser overwrites name and avatar of an existing user.
func (s *Store) UpdateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[u.ID]
	if !ok {
		return auth.ErrUserNotFound
	}
	cur.Name = u.Name
	cur.AvatarID = u.AvatarID
	return nil
}

type tx struct {
	s    *Store
	mode room.TxMode
	held map[int64]bool
	undo []func()
}

// lock and unlock guard map access for read-write transactions; a read-only
// transaction already holds the read lock for its whole lifetime.
func (t *tx) lock() {
	if t.mode == room.ReadWrite {
		t.s.mu.Lock()
	}
}

func (t *tx) unlock() {
	if t.mode == room.ReadWrite {
		t.s.mu.Unlock()
	}
}

func (t *tx) rlock() {
	if t.mode == room.ReadWrite {
		t.s.mu.RLock()
	}
}

func (t *tx) runlock() {
	if t.mode == room.ReadWrite {
		t.s.mu.RUnlock()
	}
}

func (t *tx) release() {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id := range t.held {
		<-t.s.rowLock[id]
	}
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *tx) InsertRoom(_ context.Context, songID, ownerID int64, capacity int) (*models.Room, error) {
	t.lock()
	defer t.unlock()
	s := t.s
	s.nextRoomID++
	r := &models.Room{
		ID:          s.nextRoomID,
		SongID:      songID,
		Status:      models.RoomWaiting,
		OwnerID:     ownerID,
		MaxCapacity: capacity,
		CreatedAt:   s.now(),
	}
	s.rooms[r.ID] = r
	// a freshly inserted row is locked by its inserting transaction
	l := make(chan struct{}, 1)
	l <- struct{}{}
	s.rowLock[r.ID] = l
	t.held[r.ID] = true

	id := r.ID
	t.undo = append(t.undo, func() { delete(s.rooms, id) })
	cp := *r
	return &cp, nil
}

func (t *tx) GetRoom(_ context.Context, roomID int64) (*models.Room, error) {
	t.rlock()
	defer t.runlock()
	r, ok := t.s.rooms[roomID]
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	cp := *r
	return &cp, nil
}

func (t *tx) LockRoom(ctx context.Context, roomID int64) (*models.Room, error) {
	if !t.held[roomID] {
		t.rlock()
		l, ok := t.s.rowLock[roomID]
		t.runlock()
		if !ok {
			return nil, room.ErrRoomNotFound
		}
		select {
		case l <- struct{}{}:
			t.held[roomID] = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return t.GetRoom(ctx, roomID)
}

func (t *tx) SetRoomStatus(_ context.Context, roomID int64, status models.RoomStatus) error {
	t.lock()
	defer t.unlock()
	r, ok := t.s.rooms[roomID]
	if !ok {
		return room.ErrRoomNotFound
	}
	prev := r.Status
	r.Status = status
	t.undo = append(t.undo, func() { r.Status = prev })
	return nil
}

func (t *tx) SetRoomOwner(_ context.Context, roomID, ownerID int64) error {
	t.lock()
	defer t.unlock()
	r, ok := t.s.rooms[roomID]
	if !ok {
		return room.ErrRoomNotFound
	}
	prev := r.OwnerID
	r.OwnerID = ownerID
	t.undo = append(t.undo, func() { r.OwnerID = prev })
	return nil
}

func (t *tx) ListJoinableRooms(_ context.Context, songID int64) ([]models.RoomInfo, error) {
	t.rlock()
	defer t.runlock()
	counts := make(map[int64]int)
	for k := range t.s.members {
		counts[k.roomID]++
	}
	var out []models.RoomInfo
	for _, r := range t.s.rooms {
		if r.Status != models.RoomWaiting || counts[r.ID] >= r.MaxCapacity {
			continue
		}
		if songID != 0 && r.SongID != songID {
			continue
		}
		out = append(out, models.RoomInfo{
			RoomID:          r.ID,
			SongID:          r.SongID,
			JoinedUserCount: counts[r.ID],
			MaxUserCount:    r.MaxCapacity,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

func (t *tx) CountMembers(_ context.Context, roomID int64) (int, error) {
	t.rlock()
	defer t.runlock()
	n := 0
	for k := range t.s.members {
		if k.roomID == roomID {
			n++
		}
	}
	return n, nil
}

func (t *tx) ListMembers(_ context.Context, roomID int64) ([]models.Member, error) {
	t.rlock()
	defer t.runlock()
	var out []models.Member
	for k, m := range t.s.members {
		if k.roomID != roomID {
			continue
		}
		cp := *m
		if m.Result != nil {
			res := *m.Result
			cp.Result = &res
		}
		if u, ok := t.s.users[m.UserID]; ok {
			cp.Name = u.Name
			cp.AvatarID = u.AvatarID
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (t *tx) GetMember(_ context.Context, roomID, userID int64) (*models.Member, error) {
	t.rlock()
	defer t.runlock()
	m, ok := t.s.members[memberKey{roomID, userID}]
	if !ok {
		return nil, room.ErrMemberNotFound
	}
	cp := *m
	if m.Result != nil {
		res := *m.Result
		cp.Result = &res
	}
	return &cp, nil
}

func (t *tx) ActiveRoomsOf(_ context.Context, userID int64) ([]int64, error) {
	t.rlock()
	defer t.runlock()
	var ids []int64
	for k := range t.s.members {
		if k.userID != userID {
			continue
		}
		if r, ok := t.s.rooms[k.roomID]; ok && r.Status != models.RoomDissolved {
			ids = append(ids, k.roomID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *tx) InsertMember(_ context.Context, m *models.Member) error {
	t.lock()
	defer t.unlock()
	s := t.s
	key := memberKey{m.RoomID, m.UserID}
	if _, ok := s.members[key]; ok {
		return room.ErrDuplicateMember
	}
	if _, ok := s.rooms[m.RoomID]; !ok {
		return room.ErrRoomNotFound
	}
	s.nextSeq++
	cp := *m
	cp.Seq = s.nextSeq
	cp.JoinedAt = s.now()
	cp.Result = nil
	s.members[key] = &cp
	t.undo = append(t.undo, func() { delete(s.members, key) })
	return nil
}

func (t *tx) DeleteMember(_ context.Context, roomID, userID int64) error {
	t.lock()
	defer t.unlock()
	s := t.s
	key := memberKey{roomID, userID}
	prev, ok := s.members[key]
	if !ok {
		return nil
	}
	delete(s.members, key)
	t.undo = append(t.undo, func() { s.members[key] = prev })
	return nil
}

func (t *tx) SetHost(_ context.Context, roomID, userID int64, isHost bool) error {
	t.lock()
	defer t.unlock()
	m, ok := t.s.members[memberKey{roomID, userID}]
	if !ok {
		return room.ErrMemberNotFound
	}
	prev := m.IsHost
	m.IsHost = isHost
	t.undo = append(t.undo, func() { m.IsHost = prev })
	return nil
}

func (t *tx) SetResult(_ context.Context, roomID, userID int64, r models.Result) (bool, error) {
	t.lock()
	defer t.unlock()
	m, ok := t.s.members[memberKey{roomID, userID}]
	if !ok || m.Result != nil {
		return false, nil
	}
	res := r
	m.Result = &res
	t.undo = append(t.undo, func() { m.Result = nil })
	return true, nil
}
