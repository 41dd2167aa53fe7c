// internal/room/engine.go
package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jason-s-yu/liveroom/internal/metrics"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/sirupsen/logrus"
)

// Notifier receives the events of a committed transaction.
type Notifier interface {
	Publish(ctx context.Context, events []models.RoomEvent) error
}

// Engine runs the room lifecycle. Every operation maps to one store
// transaction and re-reads the rows it decides on; nothing about a room is
// remembered between calls.
type Engine struct {
	store    Store
	notifier Notifier
	logger   logrus.FieldLogger
	capacity int
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets where committed room events go.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithCapacity overrides models.MaxRoomCapacity for new rooms.
func WithCapacity(n int) Option {
	return func(e *Engine) { e.capacity = n }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an engine backed by store.
func NewEngine(store Store, logger logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		logger:   logger,
		capacity: models.MaxRoomCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// txEvents collects the events of one transaction attempt.
type txEvents struct {
	now    func() time.Time
	events []models.RoomEvent
}

func (t *txEvents) add(roomID, userID int64, kind models.RoomEventKind) {
	t.events = append(t.events, models.RoomEvent{RoomID: roomID, UserID: userID, Kind: kind, At: t.now()})
}

// maxLockAttempts bounds how often a transaction is restarted because the
// rooms it has to lock changed underneath it.
const maxLockAttempts = 8

// errLockSetChanged aborts a transaction attempt that found a room it must
// lock only after locking higher ids. The next attempt locks the whole set in order.
var errLockSetChanged = errors.New("active rooms changed while locking")

// write runs fn in a read-write transaction and publishes its events after commit.
func (e *Engine) write(ctx context.Context, fn func(tx Tx, ev *txEvents) error) error {
	ev := &txEvents{now: e.now}
	for attempt := 1; ; attempt++ {
		err := e.store.WithTx(ctx, ReadWrite, func(tx Tx) error {
			ev.events = ev.events[:0]
			return fn(tx, ev)
		})
		if errors.Is(err, errLockSetChanged) && attempt < maxLockAttempts {
			e.logger.WithField("attempt", attempt).Debug("restarting transaction with new lock set")
			continue
		}
		if err != nil {
			return err
		}
		e.publish(ctx, ev.events)
		return nil
	}
}

func (e *Engine) publish(ctx context.Context, events []models.RoomEvent) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		metrics.RoomTransitions.WithLabelValues(string(ev.Kind)).Inc()
	}
	if e.notifier == nil {
		return
	}
	// the transaction is already committed; a caller hanging up must not drop the events
	if err := e.notifier.Publish(context.WithoutCancel(ctx), events); err != nil {
		e.logger.WithError(err).WithField("room_id", events[0].RoomID).Warn("failed to publish room events")
	}
}

// CreateRoom creates a Waiting room for songID with ownerID as host and returns its id.
// Any active membership the owner holds elsewhere is given up first.
func (e *Engine) CreateRoom(ctx context.Context, ownerID, songID int64, difficulty models.Difficulty) (int64, error) {
	var roomID int64
	err := e.write(ctx, func(tx Tx, ev *txEvents) error {
		prior, _, err := e.lockWithPrior(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if err := e.evict(ctx, tx, ev, ownerID, prior, 0); err != nil {
			return err
		}

		r, err := tx.InsertRoom(ctx, songID, ownerID, e.capacity)
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		err = tx.InsertMember(ctx, &models.Member{
			RoomID:     r.ID,
			UserID:     ownerID,
			Difficulty: difficulty,
			IsHost:     true,
		})
		if err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		roomID = r.ID
		ev.add(r.ID, ownerID, models.EventRoomCreated)
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.WithFields(logrus.Fields{"room_id": roomID, "owner_id": ownerID, "song_id": songID}).Info("room created")
	return roomID, nil
}

// ListRooms returns the joinable rooms for songID, or for every song when songID is 0.
func (e *Engine) ListRooms(ctx context.Context, songID int64) ([]models.RoomInfo, error) {
	var rooms []models.RoomInfo
	err := e.store.WithTx(ctx, ReadOnly, func(tx Tx) error {
		var err error
		rooms, err = tx.ListJoinableRooms(ctx, songID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if rooms == nil {
		rooms = []models.RoomInfo{}
	}
	return rooms, nil
}

// JoinRoom adds userID to roomID. The room row is locked before capacity and
// status are read, so concurrent joins are decided one at a time.
func (e *Engine) JoinRoom(ctx context.Context, userID, roomID int64, difficulty models.Difficulty) (models.JoinRoomResult, error) {
	var result models.JoinRoomResult
	err := e.write(ctx, func(tx Tx, ev *txEvents) error {
		prior, locked, err := e.lockWithPrior(ctx, tx, userID, roomID)
		if err != nil {
			return err
		}

		r := locked[roomID]
		if r == nil || r.Status == models.RoomDissolved {
			result = models.JoinDisbanded
			return nil
		}
		count, err := tx.CountMembers(ctx, roomID)
		if err != nil {
			return fmt.Errorf("count members of room %d: %w", roomID, err)
		}
		if count >= r.MaxCapacity {
			result = models.JoinRoomFull
			return nil
		}
		if _, err := tx.GetMember(ctx, roomID, userID); err == nil {
			result = models.JoinOtherError
			return nil
		} else if !errors.Is(err, ErrMemberNotFound) {
			return fmt.Errorf("get member: %w", err)
		}
		if r.Status != models.RoomWaiting {
			result = models.JoinOtherError
			return nil
		}

		if err := e.evict(ctx, tx, ev, userID, prior, roomID); err != nil {
			return err
		}
		err = tx.InsertMember(ctx, &models.Member{
			RoomID:     roomID,
			UserID:     userID,
			Difficulty: difficulty,
		})
		if errors.Is(err, ErrDuplicateMember) {
			result = models.JoinOtherError
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		result = models.JoinOk
		ev.add(roomID, userID, models.EventMemberJoined)
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.JoinResults.WithLabelValues(result.String()).Inc()
	e.logger.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "result": result}).Debug("join room")
	return result, nil
}

// WaitRoom returns the room status and its members as seen by userID.
// A room that is gone or dissolved reports RoomDissolved with no members.
func (e *Engine) WaitRoom(ctx context.Context, userID, roomID int64) (models.RoomStatus, []models.RoomUser, error) {
	status := models.RoomDissolved
	users := []models.RoomUser{}
	err := e.store.WithTx(ctx, ReadOnly, func(tx Tx) error {
		status, users = models.RoomDissolved, users[:0]
		r, err := tx.GetRoom(ctx, roomID)
		if errors.Is(err, ErrRoomNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get room %d: %w", roomID, err)
		}
		if r.Status == models.RoomDissolved {
			return nil
		}
		members, err := tx.ListMembers(ctx, roomID)
		if err != nil {
			return fmt.Errorf("list members of room %d: %w", roomID, err)
		}
		status = r.Status
		for _, m := range members {
			users = append(users, models.RoomUser{
				UserID:     m.UserID,
				Name:       m.Name,
				AvatarID:   m.AvatarID,
				Difficulty: m.Difficulty,
				IsMe:       m.UserID == userID,
				IsHost:     m.IsHost,
			})
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return status, users, nil
}

// StartRoom moves a Waiting room to LiveStarted when userID is its host.
// Anything else is a no-op; it reports whether the status changed.
func (e *Engine) StartRoom(ctx context.Context, userID, roomID int64) (bool, error) {
	started := false
	err := e.write(ctx, func(tx Tx, ev *txEvents) error {
		started = false
		r, err := tx.LockRoom(ctx, roomID)
		if errors.Is(err, ErrRoomNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock room %d: %w", roomID, err)
		}
		if r.Status == models.RoomDissolved {
			return nil
		}
		m, err := tx.GetMember(ctx, roomID, userID)
		if errors.Is(err, ErrMemberNotFound) {
			return ErrNoMembership
		}
		if err != nil {
			return fmt.Errorf("get member: %w", err)
		}
		if !m.IsHost || r.Status != models.RoomWaiting {
			return nil
		}
		if err := tx.SetRoomStatus(ctx, roomID, models.RoomLiveStarted); err != nil {
			return fmt.Errorf("start room %d: %w", roomID, err)
		}
		started = true
		ev.add(roomID, userID, models.EventLiveStarted)
		return nil
	})
	if err != nil {
		return false, err
	}
	if started {
		e.logger.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Info("live started")
	}
	return started, nil
}

// SubmitResult records userID's result for a live room. The first submission
// wins; later ones, and submissions to rooms that are not live, are ignored.
func (e *Engine) SubmitResult(ctx context.Context, userID, roomID int64, result models.Result) (bool, error) {
	accepted := false
	err := e.write(ctx, func(tx Tx, ev *txEvents) error {
		accepted = false
		r, err := tx.LockRoom(ctx, roomID)
		if errors.Is(err, ErrRoomNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock room %d: %w", roomID, err)
		}
		m, err := tx.GetMember(ctx, roomID, userID)
		if errors.Is(err, ErrMemberNotFound) {
			return ErrNoMembership
		}
		if err != nil {
			return fmt.Errorf("get member: %w", err)
		}
		if r.Status != models.RoomLiveStarted || m.Result != nil {
			return nil
		}
		accepted, err = tx.SetResult(ctx, roomID, userID, result)
		if err != nil {
			return fmt.Errorf("set result: %w", err)
		}
		if accepted {
			ev.add(roomID, userID, models.EventResultSubmitted)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return accepted, nil
}

// AggregateResult returns every member's result once all members have
// submitted, and an empty slice before that. The first complete read
// dissolves the live room; the results stay readable afterwards.
func (e *Engine) AggregateResult(ctx context.Context, roomID int64) ([]models.ResultUser, error) {
	results := []models.ResultUser{}
	err := e.write(ctx, func(tx Tx, ev *txEvents) error {
		results = []models.ResultUser{}
		r, err := tx.LockRoom(ctx, roomID)
		if errors.Is(err, ErrRoomNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock room %d: %w", roomID, err)
		}
		members, err := tx.ListMembers(ctx, roomID)
		if err != nil {
			return fmt.Errorf("list members of room %d: %w", roomID, err)
		}
		view, complete := Aggregate(members)
		if !complete {
			return nil
		}
		if r.Status == models.RoomLiveStarted {
			if err := tx.SetRoomStatus(ctx, roomID, models.RoomDissolved); err != nil {
				return fmt.Errorf("dissolve room %d: %w", roomID, err)
			}
			ev.add(roomID, 0, models.EventRoomDissolved)
		}
		results = view
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// LeaveRoom removes userID from roomID, handing the host role to the
// earliest remaining joiner or dissolving the room when nobody is left.
// Leaving a dissolved room is a no-op; its memberships are the result record.
func (e *Engine) LeaveRoom(ctx context.Context, userID, roomID int64) error {
	err := e.write(ctx, func(tx Tx, ev *txEvents) error {
		r, err := tx.LockRoom(ctx, roomID)
		if errors.Is(err, ErrRoomNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock room %d: %w", roomID, err)
		}
		if r.Status == models.RoomDissolved {
			return nil
		}
		m, err := tx.GetMember(ctx, roomID, userID)
		if errors.Is(err, ErrMemberNotFound) {
			return ErrNoMembership
		}
		if err != nil {
			return fmt.Errorf("get member: %w", err)
		}
		return e.removeMember(ctx, tx, ev, m)
	})
	if err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Info("left room")
	return nil
}

// lockRooms locks the given rooms in ascending id order so that two
// transactions touching the same rooms always queue instead of deadlocking.
// Missing rooms map to nil.
func (e *Engine) lockRooms(ctx context.Context, tx Tx, ids []int64) (map[int64]*models.Room, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	locked := make(map[int64]*models.Room, len(sorted))
	for _, id := range sorted {
		if _, ok := locked[id]; ok {
			continue
		}
		r, err := tx.LockRoom(ctx, id)
		if errors.Is(err, ErrRoomNotFound) {
			locked[id] = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lock room %d: %w", id, err)
		}
		locked[id] = r
	}
	return locked, nil
}

// lockWithPrior locks extra together with every room userID is active in and
// returns the active rooms as seen once those locks are held.
func (e *Engine) lockWithPrior(ctx context.Context, tx Tx, userID int64, extra ...int64) ([]int64, map[int64]*models.Room, error) {
	prior, err := tx.ActiveRoomsOf(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("active rooms of %d: %w", userID, err)
	}
	locked, err := e.lockRooms(ctx, tx, append(prior, extra...))
	if err != nil {
		return nil, nil, err
	}

	// a membership committed between the two reads would have to be locked
	// out of id order; start over instead so every lock is taken ascending
	again, err := tx.ActiveRoomsOf(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("active rooms of %d: %w", userID, err)
	}
	for _, id := range again {
		if _, ok := locked[id]; !ok {
			return nil, nil, errLockSetChanged
		}
	}
	return again, locked, nil
}

// evict removes userID from each of roomIDs except keep. The rooms must
// already be locked by tx.
func (e *Engine) evict(ctx context.Context, tx Tx, ev *txEvents, userID int64, roomIDs []int64, keep int64) error {
	for _, id := range roomIDs {
		if id == keep {
			continue
		}
		r, err := tx.LockRoom(ctx, id)
		if errors.Is(err, ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("lock room %d: %w", id, err)
		}
		if r.Status == models.RoomDissolved {
			continue
		}
		m, err := tx.GetMember(ctx, id, userID)
		if errors.Is(err, ErrMemberNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("get member: %w", err)
		}
		if err := e.removeMember(ctx, tx, ev, m); err != nil {
			return err
		}
		e.logger.WithFields(logrus.Fields{"room_id": id, "user_id": userID}).Debug("evicted from prior room")
	}
	return nil
}

// removeMember deletes m and repairs the host invariant of its room.
func (e *Engine) removeMember(ctx context.Context, tx Tx, ev *txEvents, m *models.Member) error {
	if err := tx.DeleteMember(ctx, m.RoomID, m.UserID); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	ev.add(m.RoomID, m.UserID, models.EventMemberLeft)

	remaining, err := tx.ListMembers(ctx, m.RoomID)
	if err != nil {
		return fmt.Errorf("list members of room %d: %w", m.RoomID, err)
	}
	if len(remaining) == 0 {
		if err := tx.SetRoomStatus(ctx, m.RoomID, models.RoomDissolved); err != nil {
			return fmt.Errorf("dissolve room %d: %w", m.RoomID, err)
		}
		ev.add(m.RoomID, 0, models.EventRoomDissolved)
		return nil
	}
	if !m.IsHost {
		return nil
	}

	next := remaining[0]
	if err := tx.SetHost(ctx, m.RoomID, next.UserID, true); err != nil {
		return fmt.Errorf("promote host: %w", err)
	}
	if err := tx.SetRoomOwner(ctx, m.RoomID, next.UserID); err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	ev.add(m.RoomID, next.UserID, models.EventHostTransferred)
	return nil
}
