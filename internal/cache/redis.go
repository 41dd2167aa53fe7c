// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/redis/go-redis/v9"
)

// Connect creates a Redis client for addr/db and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// RoomEvents fans committed room events out to the historian queue and to a
// pub/sub channel per room.
type RoomEvents struct {
	rdb           *redis.Client
	queue         string
	channelPrefix string
}

// NewRoomEvents returns a publisher pushing onto queue and publishing on channelPrefix+roomID.
func NewRoomEvents(rdb *redis.Client, queue, channelPrefix string) *RoomEvents {
	return &RoomEvents{rdb: rdb, queue: queue, channelPrefix: channelPrefix}
}

// Channel is the pub/sub channel of a room.
func (p *RoomEvents) Channel(roomID int64) string {
	return p.channelPrefix + strconv.FormatInt(roomID, 10)
}

// Publish implements room.Notifier. All events go out in one pipeline.
func (p *RoomEvents) Publish(ctx context.Context, events []models.RoomEvent) error {
	pipe := p.rdb.Pipeline()
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal room event: %w", err)
		}
		pipe.RPush(ctx, p.queue, data)
		pipe.Publish(ctx, p.Channel(ev.RoomID), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish %d room events: %w", len(events), err)
	}
	return nil
}

// Watch subscribes to one room's channel and signals on every event.
// Bursts coalesce into a single pending signal. The returned stop function
// closes the subscription.
func (p *RoomEvents) Watch(ctx context.Context, roomID int64) (<-chan struct{}, func() error, error) {
	sub := p.rdb.Subscribe(ctx, p.Channel(roomID))
	// wait for the subscription confirmation so no event is missed after return
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("subscribe to room %d: %w", roomID, err)
	}

	signal := make(chan struct{}, 1)
	msgs := sub.Channel()
	go func() {
		defer close(signal)
		for range msgs {
			select {
			case signal <- struct{}{}:
			default:
			}
		}
	}()
	return signal, sub.Close, nil
}

// UserCache is a TTL cache of user identities.
type UserCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewUserCache returns a cache whose entries live for ttl.
func NewUserCache(rdb *redis.Client, ttl time.Duration) *UserCache {
	return &UserCache{rdb: rdb, ttl: ttl}
}

func userKey(id int64) string {
	return "liveroom:user:" + strconv.FormatInt(id, 10)
}

// GetUser reports false on a miss.
func (c *UserCache) GetUser(ctx context.Context, id int64) (*models.User, bool, error) {
	data, err := c.rdb.Get(ctx, userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var u models.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, false, fmt.Errorf("corrupt cached user %d: %w", id, err)
	}
	return &u, true, nil
}

func (c *UserCache) SetUser(ctx context.Context, u *models.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, userKey(u.ID), data, c.ttl).Err()
}

func (c *UserCache) DeleteUser(ctx context.Context, id int64) error {
	return c.rdb.Del(ctx, userKey(id)).Err()
}
