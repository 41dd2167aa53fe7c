// Package historian drains committed room events from a Redis list and
// persists them to Postgres in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// popTimeout bounds each blocking pop so that shutdown and flush ticks are noticed.
const popTimeout = 3 * time.Second

// Queue yields raw event payloads. Pop returns ok=false when nothing arrived
// within timeout.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (payload []byte, ok bool, err error)
}

// Sink persists one batch of events atomically.
type Sink interface {
	InsertRoomEvents(ctx context.Context, batchID uuid.UUID, events []models.RoomEvent) error
}

// RedisQueue pops from a Redis list with BLPOP.
type RedisQueue struct {
	rdb  *redis.Client
	name string
}

func NewRedisQueue(rdb *redis.Client, name string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name}
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	// res[0] is the list name and res[1] the payload
	if len(res) < 2 {
		return nil, false, nil
	}
	return []byte(res[1]), true, nil
}

// Service accumulates events and flushes them when the batch is full or the
// flush interval elapses.
type Service struct {
	queue      Queue
	sink       Sink
	logger     logrus.FieldLogger
	batchSize  int
	flushDelay time.Duration

	batchMu sync.Mutex
	batch   []models.RoomEvent
}

// NewService builds a historian. batchSize below 1 is treated as 1.
func NewService(queue Queue, sink Sink, batchSize int, flushDelay time.Duration, logger logrus.FieldLogger) *Service {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Service{
		queue:      queue,
		sink:       sink,
		logger:     logger,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		batch:      make([]models.RoomEvent, 0, batchSize),
	}
}

// Run pops events until ctx is cancelled, then flushes what is left.
func (hs *Service) Run(ctx context.Context) error {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hs.flushLoop(ctx, done)
	}()

	hs.logger.Info("historian started")
	err := hs.readLoop(ctx)
	close(done)
	wg.Wait()

	// ctx is already cancelled, the final flush must outlive it
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if ferr := hs.Flush(flushCtx); ferr != nil {
		hs.logger.WithError(ferr).Error("final flush failed")
	}
	hs.logger.Info("historian stopped")
	return err
}

func (hs *Service) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, ok, err := hs.queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			hs.logger.WithError(err).Error("pop room event")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if !ok {
			continue
		}

		var ev models.RoomEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			hs.logger.WithError(err).Warn("dropping malformed room event")
			continue
		}
		if hs.append(ev) {
			if err := hs.Flush(ctx); err != nil {
				hs.logger.WithError(err).Error("flush room events")
			}
		}
	}
}

func (hs *Service) flushLoop(ctx context.Context, done <-chan struct{}) {
	if hs.flushDelay <= 0 {
		return
	}
	ticker := time.NewTicker(hs.flushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := hs.Flush(ctx); err != nil && ctx.Err() == nil {
				hs.logger.WithError(err).Error("flush room events")
			}
		}
	}
}

// append reports whether the batch reached its size threshold.
func (hs *Service) append(ev models.RoomEvent) bool {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	hs.batch = append(hs.batch, ev)
	return len(hs.batch) >= hs.batchSize
}

// Flush writes the pending batch in one transaction. A failed batch is put
// back in front of events that arrived meanwhile.
func (hs *Service) Flush(ctx context.Context) error {
	hs.batchMu.Lock()
	if len(hs.batch) == 0 {
		hs.batchMu.Unlock()
		return nil
	}
	pending := make([]models.RoomEvent, len(hs.batch))
	copy(pending, hs.batch)
	hs.batch = hs.batch[:0]
	hs.batchMu.Unlock()

	batchID := uuid.New()
	if err := hs.sink.InsertRoomEvents(ctx, batchID, pending); err != nil {
		hs.batchMu.Lock()
		hs.batch = append(pending, hs.batch...)
		hs.batchMu.Unlock()
		return fmt.Errorf("insert batch %s: %w", batchID, err)
	}
	hs.logger.WithFields(logrus.Fields{"batch": batchID, "count": len(pending)}).Debug("flushed room events")
	return nil
}
