package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"ingestrunner/internal/audit"
)

const (
	EventQueueName   = "ingestrunner:events"
	DefaultMaxEvents = 10000
)

// RedisClient implements Client using Redis
type RedisClient struct {
	client    *redis.Client
	queue     string
	maxEvents int64
}

// NewRedisClient creates a new Redis queue client. The queue keeps at most maxEvents events,
// the oldest are dropped once nobody consumes them.
func NewRedisClient(addr, password string, db int, maxEvents int64) (*RedisClient, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisClient{client: client, queue: EventQueueName, maxEvents: maxEvents}, nil
}

// Publish appends an event to the queue
func (r *RedisClient) Publish(ctx context.Context, event audit.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, r.queue, data)
		pipe.LTrim(ctx, r.queue, -r.maxEvents, -1)
		return nil
	})
	return err
}

// Subscribe consumes events and processes them with the handler until ctx is done. Every event
// is delivered to one subscriber only
func (r *RedisClient) Subscribe(ctx context.Context, handler func(audit.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			event, err := r.getNewEvent(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Error().
					Err(err).
					Msg("Error encountered when fetching event from queue")
				continue
			}
			if event == nil {
				continue
			}

			if err := processEvent(handler, *event); err != nil {
				log.Error().
					Err(err).
					Str("run_id", event.RunID).
					Msg("Error encountered when processing event")
			}
		}
	}
}

func (r *RedisClient) getNewEvent(ctx context.Context) (*audit.Event, error) {
	result, err := r.client.BLPop(ctx, 1*time.Second, r.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// No event available
			return nil, nil
		}
		return nil, fmt.Errorf("BLPOP from redis queue went bad. %w", err)
	}

	// Invalid reply, this shouldn't usually happen
	if len(result) < 2 {
		return nil, nil
	}

	var event audit.Event
	if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
		return nil, fmt.Errorf("could not parse message into Event. %w", err)
	}
	return &event, nil
}

func processEvent(handler func(audit.Event), event audit.Event) (err error) {
	defer func() {
		if rcv := recover(); rcv != nil {
			log.Error().Interface("panic", rcv).Str("run_id", event.RunID).Msg("Handler panicked")

			err = fmt.Errorf("handler panicked: %v", rcv)
		}
	}()

	handler(event)
	return nil
}

// Close terminates the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}
