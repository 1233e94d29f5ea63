package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "codesync:rooms"

const (
	RoomCreated  = "room-created"
	RoomDeleted  = "room-deleted"
	UserJoined   = "user-joined"
	UserLeft     = "user-left"
	CodeExecuted = "code-executed"
)

// Event is one room lifecycle notification on the feed.
type Event struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	Language  string    `json:"language,omitempty"`
	ExitCode  *int      `json:"exitCode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event. It is used when no feed is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func NewRedisPublisher(addr, channel string, log *zap.Logger) *RedisPublisher {
	return newRedisPublisher(redis.NewClient(&redis.Options{Addr: addr}), channel, log)
}

func newRedisPublisher(rdb *redis.Client, channel string, log *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisPublisher{rdb: rdb, channel: channel, timeout: 2 * time.Second, log: log, now: time.Now}
}

// Ping checks the connection so startup can fail fast on a bad address.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		p.log.Warn("failed to publish room event",
			zap.String("type", ev.Type),
			zap.String("roomId", ev.RoomID),
			zap.Error(err))
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.rdb.Close() }
