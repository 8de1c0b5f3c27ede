package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahmadimabudeyah-ops/school-platform/internal/config"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/log"
)

type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMirror(cfg config.PresenceConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisMirror{client: client, ttl: cfg.TTL}, nil
}

// Sync writes or removes one room in a single transaction.
func (m *RedisMirror) Sync(ctx context.Context, room Room) error {
	key := RoomKey(room.SessionID)
	pipe := m.client.TxPipeline()

	if room.Closed {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, liveRoomSet, room.SessionID)
	} else {
		pipe.HSet(ctx, key,
			"broadcaster", room.Broadcaster,
			"viewer_count", room.ViewerCount,
			"created_at", room.CreatedAt.UTC().Format(time.RFC3339),
		)
		pipe.SAdd(ctx, liveRoomSet, room.SessionID)
		// the set outlives a crashed process by at most one ttl
		if m.ttl > 0 {
			pipe.Expire(ctx, key, m.ttl)
			pipe.Expire(ctx, liveRoomSet, m.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to sync room presence: %w", err)
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldSessionID, room.SessionID).Bool("closed", room.Closed).Msg("room presence synced")
	return nil
}

// LiveRooms lists mirrored session ids in lexical order.
func (m *RedisMirror) LiveRooms(ctx context.Context) ([]string, error) {
	ids, err := m.client.SMembers(ctx, liveRoomSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list live rooms: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes the Redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
