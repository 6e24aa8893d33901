package redis

import (
	"context"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PresenceStore mirrors room membership into one sorted set per room,
// scored by join time.
type PresenceStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPresenceStore(rdb *redis.Client, ttl time.Duration) *PresenceStore {
	return &PresenceStore{rdb: rdb, ttl: ttl}
}

func presenceKey(room domain.RoomID) string {
	return "presence:" + string(room)
}

func (p *PresenceStore) MarkJoined(ctx context.Context, room domain.RoomID, sid core.SessionID) error {
	key := presenceKey(room)
	err := p.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: string(sid),
	}).Err()
	if err != nil {
		return err
	}
	if p.ttl > 0 {
		return p.rdb.Expire(ctx, key, p.ttl).Err()
	}
	return nil
}

func (p *PresenceStore) MarkLeft(ctx context.Context, room domain.RoomID, sid core.SessionID) error {
	return p.rdb.ZRem(ctx, presenceKey(room), string(sid)).Err()
}
