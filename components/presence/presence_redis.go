package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:"

type RedisPresence struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisPresence(rdb *redis.Client) I_PresenceStore {
	return &RedisPresence{rdb: rdb, now: time.Now}
}

// The TTL is a backstop twice the staleness threshold; the Fresh check is
// what actually decides online-ness.
func (me *RedisPresence) ttl() time.Duration {
	return 2 * StaleAfter
}

func (me *RedisPresence) write(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return me.rdb.Set(ctx, keyPrefix+rec.Identity, data, me.ttl()).Err()
}

func (me *RedisPresence) Touch(ctx context.Context, identity string) error {
	return me.write(ctx, &Record{Identity: identity, Online: true, LastSeen: me.now()})
}

func (me *RedisPresence) SetOffline(ctx context.Context, identity string) error {
	return me.write(ctx, &Record{Identity: identity, Online: false, LastSeen: me.now()})
}

func (me *RedisPresence) Get(ctx context.Context, identity string) (*Record, error) {
	data, err := me.rdb.Get(ctx, keyPrefix+identity).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (me *RedisPresence) Online(ctx context.Context) ([]*Record, error) {
	var out []*Record
	now := me.now()

	iter := me.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := me.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.Fresh(now) {
			out = append(out, &rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
