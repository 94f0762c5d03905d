package rtdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lucsky/cuid"
	"github.com/redis/go-redis/v9"

	"temu/utils"
)

func valueKey(path string) string  { return "rtdb:v:" + path }
func orderKey(path string) string  { return "rtdb:o:" + path }
func memberKey(path string) string { return "rtdb:k:" + path }
func addedChan(path string) string { return "rtdb:a:" + path }
func removChan(path string) string { return "rtdb:r:" + path }

// RedisStore is a client handle on a Redis-backed realtime store, so
// multiple server nodes share one store. Child order is kept in a list per
// parent, notifications go over pub/sub. Disconnect cleanups run on Close;
// hard crashes are covered by the presence TTL, not by the store itself.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context

	mu       sync.Mutex
	cancels  []func()
	cleanups []string
	closed   bool
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ctx: context.Background()}
}

func (s *RedisStore) Put(path string, value interface{}) error {
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}
	parent, key, err := splitPath(path)
	if err != nil {
		return err
	}

	if err := s.client.Set(s.ctx, valueKey(path), []byte(raw), 0).Err(); err != nil {
		return fmt.Errorf("rtdb put: %w", err)
	}
	added, err := s.client.SAdd(s.ctx, memberKey(parent), key).Result()
	if err != nil {
		return fmt.Errorf("rtdb put: %w", err)
	}
	if added > 0 {
		if err := s.client.RPush(s.ctx, orderKey(parent), key).Err(); err != nil {
			return fmt.Errorf("rtdb put: %w", err)
		}
	}
	return s.publish(addedChan(parent), Event{Path: parent, Key: key, Value: raw})
}

func (s *RedisStore) PushAppend(path string, value interface{}) (string, error) {
	seq, err := s.client.Incr(s.ctx, "rtdb:seq").Result()
	if err != nil {
		return "", fmt.Errorf("rtdb push: %w", err)
	}
	key := fmt.Sprintf("%012d-%s", seq, cuid.Slug())
	if err := s.Put(Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *RedisStore) SubscribeAdded(path string, cb func(Event)) (func(), error) {
	return s.subscribe(addedChan(path), path, cb, true)
}

func (s *RedisStore) SubscribeRemoved(path string, cb func(Event)) (func(), error) {
	return s.subscribe(removChan(path), path, cb, false)
}

func (s *RedisStore) subscribe(channel, path string, cb func(Event), replay bool) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	ps := s.client.Subscribe(s.ctx, channel)
	if _, err := ps.Receive(s.ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("rtdb subscribe: %w", err)
	}
	ch := ps.Channel()
	done := make(chan struct{})

	go func() {
		if replay {
			// Existing children first; live messages buffer in the pubsub
			// channel meanwhile, so a child can arrive twice. Consumers are
			// required to tolerate at-least-once delivery.
			keys, err := s.client.LRange(s.ctx, orderKey(path), 0, -1).Result()
			if err != nil {
				utils.Log().Error(err, "rtdb replay failed", "path", path)
			}
			for _, key := range keys {
				val, err := s.client.Get(s.ctx, valueKey(Join(path, key))).Result()
				if err != nil {
					continue
				}
				select {
				case <-done:
					return
				default:
				}
				cb(Event{Path: path, Key: key, Value: json.RawMessage(val)})
			}
		}
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					utils.Log().Error(err, "rtdb bad event payload", "channel", channel)
					continue
				}
				cb(ev)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()
	return cancel, nil
}

func (s *RedisStore) Remove(path string) error {
	parent, key, err := splitPath(path)
	if err != nil {
		return err
	}

	old, _ := s.client.Get(s.ctx, valueKey(path)).Result()

	// Delete the node and everything under it.
	for _, pattern := range []string{valueKey(path) + "/*", orderKey(path) + "/*", memberKey(path) + "/*"} {
		iter := s.client.Scan(s.ctx, 0, pattern, 0).Iterator()
		for iter.Next(s.ctx) {
			_ = s.client.Del(s.ctx, iter.Val()).Err()
		}
	}
	_ = s.client.Del(s.ctx, valueKey(path), orderKey(path), memberKey(path)).Err()
	_ = s.client.SRem(s.ctx, memberKey(parent), key).Err()
	_ = s.client.LRem(s.ctx, orderKey(parent), 0, key).Err()

	return s.publish(removChan(parent), Event{Path: parent, Key: key, Value: json.RawMessage(old)})
}

func (s *RedisStore) OnDisconnectRemove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.cleanups = append(s.cleanups, path)
	return nil
}

func (s *RedisStore) publish(channel string, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.client.Publish(s.ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("rtdb publish: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancels := s.cancels
	cleanups := s.cleanups
	s.cancels = nil
	s.cleanups = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, path := range cleanups {
		_ = s.Remove(path)
	}
	return nil
}
