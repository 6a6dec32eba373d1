package store

import (
	"context"
	"errors"

	"sensornode/errcode"

	"github.com/go-redis/redis/v8"
)

// Redis is a Backend on a Redis server, for nodes that keep their state on
// a local redis with AOF persistence. Keys are <prefix><namespace>:<key>.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(ns, key string) string { return r.prefix + ns + ":" + key }

func (r *Redis) Open(ctx context.Context, ns string) (Handle, error) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return nil, errcode.Wrap(errcode.StoreOpen, "redis.ping", err)
	}
	return newHandle(ctx, r, ns), nil
}

func (r *Redis) load(ctx context.Context, ns, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(ns, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) apply(ctx context.Context, ns string, puts map[string]string, dels []string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range puts {
			p.Set(ctx, r.key(ns, k), v, 0)
		}
		for _, k := range dels {
			p.Del(ctx, r.key(ns, k))
		}
		return nil
	})
	return err
}
