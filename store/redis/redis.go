// Package redis implements store.Client on Redis. Each object is a hash holding the JSON body and a
// per-key version counter; Lua scripts make create and compare-and-swap atomic.
package redis

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"leader-elector/store"
)

const (
	DefaultPrefix = "leader-election"

	bodyField    = "body"
	versionField = "version"
)

var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'body', ARGV[1], 'version', '1')
return 1
`)

	// returns -1 when the key is gone, 0 on a version mismatch, otherwise the new version
	updateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur then
  return -1
end
if cur ~= ARGV[1] then
  return 0
end
local nextVersion = tonumber(cur) + 1
redis.call('HSET', KEYS[1], 'body', ARGV[2], 'version', tostring(nextVersion))
return nextVersion
`)
)

// Config of the redis backed store.
type Config struct {
	// Address is a single host:port or a comma separated list for cluster mode.
	Address  string
	Username string
	Password string
	DB       int
	Prefix   string
}

type client struct {
	rdb    redis.UniversalClient
	prefix string
}

// New connects to redis and pings it.
func New(ctx context.Context, conf Config) (store.Client, func() error, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(conf.Address, ","),
		Username: conf.Username,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, errors.Wrap(err, "failed to ping redis")
	}
	return NewStore(rdb, conf.Prefix), rdb.Close, nil
}

// NewStore wraps an existing redis client.
func NewStore(rdb redis.UniversalClient, prefix string) store.Client {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &client{rdb: rdb, prefix: prefix}
}

func (c *client) key(ref store.ObjectRef) string {
	return store.ObjectKey(c.prefix, ":", ref)
}

func (c *client) Get(ctx context.Context, ref store.ObjectRef) (*store.Object, error) {
	vals, err := c.rdb.HMGet(ctx, c.key(ref), bodyField, versionField).Result()
	if err != nil {
		return nil, errors.Wrapf(store.Transient(err), "get %s", ref)
	}

	body, ok := vals[0].(string)
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "get %s", ref)
	}
	version, _ := vals[1].(string)
	return store.UnmarshalObject([]byte(body), version)
}

func (c *client) Create(ctx context.Context, obj *store.Object) (*store.Object, error) {
	body, err := store.MarshalObject(obj)
	if err != nil {
		return nil, err
	}

	created, err := createScript.Run(ctx, c.rdb, []string{c.key(obj.ObjectRef)}, string(body)).Int64()
	if err != nil {
		return nil, errors.Wrapf(store.Transient(err), "create %s", obj.ObjectRef)
	}
	if created == 0 {
		return nil, errors.Wrapf(store.ErrAlreadyExists, "create %s", obj.ObjectRef)
	}
	return stamped(obj, 1), nil
}

func (c *client) UpdateIfVersion(ctx context.Context, obj *store.Object, version string) (*store.Object, error) {
	body, err := store.MarshalObject(obj)
	if err != nil {
		return nil, err
	}

	next, err := updateScript.Run(ctx, c.rdb, []string{c.key(obj.ObjectRef)}, version, string(body)).Int64()
	if err != nil {
		return nil, errors.Wrapf(store.Transient(err), "update %s", obj.ObjectRef)
	}
	switch {
	case next < 0:
		return nil, errors.Wrapf(store.ErrNotFound, "update %s", obj.ObjectRef)
	case next == 0:
		return nil, errors.Wrapf(store.ErrConflict, "update %s", obj.ObjectRef)
	}
	return stamped(obj, next), nil
}

func stamped(obj *store.Object, version int64) *store.Object {
	out := obj.DeepCopy()
	out.ResourceVersion = strconv.FormatInt(version, 10)
	return out
}
