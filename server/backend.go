package server

import (
	"context"

	"github.com/pkg/errors"

	"leader-elector/store"
	"leader-elector/store/etcd"
	"leader-elector/store/natskv"
	"leader-elector/store/redis"
	"leader-elector/utils"
)

// newStoreClient connects to the backend holding the lock. The returned func releases the connection.
func newStoreClient(ctx context.Context, conf *utils.StoreConfig) (store.Client, func() error, error) {
	switch conf.Backend {
	case utils.BackendMemory:
		return store.NewInMemoryStore(), func() error { return nil }, nil
	case utils.BackendEtcd:
		return etcd.New(ctx, etcd.Config{
			Endpoints:   conf.Etcd.Endpoints,
			Username:    conf.Etcd.Username,
			Password:    conf.Etcd.Password,
			DialTimeout: conf.Etcd.DialTimeout,
			Prefix:      conf.Etcd.Prefix,
		})
	case utils.BackendRedis:
		return redis.New(ctx, redis.Config{
			Address:  conf.Redis.Address,
			Username: conf.Redis.Username,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
			Prefix:   conf.Redis.Prefix,
		})
	case utils.BackendNats:
		return natskv.New(ctx, natskv.Config{
			URL:      conf.Nats.URL,
			Bucket:   conf.Nats.Bucket,
			Replicas: conf.Nats.Replicas,
		})
	default:
		return nil, nil, errors.Errorf("unknown store backend %q", conf.Backend)
	}
}
