// Package etcd implements store.Client on top of etcd v3 transactions. The version token of an object is
// the mod revision of its key.
package etcd

import (
	"context"
	"strconv"
	"time"

	"github.com/coreos/etcd/clientv3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"leader-elector/store"
)

const (
	DefaultPrefix         = "leader-election"
	DefaultRequestTimeout = 5 * time.Second
)

// Config of the etcd backed store.
type Config struct {
	Endpoints      []string
	Username       string
	Password       string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Prefix         string
}

type client struct {
	kv             clientv3.KV
	prefix         string
	requestTimeout time.Duration
}

// New connects to etcd and returns a store plus a func closing the connection.
func New(ctx context.Context, conf Config) (store.Client, func() error, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   conf.Endpoints,
		DialTimeout: conf.DialTimeout,
		Username:    conf.Username,
		Password:    conf.Password,
		Context:     ctx,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create etcd connection")
	}
	return NewStore(cli.KV, conf), cli.Close, nil
}

// NewStore wraps an existing etcd KV.
func NewStore(kv clientv3.KV, conf Config) store.Client {
	if conf.Prefix == "" {
		conf.Prefix = DefaultPrefix
	}
	if conf.RequestTimeout <= 0 {
		conf.RequestTimeout = DefaultRequestTimeout
	}
	return &client{
		kv:             kv,
		prefix:         conf.Prefix,
		requestTimeout: conf.RequestTimeout,
	}
}

func (c *client) key(ref store.ObjectRef) string {
	return store.ObjectKey(c.prefix, "/", ref)
}

func (c *client) Get(ctx context.Context, ref store.ObjectRef) (*store.Object, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	r, err := c.kv.Get(ctx, c.key(ref))
	if err != nil {
		return nil, errors.Wrapf(store.Transient(err), "get %s", ref)
	}
	if r.Count == 0 {
		return nil, errors.Wrapf(store.ErrNotFound, "get %s", ref)
	}
	if r.Count > 1 {
		return nil, errors.Errorf("received %d values for %s, expecting 1", r.Count, ref)
	}

	kv := r.Kvs[0]
	return store.UnmarshalObject(kv.Value, formatRevision(kv.ModRevision))
}

func (c *client) Create(ctx context.Context, obj *store.Object) (*store.Object, error) {
	value, err := store.MarshalObject(obj)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	key := c.key(obj.ObjectRef)
	r, err := c.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return nil, errors.Wrapf(store.Transient(err), "create %s", obj.ObjectRef)
	}
	if !r.Succeeded {
		return nil, errors.Wrapf(store.ErrAlreadyExists, "create %s", obj.ObjectRef)
	}

	return stamped(obj, r.Header.Revision), nil
}

func (c *client) UpdateIfVersion(ctx context.Context, obj *store.Object, version string) (*store.Object, error) {
	rev, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		// a token this store never handed out can only be stale
		return nil, errors.Wrapf(store.ErrConflict, "update %s: invalid version %q", obj.ObjectRef, version)
	}

	value, err := store.MarshalObject(obj)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	key := c.key(obj.ObjectRef)
	r, err := c.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
		Then(clientv3.OpPut(key, string(value))).
		Else(clientv3.OpGet(key, clientv3.WithCountOnly())).
		Commit()
	if err != nil {
		return nil, errors.Wrapf(store.Transient(err), "update %s", obj.ObjectRef)
	}
	if !r.Succeeded {
		if missing(r) {
			return nil, errors.Wrapf(store.ErrNotFound, "update %s", obj.ObjectRef)
		}
		log.Debug().Str("key", key).Str("version", version).Msg("etcd revision moved on, update rejected")
		return nil, errors.Wrapf(store.ErrConflict, "update %s", obj.ObjectRef)
	}

	return stamped(obj, r.Header.Revision), nil
}

// missing reports whether the Else branch of a failed update found no key.
func missing(r *clientv3.TxnResponse) bool {
	if len(r.Responses) == 0 {
		return false
	}
	rr := r.Responses[0].GetResponseRange()
	return rr != nil && rr.Count == 0
}

func stamped(obj *store.Object, rev int64) *store.Object {
	out := obj.DeepCopy()
	out.ResourceVersion = formatRevision(rev)
	return out
}

func formatRevision(rev int64) string {
	return strconv.FormatInt(rev, 10)
}
