// Package natskv implements store.Client on a NATS JetStream key-value bucket. The version token of an
// object is the revision of its key.
package natskv

import (
	"context"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"

	"leader-elector/store"
)

const DefaultBucket = "leader-election"

// Config of the JetStream backed store.
type Config struct {
	URL    string
	Bucket string
	// Replicas of the bucket when it has to be created.
	Replicas int
}

type client struct {
	kv jetstream.KeyValue
}

// New connects to NATS and opens, or creates, the bucket.
func New(ctx context.Context, conf Config) (store.Client, func() error, error) {
	nc, err := nats.Connect(conf.URL, nats.Timeout(5*time.Second))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to nats")
	}

	kv, err := OpenBucket(ctx, nc, conf)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	closeFn := func() error {
		return nc.Drain()
	}
	return NewStore(kv), closeFn, nil
}

// OpenBucket returns the configured bucket, creating it on first use.
func OpenBucket(ctx context.Context, nc *nats.Conn, conf Config) (jetstream.KeyValue, error) {
	if conf.Bucket == "" {
		conf.Bucket = DefaultBucket
	}
	if conf.Replicas <= 0 {
		conf.Replicas = 1
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create jetstream context")
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   conf.Bucket,
		History:  1,
		Replicas: conf.Replicas,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open key value bucket %s", conf.Bucket)
	}
	return kv, nil
}

// NewStore wraps an existing bucket.
func NewStore(kv jetstream.KeyValue) store.Client {
	return &client{kv: kv}
}

func key(ref store.ObjectRef) string {
	return store.ObjectKey("", ".", ref)
}

func (c *client) Get(ctx context.Context, ref store.ObjectRef) (*store.Object, error) {
	entry, err := c.kv.Get(ctx, key(ref))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.Wrapf(store.ErrNotFound, "get %s", ref)
		}
		return nil, errors.Wrapf(store.Transient(err), "get %s", ref)
	}
	return store.UnmarshalObject(entry.Value(), formatRevision(entry.Revision()))
}

func (c *client) Create(ctx context.Context, obj *store.Object) (*store.Object, error) {
	value, err := store.MarshalObject(obj)
	if err != nil {
		return nil, err
	}

	rev, err := c.kv.Create(ctx, key(obj.ObjectRef), value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return nil, errors.Wrapf(store.ErrAlreadyExists, "create %s", obj.ObjectRef)
		}
		return nil, errors.Wrapf(store.Transient(err), "create %s", obj.ObjectRef)
	}
	return stamped(obj, rev), nil
}

func (c *client) UpdateIfVersion(ctx context.Context, obj *store.Object, version string) (*store.Object, error) {
	expected, err := strconv.ParseUint(version, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(store.ErrConflict, "update %s: invalid version %q", obj.ObjectRef, version)
	}

	value, err := store.MarshalObject(obj)
	if err != nil {
		return nil, err
	}

	k := key(obj.ObjectRef)
	rev, err := c.kv.Update(ctx, k, value, expected)
	if err == nil {
		return stamped(obj, rev), nil
	}
	if !wrongLastSequence(err) {
		return nil, errors.Wrapf(store.Transient(err), "update %s", obj.ObjectRef)
	}

	// jetstream reports a vanished key and a stale revision the same way
	if _, getErr := c.kv.Get(ctx, k); errors.Is(getErr, jetstream.ErrKeyNotFound) {
		return nil, errors.Wrapf(store.ErrNotFound, "update %s", obj.ObjectRef)
	}
	return nil, errors.Wrapf(store.ErrConflict, "update %s", obj.ObjectRef)
}

func wrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return errors.Is(err, jetstream.ErrKeyExists)
}

func stamped(obj *store.Object, rev uint64) *store.Object {
	out := obj.DeepCopy()
	out.ResourceVersion = formatRevision(rev)
	return out
}

func formatRevision(rev uint64) string {
	return strconv.FormatUint(rev, 10)
}
