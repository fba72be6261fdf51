package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryStore implements Client and keeps every object in process memory. Versions come from a single
// counter shared by all objects, like resource versions in a Kubernetes API server.
type InMemoryStore struct {
	sync.RWMutex

	objects  map[ObjectRef]*Object
	revision uint64
}

// NewInMemoryStore constructor to create an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		objects: make(map[ObjectRef]*Object),
	}
}

func (i *InMemoryStore) Get(ctx context.Context, ref ObjectRef) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}

	i.RLock()
	defer i.RUnlock()

	obj, ok := i.objects[ref]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "get %s", ref)
	}
	return obj.DeepCopy(), nil
}

func (i *InMemoryStore) Create(ctx context.Context, obj *Object) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}

	i.Lock()
	defer i.Unlock()

	if _, exists := i.objects[obj.ObjectRef]; exists {
		return nil, errors.Wrapf(ErrAlreadyExists, "create %s", obj.ObjectRef)
	}
	return i.storeWithLock(obj), nil
}

func (i *InMemoryStore) UpdateIfVersion(ctx context.Context, obj *Object, version string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}

	i.Lock()
	defer i.Unlock()

	cur, exists := i.objects[obj.ObjectRef]
	if !exists {
		return nil, errors.Wrapf(ErrNotFound, "update %s", obj.ObjectRef)
	}
	if cur.ResourceVersion != version {
		return nil, errors.Wrapf(ErrConflict, "update %s: have version %s, want %s", obj.ObjectRef, cur.ResourceVersion, version)
	}
	return i.storeWithLock(obj), nil
}

// Put stores obj unconditionally, bypassing any precondition. Useful to seed or corrupt state.
func (i *InMemoryStore) Put(obj *Object) *Object {
	i.Lock()
	defer i.Unlock()

	return i.storeWithLock(obj)
}

// storeWithLock assigns the next version and saves a private copy. The write lock must be held.
func (i *InMemoryStore) storeWithLock(obj *Object) *Object {
	i.revision++
	stored := obj.DeepCopy()
	stored.ResourceVersion = strconv.FormatUint(i.revision, 10)
	i.objects[obj.ObjectRef] = stored
	return stored.DeepCopy()
}
