package resourcelock

import (
	"context"

	"github.com/pkg/errors"

	"leader-elector/store"
)

// annotationLock keeps the encoded record under LeaderElectionRecordAnnotationKey of an object whose other
// content it leaves alone.
type annotationLock struct {
	ref      store.ObjectRef
	client   store.Client
	identity string

	// obj is the object seen by the last Get or written by the last Create/Update
	obj *store.Object
}

// NewConfigMapLock returns a lock holding the record in an annotation of a ConfigMap.
func NewConfigMapLock(namespace, name string, client store.Client, identity string) (Interface, error) {
	return newAnnotationLock(store.KindConfigMap, namespace, name, client, identity)
}

// NewEndpointsLock returns a lock holding the record in an annotation of an Endpoints object.
func NewEndpointsLock(namespace, name string, client store.Client, identity string) (Interface, error) {
	return newAnnotationLock(store.KindEndpoints, namespace, name, client, identity)
}

func newAnnotationLock(kind store.Kind, namespace, name string, client store.Client, identity string) (*annotationLock, error) {
	if err := validate(namespace, name, client, identity); err != nil {
		return nil, err
	}
	return &annotationLock{
		ref:      store.ObjectRef{Kind: kind, Namespace: namespace, Name: name},
		client:   client,
		identity: identity,
	}, nil
}

func (l *annotationLock) Get(ctx context.Context) (*LeaderElectionRecord, string, error) {
	obj, err := l.client.Get(ctx, l.ref)
	if err != nil {
		return nil, "", err
	}
	l.obj = obj

	raw, found := obj.Annotations[LeaderElectionRecordAnnotationKey]
	if !found {
		return nil, obj.ResourceVersion, errors.Wrapf(ErrMalformed, "%s has no leader annotation", l.ref)
	}
	ler, err := DecodeRecord(raw)
	if err != nil {
		return nil, obj.ResourceVersion, err
	}
	return ler, obj.ResourceVersion, nil
}

func (l *annotationLock) Create(ctx context.Context, ler LeaderElectionRecord) (string, error) {
	raw, err := EncodeRecord(ler)
	if err != nil {
		return "", err
	}

	obj, err := l.client.Create(ctx, &store.Object{
		ObjectRef:   l.ref,
		Annotations: map[string]string{LeaderElectionRecordAnnotationKey: raw},
	})
	if err != nil {
		return "", err
	}
	l.obj = obj
	return obj.ResourceVersion, nil
}

func (l *annotationLock) Update(ctx context.Context, ler LeaderElectionRecord, version string) (string, error) {
	raw, err := EncodeRecord(ler)
	if err != nil {
		return "", err
	}

	var obj *store.Object
	if l.obj != nil && l.obj.ResourceVersion == version {
		obj = l.obj.DeepCopy()
	} else {
		// other annotations are unknown at this version; the precondition still protects the write
		obj = &store.Object{ObjectRef: l.ref}
	}
	if obj.Annotations == nil {
		obj.Annotations = make(map[string]string, 1)
	}
	obj.Annotations[LeaderElectionRecordAnnotationKey] = raw

	updated, err := l.client.UpdateIfVersion(ctx, obj, version)
	if err != nil {
		return "", err
	}
	l.obj = updated
	return updated.ResourceVersion, nil
}

func (l *annotationLock) Identity() string {
	return l.identity
}

func (l *annotationLock) Describe() string {
	return describe(l.ref.Kind, l.ref.Namespace, l.ref.Name, l.identity)
}
