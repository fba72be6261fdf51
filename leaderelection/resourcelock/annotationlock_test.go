package resourcelock

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leader-elector/store"
)

func TestNewConfigMapLockValidation(t *testing.T) {
	s := store.NewInMemoryStore()
	for _, tc := range []struct {
		namespace, name, identity string
		client                    store.Client
		expected                  error
	}{
		{"", "name", "1337", s, ErrEmptyNamespace},
		{"namespace", "", "1337", s, ErrEmptyName},
		{"namespace", "name", "", s, ErrEmptyIdentity},
		{"namespace", "name", "1337", nil, ErrNilClient},
	} {
		_, err := NewConfigMapLock(tc.namespace, tc.name, tc.client, tc.identity)
		if !errors.Is(err, tc.expected) {
			t.Fatalf("expected %v, received %v", tc.expected, err)
		}
	}
}

func TestConfigMapLockGetExistingRecord(t *testing.T) {
	s := store.NewInMemoryStore()
	seeded := s.Put(&store.Object{
		ObjectRef: store.ObjectRef{Kind: store.KindConfigMap, Namespace: "namespace", Name: "name"},
		Annotations: map[string]string{
			LeaderElectionRecordAnnotationKey: `{"holderIdentity":"1337","leaseDuration":15,"acquireTime":1445401740,"renewTime":1445412480}`,
		},
	})

	lock, err := NewConfigMapLock("namespace", "name", s, "1337")
	require.NoError(t, err)

	ler, version, err := lock.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, seeded.ResourceVersion, version)
	assert.Equal(t, "1337", ler.HolderIdentity)
	assert.Equal(t, 15, ler.LeaseDurationSeconds)
	assert.Equal(t, time.Date(2015, 10, 21, 4, 29, 0, 0, time.UTC), ler.AcquireTime)
}

func TestConfigMapLockCreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	lock, err := NewConfigMapLock("namespace", "name", s, "1337")
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ler := LeaderElectionRecord{HolderIdentity: "1337", LeaseDurationSeconds: 1, AcquireTime: now, RenewTime: now}

	version, err := lock.Create(ctx, ler)
	require.NoError(t, err)

	_, err = lock.Create(ctx, ler)
	assert.True(t, errors.Is(err, ErrAlreadyExists), "got %v", err)

	// foreign annotations survive our writes
	obj, err := s.Get(ctx, store.ObjectRef{Kind: store.KindConfigMap, Namespace: "namespace", Name: "name"})
	require.NoError(t, err)
	obj.Annotations["owner"] = "ops"
	obj, err = s.UpdateIfVersion(ctx, obj, version)
	require.NoError(t, err)

	_, version, err = lock.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, obj.ResourceVersion, version)

	ler.RenewTime = now.Add(time.Second)
	newVersion, err := lock.Update(ctx, ler, version)
	require.NoError(t, err)

	got, gotVersion, err := lock.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, newVersion, gotVersion)
	assert.Equal(t, ler, *got)

	stored, err := s.Get(ctx, obj.ObjectRef)
	require.NoError(t, err)
	assert.Equal(t, "ops", stored.Annotations["owner"])

	_, err = lock.Update(ctx, ler, version)
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
}

func TestConfigMapLockMalformedKeepsVersion(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	seeded := s.Put(&store.Object{
		ObjectRef:   store.ObjectRef{Kind: store.KindConfigMap, Namespace: "namespace", Name: "name"},
		Annotations: map[string]string{LeaderElectionRecordAnnotationKey: `{"holderIdentity":`},
	})

	lock, err := NewConfigMapLock("namespace", "name", s, "1337")
	require.NoError(t, err)

	_, version, err := lock.Get(ctx)
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
	assert.Equal(t, seeded.ResourceVersion, version)

	// an object without the annotation reads the same way
	s.Put(&store.Object{ObjectRef: seeded.ObjectRef})
	_, _, err = lock.Get(ctx)
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
}

func TestAnnotationLockIdentityAndDescribe(t *testing.T) {
	s := store.NewInMemoryStore()

	cm, err := NewConfigMapLock("namespace", "name", s, "1337")
	require.NoError(t, err)
	assert.Equal(t, "1337", cm.Identity())
	assert.Equal(t, "ConfigMapLock: namespace - name (1337)", cm.Describe())

	ep, err := NewEndpointsLock("namespace", "name", s, "1337")
	require.NoError(t, err)
	assert.Equal(t, "EndpointsLock: namespace - name (1337)", ep.Describe())
}

func TestGetMissingObject(t *testing.T) {
	lock, err := NewEndpointsLock("namespace", "name", store.NewInMemoryStore(), "1337")
	require.NoError(t, err)

	_, _, err = lock.Get(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}
