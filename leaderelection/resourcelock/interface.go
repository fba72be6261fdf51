// Package resourcelock holds leader election records in objects of a coordination store. Every write is
// guarded by the version token read before it, so competing candidates can only race through the store's
// compare-and-swap.
package resourcelock

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"leader-elector/store"
)

const (
	// LeaderElectionRecordAnnotationKey is the annotation holding the encoded record on annotation-backed
	// objects.
	LeaderElectionRecordAnnotationKey = "control-plane.alpha.kubernetes.io/leader"

	ConfigMapsResourceLock       = "configmaps"
	EndpointsResourceLock        = "endpoints"
	LeasesResourceLock           = "leases"
	ConfigMapsLeasesResourceLock = "configmapsleases"
	EndpointsLeasesResourceLock  = "endpointsleases"
)

var (
	ErrNotFound      = store.ErrNotFound
	ErrAlreadyExists = store.ErrAlreadyExists
	ErrConflict      = store.ErrConflict
	// ErrMalformed is returned by Get when the stored record cannot be decoded. Callers treat it as if no
	// record existed.
	ErrMalformed = errors.New("malformed leader election record")

	ErrEmptyNamespace = errors.New("lock namespace is required")
	ErrEmptyName      = errors.New("lock name is required")
	ErrEmptyIdentity  = errors.New("lock identity is required")
	ErrNilClient      = errors.New("lock store client is required")
)

// Interface offers a common interface for locking on arbitrary resources used in leader election. It is
// called from a single elector and needs no internal synchronization.
type Interface interface {
	// Get returns the stored record and its version token. On ErrMalformed the token of the object that
	// holds the unreadable record is still returned, so it can be overwritten.
	Get(ctx context.Context) (*LeaderElectionRecord, string, error)

	// Create attempts to create the record. It fails with ErrAlreadyExists if another writer was first.
	Create(ctx context.Context, ler LeaderElectionRecord) (string, error)

	// Update replaces the record if the object is still at version. It fails with ErrConflict when
	// someone else wrote in between and ErrNotFound when the object vanished.
	Update(ctx context.Context, ler LeaderElectionRecord, version string) (string, error)

	// Identity is the candidate identity of this lock.
	Identity() string

	// Describe is used to convert details on the current resource lock into a string.
	Describe() string
}

// IsTransient reports whether err is a retryable failure of the backing store.
func IsTransient(err error) bool {
	return store.IsTransient(err)
}

// New returns the lock of the given type for the object namespace/name in client.
func New(lockType, namespace, name string, client store.Client, identity string) (Interface, error) {
	switch lockType {
	case ConfigMapsResourceLock:
		return NewConfigMapLock(namespace, name, client, identity)
	case EndpointsResourceLock:
		return NewEndpointsLock(namespace, name, client, identity)
	case LeasesResourceLock:
		return NewLeaseLock(namespace, name, client, identity)
	case ConfigMapsLeasesResourceLock, EndpointsLeasesResourceLock:
		var (
			primary Interface
			err     error
		)
		if lockType == ConfigMapsLeasesResourceLock {
			primary, err = NewConfigMapLock(namespace, name, client, identity)
		} else {
			primary, err = NewEndpointsLock(namespace, name, client, identity)
		}
		if err != nil {
			return nil, err
		}
		secondary, err := NewLeaseLock(namespace, name, client, identity)
		if err != nil {
			return nil, err
		}
		return NewMultiLock(primary, secondary, nil), nil
	default:
		return nil, errors.Errorf("invalid lock-type %s", lockType)
	}
}

func validate(namespace, name string, client store.Client, identity string) error {
	switch {
	case namespace == "":
		return ErrEmptyNamespace
	case name == "":
		return ErrEmptyName
	case identity == "":
		return ErrEmptyIdentity
	case client == nil:
		return ErrNilClient
	}
	return nil
}

func describe(kind, namespace, name, identity string) string {
	return fmt.Sprintf("%sLock: %s - %s (%s)", kind, namespace, name, identity)
}
