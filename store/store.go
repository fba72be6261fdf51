package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when the referenced object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrAlreadyExists is returned by Create when another writer created the object first.
	ErrAlreadyExists = errors.New("object already exists")
	// ErrConflict is returned by UpdateIfVersion when the version precondition no longer holds.
	ErrConflict = errors.New("object version conflict")
)

// Kind names the type of a stored object.
type Kind = string

const (
	KindConfigMap Kind = "ConfigMap"
	KindEndpoints Kind = "Endpoints"
	KindLease     Kind = "Lease"
)

type (
	// ObjectRef names a stored object.
	ObjectRef struct {
		Kind      Kind   `json:"kind"`
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
	}

	// Object is the stored form of a coordination resource. Annotation-backed locks keep their state
	// in Annotations, field-backed locks in Spec.
	Object struct {
		ObjectRef

		// ResourceVersion is the opaque version token assigned by the store on every write.
		ResourceVersion string            `json:"resourceVersion,omitempty"`
		Annotations     map[string]string `json:"annotations,omitempty"`
		Spec            *LeaseSpec        `json:"spec,omitempty"`
	}

	// LeaseSpec is the structured body of a Lease object.
	LeaseSpec struct {
		HolderIdentity       *string    `json:"holderIdentity,omitempty"`
		LeaseDurationSeconds *int32     `json:"leaseDurationSeconds,omitempty"`
		AcquireTime          *time.Time `json:"acquireTime,omitempty"`
		RenewTime            *time.Time `json:"renewTime,omitempty"`
		LeaseTransitions     *int32     `json:"leaseTransitions,omitempty"`
	}

	// Client is the narrow surface of the coordination API used by resource locks. Implementations
	// must offer a linearizable compare-and-swap per object.
	Client interface {
		// Get returns the object or ErrNotFound.
		Get(ctx context.Context, ref ObjectRef) (*Object, error)
		// Create stores a new object or fails with ErrAlreadyExists.
		Create(ctx context.Context, obj *Object) (*Object, error)
		// UpdateIfVersion replaces the object only if its current version equals version. It fails
		// with ErrConflict on a version mismatch and ErrNotFound if the object vanished.
		UpdateIfVersion(ctx context.Context, obj *Object, version string) (*Object, error)
	}
)

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s %s/%s", r.Kind, r.Namespace, r.Name)
}

// DeepCopy returns a copy of the object sharing no memory with the receiver.
func (o *Object) DeepCopy() *Object {
	if o == nil {
		return nil
	}
	out := &Object{
		ObjectRef:       o.ObjectRef,
		ResourceVersion: o.ResourceVersion,
	}
	if o.Annotations != nil {
		out.Annotations = make(map[string]string, len(o.Annotations))
		for k, v := range o.Annotations {
			out.Annotations[k] = v
		}
	}
	if o.Spec != nil {
		out.Spec = o.Spec.DeepCopy()
	}
	return out
}

// DeepCopy returns a copy of the spec sharing no memory with the receiver.
func (s *LeaseSpec) DeepCopy() *LeaseSpec {
	if s == nil {
		return nil
	}
	out := &LeaseSpec{}
	if s.HolderIdentity != nil {
		v := *s.HolderIdentity
		out.HolderIdentity = &v
	}
	if s.LeaseDurationSeconds != nil {
		v := *s.LeaseDurationSeconds
		out.LeaseDurationSeconds = &v
	}
	if s.AcquireTime != nil {
		v := *s.AcquireTime
		out.AcquireTime = &v
	}
	if s.RenewTime != nil {
		v := *s.RenewTime
		out.RenewTime = &v
	}
	if s.LeaseTransitions != nil {
		v := *s.LeaseTransitions
		out.LeaseTransitions = &v
	}
	return out
}

// transientError marks a failure of the store itself (network, server side) as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as a retryable store failure. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
