package resourcelock

import (
	"context"

	"github.com/pkg/errors"

	"leader-elector/store"
)

// LeaseLock maps the record one to one onto the spec of a Lease object.
type LeaseLock struct {
	ref      store.ObjectRef
	client   store.Client
	identity string
}

// NewLeaseLock returns a lock holding the record in the spec of a Lease.
func NewLeaseLock(namespace, name string, client store.Client, identity string) (*LeaseLock, error) {
	if err := validate(namespace, name, client, identity); err != nil {
		return nil, err
	}
	return &LeaseLock{
		ref:      store.ObjectRef{Kind: store.KindLease, Namespace: namespace, Name: name},
		client:   client,
		identity: identity,
	}, nil
}

func (ll *LeaseLock) Get(ctx context.Context) (*LeaderElectionRecord, string, error) {
	lease, err := ll.client.Get(ctx, ll.ref)
	if err != nil {
		return nil, "", err
	}
	ler, err := LeaseSpecToLeaderElectionRecord(lease.Spec)
	if err != nil {
		return nil, lease.ResourceVersion, err
	}
	return ler, lease.ResourceVersion, nil
}

func (ll *LeaseLock) Create(ctx context.Context, ler LeaderElectionRecord) (string, error) {
	lease, err := ll.client.Create(ctx, &store.Object{
		ObjectRef: ll.ref,
		Spec:      LeaderElectionRecordToLeaseSpec(ler),
	})
	if err != nil {
		return "", err
	}
	return lease.ResourceVersion, nil
}

func (ll *LeaseLock) Update(ctx context.Context, ler LeaderElectionRecord, version string) (string, error) {
	lease, err := ll.client.UpdateIfVersion(ctx, &store.Object{
		ObjectRef: ll.ref,
		Spec:      LeaderElectionRecordToLeaseSpec(ler),
	}, version)
	if err != nil {
		return "", err
	}
	return lease.ResourceVersion, nil
}

func (ll *LeaseLock) Identity() string {
	return ll.identity
}

func (ll *LeaseLock) Describe() string {
	return describe(ll.ref.Kind, ll.ref.Namespace, ll.ref.Name, ll.identity)
}

// LeaseSpecToLeaderElectionRecord reads a record out of a Lease spec. A spec without holder is malformed.
func LeaseSpecToLeaderElectionRecord(spec *store.LeaseSpec) (*LeaderElectionRecord, error) {
	if spec == nil || spec.HolderIdentity == nil || *spec.HolderIdentity == "" {
		return nil, errors.Wrap(ErrMalformed, "lease has no holderIdentity")
	}

	r := &LeaderElectionRecord{HolderIdentity: *spec.HolderIdentity}
	if spec.LeaseDurationSeconds != nil {
		r.LeaseDurationSeconds = int(*spec.LeaseDurationSeconds)
	}
	if spec.AcquireTime != nil {
		r.AcquireTime = spec.AcquireTime.UTC()
	}
	if spec.RenewTime != nil {
		r.RenewTime = spec.RenewTime.UTC()
	}
	if spec.LeaseTransitions != nil {
		r.LeaderTransitions = int(*spec.LeaseTransitions)
	}
	return r, nil
}

// LeaderElectionRecordToLeaseSpec is the inverse of LeaseSpecToLeaderElectionRecord.
func LeaderElectionRecordToLeaseSpec(ler LeaderElectionRecord) *store.LeaseSpec {
	holder := ler.HolderIdentity
	duration := int32(ler.LeaseDurationSeconds)
	transitions := int32(ler.LeaderTransitions)
	acquired := ler.AcquireTime.UTC()
	renewed := ler.RenewTime.UTC()
	return &store.LeaseSpec{
		HolderIdentity:       &holder,
		LeaseDurationSeconds: &duration,
		AcquireTime:          &acquired,
		RenewTime:            &renewed,
		LeaseTransitions:     &transitions,
	}
}
