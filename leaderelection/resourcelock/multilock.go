package resourcelock

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SecondaryErrorFunc observes failures of the secondary lock of a MultiLock.
type SecondaryErrorFunc func(op string, err error)

// MultiLock writes the record to a primary and a secondary lock, which allows migrating from one lock kind
// to another while candidates of both generations run. Only the primary decides the outcome: Get reads it
// exclusively and secondary failures are reported but never returned.
type MultiLock struct {
	Primary   Interface
	Secondary Interface

	onSecondaryError SecondaryErrorFunc
}

// NewMultiLock combines two locks. A nil onSecondaryError logs secondary failures as warnings.
func NewMultiLock(primary, secondary Interface, onSecondaryError SecondaryErrorFunc) *MultiLock {
	if onSecondaryError == nil {
		onSecondaryError = func(op string, err error) {
			log.Warn().Err(err).Str("op", op).Str("lock", secondary.Describe()).Msg("secondary lock write failed")
		}
	}
	return &MultiLock{
		Primary:          primary,
		Secondary:        secondary,
		onSecondaryError: onSecondaryError,
	}
}

func (ml *MultiLock) Get(ctx context.Context) (*LeaderElectionRecord, string, error) {
	return ml.Primary.Get(ctx)
}

func (ml *MultiLock) Create(ctx context.Context, ler LeaderElectionRecord) (string, error) {
	version, err := ml.Primary.Create(ctx, ler)
	if err != nil {
		return "", err
	}

	if _, err := ml.Secondary.Create(ctx, ler); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			ml.syncSecondary(ctx, ler)
		} else {
			ml.onSecondaryError("create", err)
		}
	}
	return version, nil
}

func (ml *MultiLock) Update(ctx context.Context, ler LeaderElectionRecord, version string) (string, error) {
	newVersion, err := ml.Primary.Update(ctx, ler, version)
	if err != nil {
		return "", err
	}
	ml.syncSecondary(ctx, ler)
	return newVersion, nil
}

// syncSecondary brings the secondary in line with a record the primary already accepted.
func (ml *MultiLock) syncSecondary(ctx context.Context, ler LeaderElectionRecord) {
	_, version, err := ml.Secondary.Get(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		if _, err := ml.Secondary.Create(ctx, ler); err != nil {
			ml.onSecondaryError("create", err)
		}
		return
	case err != nil && !errors.Is(err, ErrMalformed):
		ml.onSecondaryError("get", err)
		return
	}

	if _, err := ml.Secondary.Update(ctx, ler, version); err != nil {
		ml.onSecondaryError("update", err)
	}
}

func (ml *MultiLock) Identity() string {
	return ml.Primary.Identity()
}

func (ml *MultiLock) Describe() string {
	return fmt.Sprintf("MultiLock: %s, %s", ml.Primary.Describe(), ml.Secondary.Describe())
}
