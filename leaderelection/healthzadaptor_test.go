package leaderelection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leader-elector/clock"
	rl "leader-elector/leaderelection/resourcelock"
	"leader-elector/store"
)

func TestHealthzAdaptor(t *testing.T) {
	adaptor := NewLeaderHealthzAdaptor(5 * time.Second)
	assert.Equal(t, "leaderElection", adaptor.Name())
	assert.NoError(t, adaptor.Check(nil), "no elector attached yet")

	fc := clock.NewFake(testStart)
	le, err := NewLeaderElector(LeaderElectionConfig{
		Lock:          newTestLock(t, rl.LeasesResourceLock, store.NewInMemoryStore(), "a"),
		LeaseDuration: 10 * time.Second,
		RenewDeadline: 6 * time.Second,
		RetryPeriod:   2 * time.Second,
		Callbacks:     LeaderCallbacks{OnStartedLeading: func(context.Context) {}},
		Clock:         fc,
		WatchDog:      adaptor,
	})
	require.NoError(t, err)

	require.True(t, le.tryAcquireOrRenew(context.Background()))
	fc.Advance(time.Minute)
	assert.NoError(t, adaptor.Check(nil), "observers are always healthy")

	le.state.Store(int32(Leading))
	assert.Error(t, adaptor.Check(nil))

	require.True(t, le.tryAcquireOrRenew(context.Background()))
	assert.NoError(t, adaptor.Check(nil))

	fc.Advance(15 * time.Second)
	assert.NoError(t, adaptor.Check(nil), "within lease duration plus timeout")
	fc.Advance(time.Second)
	assert.Error(t, adaptor.Check(nil))
}

func TestHealthzIgnoresReadsWithoutRenewal(t *testing.T) {
	faulty := &faultyClient{Client: store.NewInMemoryStore()}
	fc := clock.NewFake(testStart)
	adaptor := NewLeaderHealthzAdaptor(time.Second)
	le, err := NewLeaderElector(LeaderElectionConfig{
		Lock:          newTestLock(t, rl.LeasesResourceLock, faulty, "a"),
		LeaseDuration: 10 * time.Second,
		RenewDeadline: 6 * time.Second,
		RetryPeriod:   2 * time.Second,
		Callbacks:     LeaderCallbacks{OnStartedLeading: func(context.Context) {}},
		Clock:         fc,
		WatchDog:      adaptor,
	})
	require.NoError(t, err)

	require.True(t, le.tryAcquireOrRenew(context.Background()))
	le.state.Store(int32(Leading))

	// the record still reads fine but every renewal is rejected
	faulty.failUpdates.Store(true)
	fc.Advance(12 * time.Second)
	require.False(t, le.tryAcquireOrRenew(context.Background()))
	assert.Error(t, adaptor.Check(nil))
}
