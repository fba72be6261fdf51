// Package leaderelection elects one leader among candidates that share a resource lock. Candidates
// coordinate only through the compare-and-swap writes of the lock's backing store and their local clocks.
//
// A candidate observes the lock every RetryPeriod. It takes the lock when nobody holds it, when the
// holder's lease expired, or when it already is the holder. Once leading it renews every RetryPeriod and
// steps down when no renewal succeeded within RenewDeadline. Two candidates can only both believe they
// lead if their clocks drift apart by more than LeaseDuration - RenewDeadline.
package leaderelection

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"leader-elector/clock"
	"leader-elector/events"
	rl "leader-elector/leaderelection/resourcelock"
)

// State of a LeaderElector.
type State int32

const (
	// Observing polls the lock without holding it.
	Observing State = iota
	// Leading renews the lock.
	Leading
	// Stopped is terminal; Run has returned.
	Stopped
)

func (s State) String() string {
	switch s {
	case Observing:
		return "Observing"
	case Leading:
		return "Leading"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// LeaderCallbacks are callbacks that are triggered during certain lifecycle events of the LeaderElector.
type LeaderCallbacks struct {
	// OnStartedLeading is called in its own goroutine when the elector starts leading. Its context is
	// cancelled as soon as leadership is lost or Run's context is done, and Run waits for it to return.
	OnStartedLeading func(ctx context.Context)
	// OnStoppedLeading is called when the elector stops leading, after OnStartedLeading returned.
	OnStoppedLeading func()
	// OnNewLeader is called when the observed holder changes, including the first observation.
	OnNewLeader func(identity string)
}

// LeaderElectionConfig configures a LeaderElector.
type LeaderElectionConfig struct {
	// Lock is the resource that will be used for locking
	Lock rl.Interface

	// LeaseDuration is how long a lease stays valid without renewal. Observers wait this long after the
	// last renewal before they try to take over. It is stored in whole seconds.
	LeaseDuration time.Duration
	// RenewDeadline is how long the leader keeps retrying a renewal before it gives up leadership.
	RenewDeadline time.Duration
	// RetryPeriod is the wait between two attempts to acquire or renew.
	RetryPeriod time.Duration

	Callbacks LeaderCallbacks

	// ReleaseOnCancel expires the lease when Run's context is cancelled while leading, so that another
	// candidate can take over without waiting for LeaseDuration.
	ReleaseOnCancel bool

	// Name is used in logs and as metrics label. Defaults to the lock description.
	Name string

	// Clock defaults to the system clock.
	Clock clock.Clock

	// EventRecorder, WatchDog and Metrics are optional.
	EventRecorder events.Recorder
	WatchDog      *HealthzAdaptor
	Metrics       *Metrics
}

// LeaderElector is a leader election client.
type LeaderElector struct {
	config       LeaderElectionConfig
	clock        clock.Clock
	leaseSeconds int

	state atomic.Int32

	// observedRecord is the last record read or written, renewedAt the renew time of our last successful
	// write
	observedRecord     rl.LeaderElectionRecord
	renewedAt          time.Time
	observedRecordLock sync.RWMutex
}

// NewLeaderElector validates lec and returns a LeaderElector ready to Run.
func NewLeaderElector(lec LeaderElectionConfig) (*LeaderElector, error) {
	if lec.Lock == nil {
		return nil, errors.New("lock must not be nil")
	}
	if lec.Lock.Identity() == "" {
		return nil, errors.New("lock identity is empty")
	}
	if lec.LeaseDuration < time.Second {
		return nil, errors.Errorf("leaseDuration must be at least one second, got %v", lec.LeaseDuration)
	}
	if lec.RenewDeadline <= 0 {
		return nil, errors.New("renewDeadline must be greater than zero")
	}
	if lec.RetryPeriod <= 0 {
		return nil, errors.New("retryPeriod must be greater than zero")
	}
	if lec.LeaseDuration <= lec.RenewDeadline {
		return nil, errors.New("leaseDuration must be greater than renewDeadline")
	}
	if lec.RenewDeadline <= lec.RetryPeriod {
		return nil, errors.New("renewDeadline must be greater than retryPeriod")
	}
	if lec.Callbacks.OnStartedLeading == nil {
		return nil, errors.New("OnStartedLeading callback must not be nil")
	}

	if lec.Name == "" {
		lec.Name = lec.Lock.Describe()
	}
	if lec.Clock == nil {
		lec.Clock = clock.New()
	}

	le := &LeaderElector{
		config:       lec,
		clock:        lec.Clock,
		leaseSeconds: int(math.Ceil(lec.LeaseDuration.Seconds())),
	}
	le.state.Store(int32(Observing))

	if lec.WatchDog != nil {
		lec.WatchDog.SetLeaderElection(le)
	}
	return le, nil
}

// Run campaigns for the lock until ctx is done. Between leaderships the elector goes back to observing.
// Run returns only after OnStartedLeading returned.
func (le *LeaderElector) Run(ctx context.Context) {
	defer le.state.Store(int32(Stopped))

	for {
		if !le.acquire(ctx) {
			return
		}
		le.lead(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}

// IsLeader returns true while the elector is leading.
func (le *LeaderElector) IsLeader() bool {
	return le.State() == Leading
}

// GetLeader returns the identity of the last observed leader.
func (le *LeaderElector) GetLeader() string {
	return le.ObservedRecord().HolderIdentity
}

// State returns the current state.
func (le *LeaderElector) State() State {
	return State(le.state.Load())
}

// ObservedRecord returns the last record read from or written to the lock.
func (le *LeaderElector) ObservedRecord() rl.LeaderElectionRecord {
	le.observedRecordLock.RLock()
	defer le.observedRecordLock.RUnlock()

	return le.observedRecord
}

// Check reports an error when the elector leads but did not renew for longer than the lease duration
// plus maxTolerableExpiredLease.
func (le *LeaderElector) Check(maxTolerableExpiredLease time.Duration) error {
	if !le.IsLeader() {
		return nil
	}

	if le.clock.Since(le.lastRenewal()) > le.config.LeaseDuration+maxTolerableExpiredLease {
		return errors.Errorf("failed election to renew leadership on lease %s", le.config.Name)
	}
	return nil
}

// acquire loops calling tryAcquireOrRenew and returns true as soon as the lease is acquired, false when
// ctx is done.
func (le *LeaderElector) acquire(ctx context.Context) bool {
	desc := le.config.Lock.Describe()
	log.Info().Str("lock", desc).Msg("attempting to acquire leader lease")

	for {
		if ctx.Err() != nil {
			return false
		}
		if le.tryAcquireOrRenew(ctx) {
			log.Info().Str("lock", desc).Msg("successfully acquired lease")
			return true
		}
		if err := clock.SleepFor(ctx, le.clock, le.config.RetryPeriod); err != nil {
			return false
		}
	}
}

// lead runs the workload while renewing, then stops it and waits for it before reporting the step down.
func (le *LeaderElector) lead(ctx context.Context) {
	le.state.Store(int32(Leading))
	le.config.Metrics.leaderOn(le.config.Name)
	le.recordEvent("became leader")

	workCtx, stopWork := context.WithCancel(ctx)
	workDone := make(chan struct{})
	go func() {
		defer close(workDone)
		le.config.Callbacks.OnStartedLeading(workCtx)
	}()

	le.renew(ctx)

	stopWork()
	<-workDone

	if ctx.Err() != nil && le.config.ReleaseOnCancel {
		le.release()
	}

	le.state.Store(int32(Observing))
	le.config.Metrics.leaderOff(le.config.Name)
	if le.config.Callbacks.OnStoppedLeading != nil {
		le.config.Callbacks.OnStoppedLeading()
	}
	le.recordEvent("stopped leading")
}

// renew loops calling tryAcquireOrRenew and returns once a renewal did not succeed within RenewDeadline
// or ctx is done.
func (le *LeaderElector) renew(ctx context.Context) {
	for {
		if err := clock.SleepFor(ctx, le.clock, le.config.RetryPeriod); err != nil {
			return
		}
		if !le.renewWithinDeadline(ctx) {
			if ctx.Err() == nil {
				log.Warn().Str("lock", le.config.Lock.Describe()).Dur("renewDeadline", le.config.RenewDeadline).
					Msg("failed to renew lease, leadership lost")
				le.config.Metrics.leadershipLost(le.config.Name)
			}
			return
		}
	}
}

// renewWithinDeadline retries every RetryPeriod until a renewal succeeds or RenewDeadline passed since the
// last successful one. Each store call is bounded by the time left.
func (le *LeaderElector) renewWithinDeadline(ctx context.Context) bool {
	deadline := le.lastRenewal().Add(le.config.RenewDeadline)
	for {
		if ctx.Err() != nil {
			return false
		}
		remaining := deadline.Sub(le.clock.Now())
		if remaining <= 0 {
			return false
		}

		attemptCtx, cancel := context.WithTimeout(ctx, remaining)
		renewed := le.tryAcquireOrRenew(attemptCtx)
		cancel()
		if renewed {
			return true
		}

		wait := le.config.RetryPeriod
		if left := deadline.Sub(le.clock.Now()); left < wait {
			wait = left
		}
		if err := clock.SleepFor(ctx, le.clock, wait); err != nil {
			return false
		}
	}
}

// tryAcquireOrRenew tries to acquire a leader lease if it is not already acquired, else it tries to renew
// the lease if it has already been acquired. Returns true on success else returns false.
func (le *LeaderElector) tryAcquireOrRenew(ctx context.Context) bool {
	lock := le.config.Lock
	identity := lock.Identity()
	now := le.clock.Now().UTC()
	desired := rl.LeaderElectionRecord{
		HolderIdentity:       identity,
		LeaseDurationSeconds: le.leaseSeconds,
		AcquireTime:          now,
		RenewTime:            now,
	}

	// 1. obtain the current record; an unreadable one counts as absent
	old, version, err := lock.Get(ctx)
	switch {
	case errors.Is(err, rl.ErrNotFound):
		if _, err := lock.Create(ctx, desired); err != nil {
			le.logWriteFailure("create", err)
			return false
		}
		le.setRenewedRecord(desired)
		return true
	case errors.Is(err, rl.ErrMalformed):
		log.Warn().Err(err).Str("lock", lock.Describe()).Msg("stored leader election record is malformed, treating it as absent")
		if _, err := lock.Update(ctx, desired, version); err != nil {
			le.logWriteFailure("update", err)
			return false
		}
		le.setRenewedRecord(desired)
		return true
	case err != nil:
		log.Error().Err(err).Str("lock", lock.Describe()).Msg("error retrieving resource lock")
		return false
	}

	// 2. record obtained, check the holder and the lease
	le.setObservedRecord(*old)
	if old.HolderIdentity != identity && !old.Expired(now) {
		log.Debug().Str("lock", lock.Describe()).Str("holder", old.HolderIdentity).
			Msg("lock is held by another candidate and has not yet expired")
		return false
	}

	// 3. we're going to try to update. The acquire time and transitions carry over while the holder stays
	// the same.
	if old.HolderIdentity == identity {
		desired.AcquireTime = old.AcquireTime
		desired.LeaderTransitions = old.LeaderTransitions
	} else {
		desired.LeaderTransitions = old.LeaderTransitions + 1
	}

	if _, err := lock.Update(ctx, desired, version); err != nil {
		le.logWriteFailure("update", err)
		return false
	}
	le.setRenewedRecord(desired)
	return true
}

// release expires the lease in place if this elector still holds it. The holder is kept so the record
// stays decodable; the next candidate sees it as expired and takes over. It gives up after RetryPeriod.
func (le *LeaderElector) release() bool {
	ctx, cancel := context.WithTimeout(context.Background(), le.config.RetryPeriod)
	defer cancel()

	lock := le.config.Lock
	old, version, err := lock.Get(ctx)
	if err != nil {
		log.Error().Err(err).Str("lock", lock.Describe()).Msg("failed to read lock before release")
		return false
	}
	if old.HolderIdentity != lock.Identity() {
		return false
	}

	renewed := le.clock.Now().UTC().Add(-time.Second)
	expired := rl.LeaderElectionRecord{
		HolderIdentity:       old.HolderIdentity,
		LeaseDurationSeconds: 1,
		AcquireTime:          old.AcquireTime,
		RenewTime:            renewed,
		LeaderTransitions:    old.LeaderTransitions,
	}
	if expired.AcquireTime.After(renewed) {
		expired.AcquireTime = renewed
	}

	if _, err := lock.Update(ctx, expired, version); err != nil {
		log.Error().Err(err).Str("lock", lock.Describe()).Msg("failed to release lock")
		return false
	}
	le.setObservedRecord(expired)
	log.Info().Str("lock", lock.Describe()).Msg("released leader lease")
	return true
}

// setObservedRecord stores the record and fires OnNewLeader when the holder changed.
func (le *LeaderElector) setObservedRecord(ler rl.LeaderElectionRecord) {
	le.observedRecordLock.Lock()
	previous := le.observedRecord.HolderIdentity
	le.observedRecord = ler
	le.observedRecordLock.Unlock()

	if ler.HolderIdentity == previous {
		return
	}
	log.Info().Str("lock", le.config.Lock.Describe()).Str("leader", ler.HolderIdentity).Msg("new leader observed")
	le.config.Metrics.transitionObserved(le.config.Name)
	if le.config.Callbacks.OnNewLeader != nil {
		le.config.Callbacks.OnNewLeader(ler.HolderIdentity)
	}
}

// setRenewedRecord stores a record this elector just wrote successfully.
func (le *LeaderElector) setRenewedRecord(ler rl.LeaderElectionRecord) {
	le.observedRecordLock.Lock()
	le.renewedAt = ler.RenewTime
	le.observedRecordLock.Unlock()

	le.setObservedRecord(ler)
}

func (le *LeaderElector) lastRenewal() time.Time {
	le.observedRecordLock.RLock()
	defer le.observedRecordLock.RUnlock()

	return le.renewedAt
}

// logWriteFailure keeps expected races at debug level.
func (le *LeaderElector) logWriteFailure(op string, err error) {
	if errors.Is(err, rl.ErrAlreadyExists) || errors.Is(err, rl.ErrConflict) {
		log.Debug().Err(err).Str("op", op).Str("lock", le.config.Lock.Describe()).Msg("lost the race for the lock")
		return
	}
	log.Error().Err(err).Str("op", op).Str("lock", le.config.Lock.Describe()).Msg("failed to write resource lock")
}

func (le *LeaderElector) recordEvent(action string) {
	if le.config.EventRecorder == nil {
		return
	}
	le.config.EventRecorder.Eventf(le.config.Lock.Describe(), events.ReasonLeaderElection, "%s %s", le.config.Lock.Identity(), action)
}
