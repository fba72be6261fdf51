package leaderelection

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rl "leader-elector/leaderelection/resourcelock"
	"leader-elector/store"
)

type capturedEvents struct {
	sync.Mutex
	messages []string
}

func (c *capturedEvents) Eventf(object, reason, messageFmt string, args ...interface{}) {
	c.Lock()
	defer c.Unlock()
	c.messages = append(c.messages, fmt.Sprintf("%s %s: %s", reason, object, fmt.Sprintf(messageFmt, args...)))
}

func (c *capturedEvents) list() []string {
	c.Lock()
	defer c.Unlock()
	return append([]string(nil), c.messages...)
}

func TestMetricsAndEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err, "collectors can only be registered once")

	faulty := &faultyClient{Client: store.NewInMemoryStore()}
	lock := newTestLock(t, rl.LeasesResourceLock, faulty, "a")
	recorder := &capturedEvents{}

	lec := fastConfig(lock, (&callbackRecorder{}).callbacks(nil))
	lec.Name = "test"
	lec.Metrics = m
	lec.EventRecorder = recorder
	le, err := NewLeaderElector(lec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		le.Run(ctx)
		close(done)
	}()

	require.NoError(t, waitUntil(defaultWait, le.IsLeader))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.status.WithLabelValues("test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitions.WithLabelValues("test")))

	faulty.failUpdates.Store(true)
	require.NoError(t, waitUntil(defaultWait, func() bool {
		return testutil.ToFloat64(m.lost.WithLabelValues("test")) == 1
	}))
	require.NoError(t, waitUntil(defaultWait, func() bool {
		return testutil.ToFloat64(m.status.WithLabelValues("test")) == 0
	}))
	assert.False(t, le.IsLeader())

	cancel()
	<-done

	desc := lock.Describe()
	assert.Equal(t, []string{
		"LeaderElection " + desc + ": a became leader",
		"LeaderElection " + desc + ": a stopped leading",
	}, recorder.list())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.leaderOn("x")
		m.leaderOff("x")
		m.leadershipLost("x")
		m.transitionObserved("x")
	})
}
