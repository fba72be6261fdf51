package leaderelection

import (
	"net/http"
	"sync"
	"time"
)

// HealthzAdaptor lets a health endpoint be registered before the elector exists. Once attached it reports
// unhealthy while the elector still believes it leads but has not renewed for longer than the lease
// duration plus timeout, which means the process is stuck and should be restarted.
type HealthzAdaptor struct {
	pointerLock sync.Mutex
	le          *LeaderElector
	timeout     time.Duration
}

// NewLeaderHealthzAdaptor returns an adaptor tolerating timeout of staleness past lease expiry.
func NewLeaderHealthzAdaptor(timeout time.Duration) *HealthzAdaptor {
	return &HealthzAdaptor{timeout: timeout}
}

func (l *HealthzAdaptor) Name() string {
	return "leaderElection"
}

// Check fails when the attached elector owns the lease but could not renew it in time.
func (l *HealthzAdaptor) Check(_ *http.Request) error {
	l.pointerLock.Lock()
	defer l.pointerLock.Unlock()
	if l.le == nil {
		return nil
	}
	return l.le.Check(l.timeout)
}

// SetLeaderElection attaches the elector to monitor.
func (l *HealthzAdaptor) SetLeaderElection(le *LeaderElector) {
	l.pointerLock.Lock()
	defer l.pointerLock.Unlock()
	l.le = le
}
