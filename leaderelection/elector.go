package leaderelection

import "context"

// Elector is what the rest of the process needs from an election.
type Elector interface {
	// Run campaigns until ctx is done
	Run(ctx context.Context)

	// IsLeader is true if the current node is a leader
	IsLeader() bool

	// GetLeader returns the identity of the last observed leader
	GetLeader() string
}

var _ Elector = (*LeaderElector)(nil)
