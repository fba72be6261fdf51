// Package events records leadership events such as "became leader" against the lock they concern.
package events

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	ReasonLeaderElection = "LeaderElection"
)

// Event is one recorded occurrence.
type Event struct {
	Object    string    `json:"object" mapstructure:"object"`
	Reason    string    `json:"reason" mapstructure:"reason"`
	Message   string    `json:"message" mapstructure:"message"`
	Timestamp time.Time `json:"@timestamp" mapstructure:"@timestamp"`
}

// Recorder records events. Implementations must not block the caller.
type Recorder interface {
	Eventf(object, reason, messageFmt string, args ...interface{})
}

type logRecorder struct{}

// NewLogRecorder returns a Recorder writing events to the global logger.
func NewLogRecorder() Recorder {
	return logRecorder{}
}

func (logRecorder) Eventf(object, reason, messageFmt string, args ...interface{}) {
	log.Info().Str("object", object).Str("reason", reason).Msg(fmt.Sprintf(messageFmt, args...))
}

type multiRecorder []Recorder

// Multi fans every event out to all recorders.
func Multi(recorders ...Recorder) Recorder {
	return multiRecorder(recorders)
}

func (m multiRecorder) Eventf(object, reason, messageFmt string, args ...interface{}) {
	for _, r := range m {
		r.Eventf(object, reason, messageFmt, args...)
	}
}
