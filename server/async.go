package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// lead is the workload of the leader. It reports a heartbeat until leadership ends and returns promptly
// once ctx is cancelled.
func (s *server) lead(ctx context.Context) {
	log.Info().Str("identity", s.config.Identity).Msg("started leading")

	since := time.Now()
	heartbeat := time.NewTicker(s.config.HeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-heartbeat.C:
			log.Debug().Str("identity", s.config.Identity).Dur("leading-for", time.Since(since)).Msg("leader heartbeat")
		case <-ctx.Done():
			log.Info().Str("identity", s.config.Identity).Dur("led-for", time.Since(since)).Msg("workload stopped")
			return
		}
	}
}
