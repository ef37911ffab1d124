// Package robot tracks per-robot liveness and aggregate state derived from
// inbound VDA5050 State/Connection frames (spec.md §4.1).
package robot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HeartbeatWatchdog sweeps for robots that have gone quiet, adapted from
// the teacher's safety/timeout_watchdog.go ticker-sweep shape: there it
// zeroed velocity commands on a per-robot fixed timeout, here it fires
// onTimeout for a robot that stopped reporting, which the process wiring
// uses to flip RobotStatus.Online=false (spec.md §7 offline detection).
type HeartbeatWatchdog struct {
	mu        sync.Mutex
	lastSeen  map[string]time.Time
	timeoutOf func(robot string) time.Duration
	logger    *zap.Logger
	onTimeout func(robot string)

	sweepInterval time.Duration
}

// NewHeartbeatWatchdog builds a watchdog. timeoutOf returns the per-robot
// heartbeat timeout (spec.md's robot.spec.heartbeat_timeout_s, defaulting
// via config.RobotConfig.HeartbeatTimeoutDefault when unset).
func NewHeartbeatWatchdog(timeoutOf func(robot string) time.Duration, logger *zap.Logger) *HeartbeatWatchdog {
	return &HeartbeatWatchdog{
		lastSeen:      make(map[string]time.Time),
		timeoutOf:     timeoutOf,
		logger:        logger,
		sweepInterval: 500 * time.Millisecond,
	}
}

// OnTimeout registers the callback invoked (outside any lock) when a robot
// is swept for inactivity.
func (w *HeartbeatWatchdog) OnTimeout(fn func(robot string)) {
	w.onTimeout = fn
}

// RecordSeen marks robot as having reported a State or Connection frame.
func (w *HeartbeatWatchdog) RecordSeen(robot string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSeen[robot] = time.Now()
}

// Forget stops tracking robot (e.g. on Robot DELETE).
func (w *HeartbeatWatchdog) Forget(robot string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.lastSeen, robot)
}

// Run blocks, sweeping for timed-out robots until ctx is canceled.
func (w *HeartbeatWatchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.sweep(now)
		}
	}
}

func (w *HeartbeatWatchdog) sweep(now time.Time) {
	w.mu.Lock()
	var timedOut []string
	for robotName, seen := range w.lastSeen {
		if now.Sub(seen) > w.timeoutOf(robotName) {
			timedOut = append(timedOut, robotName)
		}
	}
	for _, robotName := range timedOut {
		delete(w.lastSeen, robotName)
	}
	w.mu.Unlock()

	for _, robotName := range timedOut {
		w.logger.Warn("robot heartbeat timed out", zap.String("robot", robotName))
		if w.onTimeout != nil {
			w.onTimeout(robotName)
		}
	}
}
