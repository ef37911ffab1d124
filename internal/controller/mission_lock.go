// Package controller runs the per-robot root loop (spec.md §4.7): select
// the next PENDings mission, drive it leaf by leaf through C5/C6, and
// finalize it, with no scheduling or state shared across robots.
package controller

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// lease is one held mission lock.
type lease struct {
	mission   string
	expiresAt time.Time
}

// MissionLock enforces invariant (vii) of spec.md §3: at most one mission
// RUNNING per robot at any time. Adapted from the teacher's
// safety/operation_lock.go lease pattern (Acquire/Release/CheckLock with a
// TTL and periodic cleanup) — there the lease belonged to a human operator
// session, here it belongs to whichever mission name is currently driving
// the robot, renewed every controller loop iteration so a wedged robot
// goroutine eventually releases it instead of starving every future
// mission.
type MissionLock struct {
	mu      sync.Mutex
	leases  map[string]*lease // robot -> lease
	timeout time.Duration
	logger  *zap.Logger
}

// NewMissionLock builds a lock whose leases expire after timeout unless
// renewed.
func NewMissionLock(timeout time.Duration, logger *zap.Logger) *MissionLock {
	return &MissionLock{leases: make(map[string]*lease), timeout: timeout, logger: logger}
}

// Acquire takes the lock for robot on behalf of mission. It fails if
// another, unexpired mission already holds it.
func (l *MissionLock) Acquire(robot, mission string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if existing, ok := l.leases[robot]; ok && existing.expiresAt.After(now) {
		if existing.mission == mission {
			existing.expiresAt = now.Add(l.timeout)
			return true
		}
		return false
	}

	l.leases[robot] = &lease{mission: mission, expiresAt: now.Add(l.timeout)}
	l.logger.Debug("mission lock acquired", zap.String("robot", robot), zap.String("mission", mission))
	return true
}

// Renew extends the lease for robot's currently held mission; the
// controller loop calls this once per iteration while driving a mission.
func (l *MissionLock) Renew(robot, mission string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.leases[robot]; ok && existing.mission == mission {
		existing.expiresAt = time.Now().Add(l.timeout)
	}
}

// Release frees robot's lock if mission is the current holder.
func (l *MissionLock) Release(robot, mission string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.leases[robot]; ok && existing.mission == mission {
		delete(l.leases, robot)
		l.logger.Debug("mission lock released", zap.String("robot", robot), zap.String("mission", mission))
	}
}

// Holder reports the mission currently holding robot's lock, if any and
// unexpired.
func (l *MissionLock) Holder(robot string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, ok := l.leases[robot]
	if !ok || !existing.expiresAt.After(time.Now()) {
		return "", false
	}
	return existing.mission, true
}
