package robot

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amr-saas/missiondispatch/internal/store"
	"github.com/amr-saas/missiondispatch/internal/vda5050"
)

// Supervisor tracks the latest aggregate view of each robot, fed by
// inbound VDA5050 State/Connection frames, grounded on the teacher's
// robot/manager.go registry shape (map[id]*Robot behind an RWMutex,
// RegisterRobot/UpdateStatus/SetOnline/GetRobot), repurposed here to
// track VDA5050 observed state rather than a vendor-agnostic robot model.
type Supervisor struct {
	mu     sync.RWMutex
	robots map[string]*snapshot
	logger *zap.Logger
}

type snapshot struct {
	status store.RobotStatus

	// lastNodeSeq is VDA5050 wire-protocol state, not part of the
	// persisted store.RobotStatus, but the Sequencer needs the robot's
	// most recent lastNodeSequenceId to stamp the next Order's node 0.
	lastNodeSeq int64

	// missionRunning and batteryCriticalLevel are the two inputs
	// deriveRobotState needs and that VDA5050 State frames don't carry:
	// whether this robot's Controller currently has a RUNNING mission,
	// and the robot.spec.battery_critical_level threshold.
	missionRunning       bool
	batteryCriticalLevel float64
}

// NewSupervisor returns an empty Supervisor.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	return &Supervisor{
		robots: make(map[string]*snapshot),
		logger: logger,
	}
}

// Register seeds tracking for a newly-observed robot (Robot ADD event).
func (s *Supervisor) Register(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.robots[name]; !ok {
		s.robots[name] = &snapshot{status: store.RobotStatus{State: store.RobotIdle}}
	}
}

// Forget stops tracking a robot (Robot DELETE event).
func (s *Supervisor) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.robots, name)
}

// ApplyState folds an inbound VDA5050 State frame into the tracked
// aggregate: presence, pose, battery (clamped via vda5050.Clamp01),
// lastNodeSequenceId and the error list (replaced by the frame's errors).
// store.RobotState is re-derived by deriveRobotState (ON_TASK, CHARGING or
// IDLE), not from operatingMode.
func (s *Supervisor) ApplyState(name string, st *vda5050.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.ensureLocked(name)

	snap.status.Online = true
	snap.status.LastSeenTS = time.Now()
	snap.status.Pose = store.Pose{
		X: st.AGVPosition.X, Y: st.AGVPosition.Y, Theta: st.AGVPosition.Theta,
		MapID: st.AGVPosition.MapID,
	}
	snap.status.BatteryLevel = vda5050.Clamp01(st.BatteryState.BatteryCharge)
	snap.status.State = deriveRobotState(snap.missionRunning, snap.status.BatteryLevel, snap.batteryCriticalLevel)
	snap.lastNodeSeq = st.LastNodeSequenceID

	snap.status.Errors = snap.status.Errors[:0]
	for _, e := range st.Errors {
		snap.status.Errors = append(snap.status.Errors, store.RobotError{
			Code: e.ErrorType, Description: e.ErrorDescription, Level: e.ErrorLevel,
		})
	}
}

// deriveRobotState applies the ON_TASK-dominant resolution of Open
// Question 1 (spec.md §9 / SPEC_FULL.md §9): ON_TASK iff this robot's
// Controller has a RUNNING mission, else CHARGING iff battery has dropped
// below the robot's own critical_level, else IDLE. Mission-running state,
// not wire telemetry, is authoritative here — a robot can report a
// charging battery flag mid-order, but that must not outrank ON_TASK.
func deriveRobotState(missionRunning bool, battery, criticalLevel float64) store.RobotState {
	if missionRunning {
		return store.RobotOnTask
	}
	if battery < criticalLevel {
		return store.RobotCharging
	}
	return store.RobotIdle
}

// ApplyConnection folds an inbound VDA5050 Connection frame (online/offline
// transitions reported directly by the AGV, distinct from heartbeat-
// timeout-derived offline detection).
func (s *Supervisor) ApplyConnection(name string, conn *vda5050.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.ensureLocked(name)
	snap.status.Online = conn.ConnectionState == vda5050.ConnectionOnline
	snap.status.LastSeenTS = time.Now()
}

// MarkOffline flips a robot offline, called by the HeartbeatWatchdog.
func (s *Supervisor) MarkOffline(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.robots[name]; ok {
		snap.status.Online = false
	}
}

// SetFactsheetHash records the hash of the most recently received
// Factsheet, so controller logic can detect a capability change.
func (s *Supervisor) SetFactsheetHash(name, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(name).status.FactsheetHash = hash
}

// SetBatteryCriticalLevel records robot.spec.battery_critical_level, read
// once at registration time, for deriveRobotState's CHARGING threshold.
func (s *Supervisor) SetBatteryCriticalLevel(name string, level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(name).batteryCriticalLevel = level
}

// SetMissionRunning records whether this robot's Controller currently has
// a RUNNING mission, the dominant input to deriveRobotState's ON_TASK
// branch.
func (s *Supervisor) SetMissionRunning(name string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.ensureLocked(name)
	snap.missionRunning = running
	snap.status.State = deriveRobotState(snap.missionRunning, snap.status.BatteryLevel, snap.batteryCriticalLevel)
}

// SetLastMission records the robot's most recently finalized mission; the
// Controller calls it from finalize.
func (s *Supervisor) SetLastMission(name, mission string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(name).status.LastMission = mission
}

// LastNodeSequenceID returns the most recently reported lastNodeSequenceId
// for name, or 0 if nothing has been reported yet (a freshly-tracked robot
// is assumed to be at its initial pose, sequence 0).
func (s *Supervisor) LastNodeSequenceID(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snap, ok := s.robots[name]; ok {
		return snap.lastNodeSeq
	}
	return 0
}

// Status returns a copy of the tracked status for name, or false if the
// robot is not tracked.
func (s *Supervisor) Status(name string) (store.RobotStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.robots[name]
	if !ok {
		return store.RobotStatus{}, false
	}
	return snap.status, true
}

// Names returns the names of every tracked robot.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.robots))
	for name := range s.robots {
		out = append(out, name)
	}
	return out
}

func (s *Supervisor) ensureLocked(name string) *snapshot {
	snap, ok := s.robots[name]
	if !ok {
		snap = &snapshot{}
		s.robots[name] = snap
	}
	return snap
}
