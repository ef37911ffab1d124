// Package store is the typed Object Store client (spec.md §4.3, §6): get,
// list, status-only patch, and a restartable watch stream for Mission and
// Robot objects. The Object Store itself is an external REST+SQL service
// we don't implement — only the contract the controller consumes.
package store

import "time"

// Kind names one of the two object kinds the controller consumes.
type Kind string

const (
	KindRobot   Kind = "robot"
	KindMission Kind = "mission"
)

// Lifecycle is the envelope lifecycle shared by every persisted object.
type Lifecycle string

const (
	LifecycleCreated       Lifecycle = "CREATED"
	LifecycleRunning       Lifecycle = "RUNNING"
	LifecycleCompleted     Lifecycle = "COMPLETED"
	LifecyclePendingDelete Lifecycle = "PENDING_DELETE"
)

// Envelope is the common header every persisted object carries (spec.md §3).
type Envelope struct {
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels,omitempty"`
	Lifecycle Lifecycle         `json:"lifecycle"`
	Version   int64             `json:"version"`
	CreatedTS time.Time         `json:"created_ts"`
}

// RobotState is the aggregate robot.status.state enum (spec.md §3).
type RobotState string

const (
	RobotIdle           RobotState = "IDLE"
	RobotOnTask         RobotState = "ON_TASK"
	RobotCharging       RobotState = "CHARGING"
	RobotMapDeployment  RobotState = "MAP_DEPLOYMENT"
)

// Pose is a robot's last observed position.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
	MapID string  `json:"map_id"`
}

// RobotError is a single entry in robot.status.errors.
type RobotError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Level       string `json:"level"`
}

// RobotSpec is the desired-state half of a Robot object.
type RobotSpec struct {
	BatteryCriticalLevel float64 `json:"battery_critical_level"`
	HeartbeatTimeoutS    int     `json:"heartbeat_timeout_s"`
}

// RobotStatus is the observed-state half of a Robot object.
type RobotStatus struct {
	Online        bool         `json:"online"`
	State         RobotState   `json:"state"`
	Pose          Pose         `json:"pose"`
	BatteryLevel  float64      `json:"battery_level"`
	LastSeenTS    time.Time    `json:"last_seen_ts"`
	LastMission   string       `json:"last_mission,omitempty"`
	Errors        []RobotError `json:"errors,omitempty"`
	FactsheetHash string       `json:"factsheet_hash,omitempty"`
}

// Robot is the full persisted Robot object.
type Robot struct {
	Envelope
	Spec   RobotSpec   `json:"spec"`
	Status RobotStatus `json:"status"`
}

// MissionState is the mission.status.state enum (spec.md §3).
type MissionState string

const (
	MissionPending   MissionState = "PENDING"
	MissionRunning   MissionState = "RUNNING"
	MissionCompleted MissionState = "COMPLETED"
	MissionFailed    MissionState = "FAILED"
	MissionCanceled  MissionState = "CANCELED"
)

// NodeKind tags which variant of MissionNode is populated.
type NodeKind string

const (
	NodeSequence NodeKind = "sequence"
	NodeSelector NodeKind = "selector"
	NodeRoute    NodeKind = "route"
	NodeAction   NodeKind = "action"
)

// Waypoint is a single route leg.
type Waypoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
	MapID string  `json:"map_id"`
}

// MissionNode is one node of the mission tree (spec.md §3).
type MissionNode struct {
	Name   string   `json:"name"`
	Parent string   `json:"parent"`
	Kind   NodeKind `json:"kind"`

	// Exactly one of the following is populated, selected by Kind.
	Route struct {
		Waypoints []Waypoint `json:"waypoints"`
	} `json:"route,omitempty"`
	Action struct {
		ActionType       string                 `json:"action_type"`
		ActionParameters map[string]interface{} `json:"action_parameters,omitempty"`
	} `json:"action,omitempty"`
}

// MissionSpec is the desired-state half of a Mission object.
type MissionSpec struct {
	Robot         string        `json:"robot" validate:"required"`
	MissionTree   []MissionNode `json:"mission_tree" validate:"required,min=1"`
	TimeoutS      int           `json:"timeout_s" validate:"required,gt=0"`
	Deadline      *time.Time    `json:"deadline,omitempty"`
	NeedsCanceled bool          `json:"needs_canceled"`
}

// NodeStatus is one entry of mission.status.node_status.
type NodeStatus struct {
	State NodeExecState `json:"state"`
	Error string        `json:"error,omitempty"`
}

// NodeExecState is a single node's behavior-tree execution state.
type NodeExecState string

const (
	NodeIdle    NodeExecState = "IDLE"
	NodeRunning NodeExecState = "RUNNING"
	NodeSuccess NodeExecState = "SUCCESS"
	NodeFailure NodeExecState = "FAILURE"
)

// MissionStatus is the observed-state half of a Mission object.
type MissionStatus struct {
	State       MissionState          `json:"state"`
	NodeStatus  map[string]NodeStatus `json:"node_status,omitempty"`
	StartTS     *time.Time            `json:"start_ts,omitempty"`
	EndTS       *time.Time            `json:"end_ts,omitempty"`
	CurrentNode string                `json:"current_node,omitempty"`
}

// Mission is the full persisted Mission object.
type Mission struct {
	Envelope
	Spec   MissionSpec   `json:"spec"`
	Status MissionStatus `json:"status"`
}

// StatusPatch is a version-conditional, status-only write (spec.md §5):
// writes are rejected if ExpectedVersion no longer matches the store's.
type StatusPatch struct {
	Kind            Kind
	Name            string
	ExpectedVersion int64
	Status          interface{} // *RobotStatus or *MissionStatus
}

// EventType distinguishes watch events.
type EventType string

const (
	EventAdd    EventType = "ADD"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// WatchEvent is a single entry from a watch stream.
type WatchEvent struct {
	Event  EventType
	Kind   Kind
	Object interface{} // *Robot or *Mission
	Cursor string
}

// ListFilter narrows a List call. Zero values mean "no filter".
type ListFilter struct {
	MinBattery *float64
	MaxBattery *float64
	State      string
	Online     *bool
	Names      []string
}
