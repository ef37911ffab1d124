package store

import "context"

// Client is the typed interface the rest of the controller depends on;
// design notes §9 require the controller to function against any
// implementation that satisfies it, including an in-memory test double.
type Client interface {
	GetRobot(ctx context.Context, name string) (*Robot, error)
	GetMission(ctx context.Context, name string) (*Mission, error)
	ListRobots(ctx context.Context, filter ListFilter) ([]*Robot, error)
	ListMissions(ctx context.Context, filter ListFilter) ([]*Mission, error)

	PatchRobotStatus(ctx context.Context, name string, expectedVersion int64, status RobotStatus) error
	PatchMissionStatus(ctx context.Context, name string, expectedVersion int64, status MissionStatus) error

	// Watch returns a channel of events for kind, long-polling the store
	// and resuming from the last acknowledged cursor on disconnect.
	Watch(ctx context.Context, kind Kind) (<-chan WatchEvent, error)
}

// ErrVersionConflict is returned by PatchRobotStatus/PatchMissionStatus
// when the store's current version has moved past ExpectedVersion
// (optimistic concurrency, spec.md §5) — callers retry with a fresh read.
var ErrVersionConflict = versionConflictError{}

type versionConflictError struct{}

func (versionConflictError) Error() string { return "store_conflict: version mismatch" }

// ErrNotFound is returned when an object the caller still holds in memory
// has been deleted externally (spec.md §4.3 "404 ... deletion path").
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "object not found" }
