// Package reconciler resumes in-flight missions on startup and batches
// robot-status writes to the Object Store (spec.md §4.1's "continuously
// reconciles observed robot telemetry with persisted desired state").
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amr-saas/missiondispatch/internal/robot"
	"github.com/amr-saas/missiondispatch/internal/store"
)

// flushInterval is the coalescing window for batched robot status writes,
// bounding write amplification on a busy fleet.
const flushInterval = 100 * time.Millisecond

type pendingWrite struct {
	robot  string
	status store.RobotStatus
}

// StatusFlusher buffers RobotStatus writes and flushes them on a ticker,
// adapted from the teacher's forwarder/backend.go buffer+ticker shape:
// there it batched sensor records for a gRPC sink, here it coalesces the
// latest-write-wins RobotStatus per robot for the Object Store's
// version-conditional PATCH, preserving per-robot write ordering by
// retrying on ErrVersionConflict with a fresh read rather than clobbering.
type StatusFlusher struct {
	mu      sync.Mutex
	pending map[string]pendingWrite

	st     store.Client
	logger *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// NewStatusFlusher builds a flusher; call Run to start the background loop.
func NewStatusFlusher(st store.Client, logger *zap.Logger) *StatusFlusher {
	return &StatusFlusher{
		pending: make(map[string]pendingWrite),
		st:      st,
		logger:  logger,
		ticker:  time.NewTicker(flushInterval),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue buffers the latest status for robot, coalescing with any
// not-yet-flushed write for the same robot.
func (f *StatusFlusher) Enqueue(robot string, status store.RobotStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[robot] = pendingWrite{robot: robot, status: status}
}

// Run blocks, flushing on flushInterval until ctx is canceled, performing
// one final flush before returning.
func (f *StatusFlusher) Run(ctx context.Context) {
	defer close(f.done)
	defer f.ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.flush(context.Background())
			return
		case <-f.ticker.C:
			f.flush(ctx)
		}
	}
}

func (f *StatusFlusher) flush(ctx context.Context) {
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		return
	}
	batch := f.pending
	f.pending = make(map[string]pendingWrite)
	f.mu.Unlock()

	for name, w := range batch {
		for attempt := 0; attempt < 2; attempt++ {
			current, err := f.st.GetRobot(ctx, name)
			if err != nil {
				f.logger.Warn("flush: could not read robot for status write", zap.String("robot", name), zap.Error(err))
				break
			}
			err = f.st.PatchRobotStatus(ctx, name, current.Version, w.status)
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			if err != nil {
				f.logger.Warn("flush: status write failed", zap.String("robot", name), zap.Error(err))
			}
			break
		}
	}
}

// ResumeAll implements startup resume: every Robot/Mission already
// persisted is folded into the in-memory Supervisor so a restarted
// controller doesn't treat every fleet robot as newly discovered, and
// every mission already RUNNING is left for its Controller to pick back
// up mid-flight rather than restarted from scratch (spec.md's restart
// scenario, S6).
func ResumeAll(ctx context.Context, st store.Client, sup *robot.Supervisor, logger *zap.Logger) error {
	robots, err := st.ListRobots(ctx, store.ListFilter{})
	if err != nil {
		return err
	}
	for _, r := range robots {
		sup.Register(r.Name)
		sup.SetBatteryCriticalLevel(r.Name, r.Spec.BatteryCriticalLevel)
		logger.Info("resumed tracking robot", zap.String("robot", r.Name), zap.Bool("online", r.Status.Online))
	}

	missions, err := st.ListMissions(ctx, store.ListFilter{})
	if err != nil {
		return err
	}
	running := 0
	for _, m := range missions {
		if m.Status.State == store.MissionRunning {
			running++
		}
	}
	logger.Info("resume complete", zap.Int("robots", len(robots)), zap.Int("missions_in_flight", running))
	return nil
}
