package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/amr-saas/missiondispatch/internal/mission"
	"github.com/amr-saas/missiondispatch/internal/order"
	"github.com/amr-saas/missiondispatch/internal/robot"
	"github.com/amr-saas/missiondispatch/internal/store"
	"github.com/amr-saas/missiondispatch/internal/transport"
	"github.com/amr-saas/missiondispatch/internal/vda5050"
)

// pollInterval bounds how long the loop waits between mission-selection
// attempts when idle, and how often it re-checks deadline/cancel/offline
// conditions while a mission is running.
const pollInterval = 500 * time.Millisecond

// Controller runs the single cooperative per-robot loop of spec.md §4.7:
// select the next PENDING mission, drive it leaf by leaf, and finalize it.
// Mission selection and execution for one robot is entirely independent
// of every other robot's Controller — there is no global scheduler, only
// one goroutine per robot, matching the concurrency model summarized in
// spec.md §7.
type Controller struct {
	robotName string

	st                              store.Client
	pub                             transport.Publisher
	codec                           *vda5050.Codec
	orderTopic, instantActionsTopic string

	sup    *robot.Supervisor
	lock   *MissionLock
	cancel *order.CancelCoordinator
	seq    *order.Sequencer
	logger *zap.Logger

	heartbeatTimeout func() time.Duration
	cancelTimeout    time.Duration
	resumeTimeout    time.Duration

	inbound      <-chan *vda5050.State
	backpressure <-chan struct{}
}

// Config bundles Controller's dependencies.
type Config struct {
	RobotName           string
	Store               store.Client
	Publisher           transport.Publisher
	Codec               *vda5050.Codec
	OrderTopic          string
	InstantActionsTopic string
	Supervisor          *robot.Supervisor
	Lock                *MissionLock
	Cancel              *order.CancelCoordinator
	HeartbeatTimeout    func() time.Duration
	CancelTimeout       time.Duration
	ResumeTimeout       time.Duration
	Inbound             <-chan *vda5050.State
	Backpressure        <-chan struct{}
}

// New builds a Controller for one robot.
func New(cfg Config, logger *zap.Logger) *Controller {
	return &Controller{
		robotName:           cfg.RobotName,
		st:                  cfg.Store,
		pub:                 cfg.Publisher,
		codec:               cfg.Codec,
		orderTopic:          cfg.OrderTopic,
		instantActionsTopic: cfg.InstantActionsTopic,
		sup:                 cfg.Supervisor,
		lock:                cfg.Lock,
		cancel:              cfg.Cancel,
		seq:                 order.NewSequencer(cfg.Codec),
		logger:              logger.With(zap.String("robot", cfg.RobotName)),
		heartbeatTimeout:    cfg.HeartbeatTimeout,
		cancelTimeout:       cfg.CancelTimeout,
		resumeTimeout:       cfg.ResumeTimeout,
		inbound:             cfg.Inbound,
		backpressure:        cfg.Backpressure,
	}
}

// Run blocks, driving missions for this robot until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msn, err := c.selectMission(ctx)
		if err != nil {
			c.logger.Warn("mission selection failed", zap.Error(err))
			msn = nil
		}
		if msn == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		if err := c.driveMission(ctx, msn); err != nil {
			c.logger.Error("mission drive exited with error", zap.String("mission", msn.Name), zap.Error(err))
		}
	}
}

// selectMission implements step 1 of spec.md §4.7: among this robot's
// not-yet-deleted, PENDING missions, pick the earliest deadline (nulls
// last), tie-broken by creation time. Missions whose deadline has already
// passed are finalized FAILED(deadline_exceeded) without dispatch.
//
// A mission left in RUNNING state for this robot takes priority over any
// PENDING candidate: the MissionLock is an in-memory lease, so a process
// restart clears it without clearing the mission's persisted RUNNING
// state. Resuming that mission first (rather than treating it as
// abandoned) is what lets driveMission reconstruct the interpreter from
// the mission's own node_status and continue it across the restart.
func (c *Controller) selectMission(ctx context.Context) (*store.Mission, error) {
	all, err := c.st.ListMissions(ctx, store.ListFilter{})
	if err != nil {
		return nil, err
	}

	for _, m := range all {
		if m.Spec.Robot != c.robotName {
			continue
		}
		if m.Lifecycle == store.LifecyclePendingDelete || m.Lifecycle == store.LifecycleCompleted {
			continue
		}
		if m.Status.State == store.MissionRunning {
			return m, nil
		}
	}

	var best *store.Mission
	for _, m := range all {
		if m.Spec.Robot != c.robotName {
			continue
		}
		if m.Lifecycle == store.LifecyclePendingDelete || m.Lifecycle == store.LifecycleCompleted {
			continue
		}
		if m.Status.State != store.MissionPending {
			continue
		}
		if m.Spec.Deadline != nil && m.Spec.Deadline.Before(time.Now()) {
			c.finalize(ctx, m, store.MissionFailed, "deadline_exceeded", nil)
			continue
		}
		if best == nil || betterCandidate(m, best) {
			best = m
		}
	}
	return best, nil
}

func betterCandidate(candidate, current *store.Mission) bool {
	cd, bd := candidate.Spec.Deadline, current.Spec.Deadline
	switch {
	case cd == nil && bd == nil:
		return candidate.CreatedTS.Before(current.CreatedTS)
	case cd == nil:
		return false
	case bd == nil:
		return true
	case !cd.Equal(*bd):
		return cd.Before(*bd)
	default:
		return candidate.CreatedTS.Before(current.CreatedTS)
	}
}

// driveMission runs steps 2-6 of spec.md §4.7 for one mission to
// completion, cancellation, or failure.
func (c *Controller) driveMission(ctx context.Context, msn *store.Mission) error {
	tree, err := mission.Validate(&msn.Spec)
	if err != nil {
		c.finalize(ctx, msn, store.MissionFailed, "validation_error", nil)
		return nil
	}
	if !c.lock.Acquire(c.robotName, msn.Name) {
		return fmt.Errorf("mission lock held by another mission for robot %s", c.robotName)
	}
	defer c.lock.Release(c.robotName, msn.Name)
	// Discard a backpressure signal left over from before this mission.
	select {
	case <-c.backpressure:
	default:
	}
	c.sup.SetMissionRunning(c.robotName, true)
	defer c.sup.SetMissionRunning(c.robotName, false)

	// Resuming a mission that selectMission found already RUNNING (a
	// controller restart mid-mission): keep the original start time for
	// the timeout deadline and restore completed leaves' outcomes so they
	// are not redispatched. A leaf that was RUNNING at restart time is
	// deliberately left IDLE here — with no persisted attempt counter the
	// safe choice is to redispatch it under its deterministic orderId
	// rather than wait forever for an outcome that can no longer be
	// correlated to a live order.
	resuming := msn.Status.State == store.MissionRunning
	now := time.Now()
	if !resuming {
		msn.Status.StartTS = &now
	}
	msn.Status.State = store.MissionRunning
	if err := c.patchMissionStatus(ctx, msn); err != nil {
		c.logger.Warn("failed to persist RUNNING transition", zap.Error(err))
	}

	deadlineTimeout := time.Duration(msn.Spec.TimeoutS) * time.Second
	deadlineBase := now
	if resuming && msn.Status.StartTS != nil {
		deadlineBase = *msn.Status.StartTS
	}
	timeoutAt := deadlineBase.Add(deadlineTimeout)

	in := mission.NewInterpreter(tree)
	var resumeDeadline time.Time
	if resuming {
		in.RestoreState(msn.Status.NodeStatus)
		resumeDeadline = time.Now().Add(c.resumeTimeout)
		c.logger.Info("resumed in-flight mission", zap.String("mission", msn.Name), zap.String("robot", c.robotName))
	}
	attempts := make(map[string]int)
	var current *order.LeafOrder
	var currentLeafName string
	cancelRequested := false
	var cancelDeadline time.Time

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		c.lock.Renew(c.robotName, msn.Name)

		if time.Now().After(timeoutAt) {
			c.finalize(ctx, msn, store.MissionFailed, "timeout", in)
			return nil
		}

		status, tracked := c.sup.Status(c.robotName)
		// Silence is counted from the later of the robot's last frame and
		// the moment this mission started driving, so a robot that has not
		// reported since registration still gets a full heartbeat window.
		offlineSince := status.LastSeenTS
		if offlineSince.Before(now) {
			offlineSince = now
		}
		if tracked && !status.Online && time.Since(offlineSince) > c.heartbeatTimeout() {
			c.finalize(ctx, msn, store.MissionFailed, "robot_unavailable", in)
			return nil
		}

		if fresh, err := c.st.GetMission(ctx, msn.Name); err == nil {
			msn.Spec.NeedsCanceled = fresh.Spec.NeedsCanceled
			msn.Lifecycle = fresh.Lifecycle
			current = c.applyTreeUpdates(ctx, msn, fresh, tree, in, currentLeafName, current, status)
		}

		if msn.Spec.NeedsCanceled && !cancelRequested {
			if _, err := c.cancel.Request(ctx, c.pub, c.instantActionsTopic, c.codec, c.robotName, msn.Name); err != nil {
				c.logger.Warn("cancel publish failed", zap.Error(err))
			} else {
				cancelRequested = true
				cancelDeadline = time.Now().Add(c.cancelTimeout)
			}
		}

		if current == nil && !cancelRequested {
			if leaf, ok := in.NextLeaf(); ok {
				currentLeafName = leaf
				current = c.dispatchLeaf(ctx, msn.Name, leaf, tree, attempts, status)
				msn.Status.CurrentNode = leaf
			} else if terminal := in.RootState(); terminal == store.NodeSuccess || terminal == store.NodeFailure {
				outcome := store.MissionCompleted
				errCode := ""
				if terminal == store.NodeFailure {
					outcome = store.MissionFailed
					errCode = "node_failed"
				}
				c.finalize(ctx, msn, outcome, errCode, in)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.backpressure:
			c.finalize(ctx, msn, store.MissionFailed, "transport_backpressure", in)
			return nil
		case st := <-c.inbound:
			c.sup.ApplyState(c.robotName, st)
			resuming = false

			if cancelRequested && c.cancel.Acked(c.robotName, st) {
				c.cancel.Release(c.robotName)
				c.finalize(ctx, msn, store.MissionCanceled, "", in)
				return nil
			}
			if current != nil {
				var outcome order.Outcome
				var code string
				if current.Kind == store.NodeRoute {
					outcome, code = current.CheckRoute(st)
				} else {
					outcome, code = current.CheckAction(st)
				}
				if outcome != order.Pending {
					execState := store.NodeSuccess
					if outcome == order.Failure {
						execState = store.NodeFailure
					}
					in.Propagate(currentLeafName, execState, code)
					current = nil
				}
			}
		case <-ticker.C:
			if resuming && !resumeDeadline.IsZero() && time.Now().After(resumeDeadline) {
				c.logger.Warn("lost_on_restart: robot produced no state within resume bound", zap.String("mission", msn.Name))
				c.finalize(ctx, msn, store.MissionFailed, "lost_on_restart", in)
				return nil
			}
			if cancelRequested && !cancelDeadline.IsZero() && time.Now().After(cancelDeadline) {
				c.logger.Warn("cancel_failed: robot did not ack within bound", zap.String("mission", msn.Name))
				c.cancel.Release(c.robotName)
				c.finalize(ctx, msn, store.MissionCanceled, "cancel_failed", in)
				return nil
			}
			msn.Status.NodeStatus = in.NodeStatuses()
			if err := c.patchMissionStatus(ctx, msn); err != nil {
				c.logger.Debug("periodic status patch failed, will retry", zap.Error(err))
				if fresh, gerr := c.st.GetMission(ctx, msn.Name); gerr == nil {
					msn.Version = fresh.Version
				}
			}
		}
	}
}

// applyTreeUpdates folds a fresh read of mission.spec.mission_tree into the
// held tree, implementing the Update path of spec.md §4.5/§4.6 rule 7: a
// route node's waypoints may be replaced while the node has not yet
// resolved, re-issuing the in-flight Order with orderUpdateId incremented
// when the changed node is the one currently dispatched. An update to a
// route node that has already resolved (SUCCESS or FAILURE) is rejected
// and the mission continues unchanged, per spec.md §8.
func (c *Controller) applyTreeUpdates(ctx context.Context, msn *store.Mission, fresh *store.Mission, tree *mission.Tree, in *mission.Interpreter, currentLeafName string, current *order.LeafOrder, status store.RobotStatus) *order.LeafOrder {
	statuses := in.NodeStatuses()
	for _, fn := range fresh.Spec.MissionTree {
		if fn.Kind != store.NodeRoute || fn.Name == "" {
			continue
		}
		node, ok := tree.Nodes[fn.Name]
		if !ok || node.Kind != store.NodeRoute {
			continue
		}
		if waypointsEqual(node.Route.Waypoints, fn.Route.Waypoints) {
			continue
		}
		if ns, tracked := statuses[fn.Name]; tracked && (ns.State == store.NodeSuccess || ns.State == store.NodeFailure) {
			c.logger.Warn("validation_error: rejected waypoint update to a completed route node",
				zap.String("mission", msn.Name), zap.String("node", fn.Name))
			continue
		}

		node.Route.Waypoints = fn.Route.Waypoints
		if fn.Name != currentLeafName || current == nil {
			continue
		}

		lastSeq := c.sup.LastNodeSequenceID(c.robotName)
		wireOrder, lo := c.seq.BuildUpdate(current, fn.Name, fn.Route.Waypoints, status.Pose.MapID, lastSeq)
		payload, err := c.codec.EncodeOrder(wireOrder)
		if err != nil {
			c.logger.Error("failed to encode order update", zap.Error(err))
			continue
		}
		if err := c.pub.Publish(ctx, c.orderTopic, payload); err != nil {
			c.logger.Warn("order update publish failed", zap.Error(err))
		}
		current = lo
		c.logger.Info("applied waypoint update to in-flight route",
			zap.String("mission", msn.Name), zap.String("node", fn.Name))
	}
	return current
}

func waypointsEqual(a, b []store.Waypoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (c *Controller) dispatchLeaf(ctx context.Context, missionName, leaf string, tree *mission.Tree, attempts map[string]int, status store.RobotStatus) *order.LeafOrder {
	node := tree.Nodes[leaf]
	attempt := attempts[leaf]
	attempts[leaf] = attempt + 1
	orderID := order.OrderID(missionName, leaf, attempt)

	var wireOrder *vda5050.Order
	var lo *order.LeafOrder
	lastSeq := c.sup.LastNodeSequenceID(c.robotName)

	switch node.Kind {
	case store.NodeRoute:
		wireOrder, lo = c.seq.BuildRoute(orderID, missionName, leaf, node.Route.Waypoints, status.Pose.MapID, lastSeq)
	case store.NodeAction:
		wireOrder, lo = c.seq.BuildAction(orderID, leaf, node.Action.ActionType, node.Action.ActionParameters, status.Pose.MapID, lastSeq)
	default:
		return nil
	}

	payload, err := c.codec.EncodeOrder(wireOrder)
	if err != nil {
		c.logger.Error("failed to encode order", zap.Error(err))
		return nil
	}
	if err := c.pub.Publish(ctx, c.orderTopic, payload); err != nil {
		c.logger.Warn("order publish failed, will be requeued on reconnect", zap.Error(err))
	}
	return lo
}

func (c *Controller) patchMissionStatus(ctx context.Context, msn *store.Mission) error {
	err := c.st.PatchMissionStatus(ctx, msn.Name, msn.Version, msn.Status)
	if errors.Is(err, store.ErrVersionConflict) {
		if fresh, gerr := c.st.GetMission(ctx, msn.Name); gerr == nil {
			msn.Version = fresh.Version
			return c.st.PatchMissionStatus(ctx, msn.Name, msn.Version, msn.Status)
		}
	}
	return err
}

func (c *Controller) finalize(ctx context.Context, msn *store.Mission, state store.MissionState, errCode string, in *mission.Interpreter) {
	now := time.Now()
	failingNode := msn.Status.CurrentNode
	msn.Status.State = state
	msn.Status.EndTS = &now
	if in != nil {
		msn.Status.NodeStatus = in.NodeStatuses()
	}
	if errCode != "" && msn.Status.NodeStatus != nil && failingNode != "" {
		ns := msn.Status.NodeStatus[failingNode]
		ns.Error = errCode
		msn.Status.NodeStatus[failingNode] = ns
	}
	msn.Status.CurrentNode = ""
	if err := c.patchMissionStatus(ctx, msn); err != nil {
		c.logger.Error("failed to persist mission finalization", zap.String("mission", msn.Name), zap.Error(err))
	}
	c.sup.SetLastMission(c.robotName, msn.Name)
	c.logger.Info("mission finalized", zap.String("mission", msn.Name), zap.String("state", string(state)))
}
