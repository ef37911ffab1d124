package order

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amr-saas/missiondispatch/internal/transport"
	"github.com/amr-saas/missiondispatch/internal/vda5050"
)

// CancelCoordinator tracks in-flight cancel requests per robot, adapted
// from the teacher's safety/estop.go Activate/IsActive/Release map shape:
// there it latched an emergency-stop flag per robot id, here it latches
// "a cancelOrder InstantActions is outstanding for this robot's current
// mission" until the robot acks it or the bound (rule 6, default 15s)
// expires.
type CancelCoordinator struct {
	mu     sync.RWMutex
	active map[string]string // robot -> cancel actionId awaited
	logger *zap.Logger
}

// NewCancelCoordinator returns an empty coordinator.
func NewCancelCoordinator(logger *zap.Logger) *CancelCoordinator {
	return &CancelCoordinator{active: make(map[string]string), logger: logger}
}

// Request publishes a cancelOrder InstantActions to robot via pub and
// latches the cancel actionId as outstanding.
func (c *CancelCoordinator) Request(ctx context.Context, pub transport.Publisher, topic string, codec *vda5050.Codec, robot, missionName string) (actionID string, err error) {
	actionID = missionName + "-cancel"
	ia := &vda5050.InstantActions{
		Actions: []vda5050.Action{{
			ActionID:     actionID,
			ActionType:   "cancelOrder",
			BlockingType: vda5050.BlockingHard,
		}},
	}
	payload, err := codec.EncodeInstantActions(ia)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.active[robot] = actionID
	c.mu.Unlock()

	c.logger.Warn("cancel requested", zap.String("robot", robot), zap.String("mission", missionName))
	return actionID, pub.Publish(ctx, topic, payload)
}

// IsActive reports whether robot has an outstanding cancel.
func (c *CancelCoordinator) IsActive(robot string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.active[robot]
	return ok
}

// Release clears the outstanding cancel for robot, called once the
// mission has been finalized CANCELED (whether acked cleanly or escalated
// to cancel_failed).
func (c *CancelCoordinator) Release(robot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, robot)
}

// Acked reports whether st carries a FINISHED actionStatus for robot's
// outstanding cancel action.
func (c *CancelCoordinator) Acked(robot string, st *vda5050.State) bool {
	c.mu.RLock()
	actionID, ok := c.active[robot]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	for _, as := range st.ActionStates {
		if as.ActionID == actionID && as.ActionStatus == vda5050.ActionFinished {
			return true
		}
	}
	return false
}

// DefaultCancelTimeout is the rule-6 default cancel-ack bound.
const DefaultCancelTimeout = 15 * time.Second
