// Package order owns the mapping from an active mission leaf to VDA5050
// Orders for one robot (spec.md §4.6): orderId stability, sequenceId
// monotonicity, completion detection from incoming State, and the
// InstantActions-based cancel protocol.
package order

import (
	"crypto/sha1"
	"fmt"

	"github.com/google/uuid"

	"github.com/amr-saas/missiondispatch/internal/store"
	"github.com/amr-saas/missiondispatch/internal/vda5050"
)

// missionNamespace roots the deterministic orderId derivation so two
// distinct missions never collide even if a leaf name repeats.
var missionNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("missiondispatch.order"))

// LeafOrder tracks the in-flight VDA5050 Order for one mission leaf: its
// stable orderId, current orderUpdateId, and the set of nodeId/actionId
// the robot still needs to report before the leaf completes.
type LeafOrder struct {
	OrderID       string
	OrderUpdateID int64
	Kind          store.NodeKind

	expectedNodes   map[string]bool
	expectedActions map[string]bool
	finalWaypointSeq int64
}

// Sequencer is a per-robot instance; the controller keeps one per robot
// goroutine, matching the "no global scheduler" design (spec.md §4.7).
type Sequencer struct {
	codec *vda5050.Codec
}

// NewSequencer builds a Sequencer that stamps Orders using codec (shared
// per-robot header numbering).
func NewSequencer(codec *vda5050.Codec) *Sequencer {
	return &Sequencer{codec: codec}
}

// OrderID derives the stable, deterministic orderId for one leaf instance
// (mission+node+attempt): deriving it again for the same attempt (for
// example after a restart) yields the same orderId, while each new attempt
// of the leaf gets a different one.
func OrderID(mission, leaf string, attempt int) string {
	data := []byte(fmt.Sprintf("%s/%s/%d", mission, leaf, attempt))
	h := sha1.Sum(data) //nolint:gosec // identifier derivation, not a security boundary
	return uuid.NewSHA1(missionNamespace, h[:]).String()
}

// BuildRoute constructs the Order for a route leaf: node 0 is the robot's
// current, unreleased pose at lastNodeSeq; each waypoint becomes a
// released node at lastNodeSeq+2k, joined by released edges at the odd
// offsets (rule 2), carrying no actions (rule 4).
func (s *Sequencer) BuildRoute(orderID, mission, leaf string, waypoints []store.Waypoint, currentMapID string, lastNodeSeq int64) (*vda5050.Order, *LeafOrder) {
	nodes := []vda5050.Node{currentPoseNode(lastNodeSeq, currentMapID)}
	var edges []vda5050.Edge
	expected := make(map[string]bool, len(waypoints))

	prevNodeID := nodes[0].NodeID
	for i, wp := range waypoints {
		seq := lastNodeSeq + int64(2*(i+1))
		nodeID := fmt.Sprintf("%s-wp-%d", leaf, i)
		nodes = append(nodes, vda5050.Node{
			NodeID:     nodeID,
			SequenceID: seq,
			Released:   true,
			NodePosition: vda5050.NodePosition{X: wp.X, Y: wp.Y, Theta: wp.Theta, MapID: wp.MapID},
		})
		edges = append(edges, vda5050.Edge{
			EdgeID:      fmt.Sprintf("%s-edge-%d", leaf, i),
			SequenceID:  seq - 1,
			Released:    true,
			StartNodeID: prevNodeID,
			EndNodeID:   nodeID,
		})
		prevNodeID = nodeID
		expected[nodeID] = true
	}

	o := &vda5050.Order{
		OrderID:       orderID,
		OrderUpdateID: 0,
		Nodes:         nodes,
		Edges:         edges,
	}
	lo := &LeafOrder{
		OrderID: orderID, Kind: store.NodeRoute,
		expectedNodes:    expected,
		finalWaypointSeq: lastNodeSeq + int64(2*len(waypoints)),
	}
	return o, lo
}

// BuildUpdate re-issues orderID with orderUpdateID incremented, keeping
// released nodes at or before lastNodeSeq and appending the new waypoint
// tail (rule 7); per Open Question 2's resolution, updates never shrink
// the already-released set.
func (s *Sequencer) BuildUpdate(prev *LeafOrder, leaf string, newTail []store.Waypoint, currentMapID string, lastNodeSeq int64) (*vda5050.Order, *LeafOrder) {
	nodes := []vda5050.Node{currentPoseNode(lastNodeSeq, currentMapID)}
	var edges []vda5050.Edge
	expected := make(map[string]bool, len(newTail))

	prevNodeID := nodes[0].NodeID
	for i, wp := range newTail {
		seq := lastNodeSeq + int64(2*(i+1))
		nodeID := fmt.Sprintf("%s-wp-u%d-%d", leaf, prev.OrderUpdateID+1, i)
		nodes = append(nodes, vda5050.Node{
			NodeID:     nodeID,
			SequenceID: seq,
			Released:   true,
			NodePosition: vda5050.NodePosition{X: wp.X, Y: wp.Y, Theta: wp.Theta, MapID: wp.MapID},
		})
		edges = append(edges, vda5050.Edge{
			EdgeID:      fmt.Sprintf("%s-edge-u%d-%d", leaf, prev.OrderUpdateID+1, i),
			SequenceID:  seq - 1,
			Released:    true,
			StartNodeID: prevNodeID,
			EndNodeID:   nodeID,
		})
		prevNodeID = nodeID
		expected[nodeID] = true
	}

	o := &vda5050.Order{
		OrderID:       prev.OrderID,
		OrderUpdateID: prev.OrderUpdateID + 1,
		Nodes:         nodes,
		Edges:         edges,
	}
	lo := &LeafOrder{
		OrderID: prev.OrderID, OrderUpdateID: prev.OrderUpdateID + 1, Kind: store.NodeRoute,
		expectedNodes:    expected,
		finalWaypointSeq: lastNodeSeq + int64(2*len(newTail)),
	}
	return o, lo
}

// BuildAction constructs the Order for an action leaf: a single
// unreleased current-pose node carrying the action with blockingType HARD
// (rule 4).
func (s *Sequencer) BuildAction(orderID, leaf, actionType string, params map[string]interface{}, currentMapID string, lastNodeSeq int64) (*vda5050.Order, *LeafOrder) {
	actionID := leaf + "-action"
	node := currentPoseNode(lastNodeSeq, currentMapID)
	node.Actions = []vda5050.Action{{
		ActionID:         actionID,
		ActionType:       actionType,
		BlockingType:     vda5050.BlockingHard,
		ActionParameters: params,
	}}

	o := &vda5050.Order{
		OrderID:       orderID,
		OrderUpdateID: 0,
		Nodes:         []vda5050.Node{node},
	}
	lo := &LeafOrder{
		OrderID: orderID, Kind: store.NodeAction,
		expectedActions: map[string]bool{actionID: true},
	}
	return o, lo
}

func currentPoseNode(lastNodeSeq int64, mapID string) vda5050.Node {
	return vda5050.Node{
		NodeID:       "current-pose",
		SequenceID:   lastNodeSeq,
		Released:     false,
		NodePosition: vda5050.NodePosition{MapID: mapID},
	}
}

// Outcome is the result of folding an incoming State into an in-flight
// LeafOrder.
type Outcome int

const (
	// Pending means the leaf has not yet completed or failed.
	Pending Outcome = iota
	Success
	Failure
)

// CheckRoute folds a State update into a route LeafOrder per the rule in
// §4.5: FAILURE if the State reports any FAILED action or any FATAL-level
// error (errors are not matched to individual nodes, and WARNING-level
// errors are ignored); otherwise SUCCESS once lastNodeSequenceId has
// reached the final waypoint's sequenceId.
func (lo *LeafOrder) CheckRoute(st *vda5050.State) (Outcome, string) {
	if st.OrderID != lo.OrderID {
		return Pending, ""
	}
	for _, as := range st.ActionStates {
		if as.ActionStatus == vda5050.ActionFailed {
			return Failure, "node_failed"
		}
	}
	for _, e := range st.Errors {
		if e.ErrorLevel == "FATAL" {
			return Failure, "node_failed"
		}
	}
	if st.LastNodeSequenceID >= lo.finalWaypointSeq {
		return Success, ""
	}
	return Pending, ""
}

// CheckAction folds a State update into an action LeafOrder: SUCCESS iff
// the action's actionStatus is FINISHED, FAILURE iff FAILED.
func (lo *LeafOrder) CheckAction(st *vda5050.State) (Outcome, string) {
	if st.OrderID != lo.OrderID {
		return Pending, ""
	}
	for _, as := range st.ActionStates {
		if !lo.expectedActions[as.ActionID] {
			continue
		}
		switch as.ActionStatus {
		case vda5050.ActionFinished:
			return Success, ""
		case vda5050.ActionFailed:
			return Failure, "action_failed"
		}
	}
	return Pending, ""
}
