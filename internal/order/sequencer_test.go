package order

import (
	"testing"

	"github.com/amr-saas/missiondispatch/internal/store"
	"github.com/amr-saas/missiondispatch/internal/vda5050"
)

func TestOrderIDStableAcrossRetries(t *testing.T) {
	a := OrderID("M1", "leg1", 0)
	b := OrderID("M1", "leg1", 0)
	c := OrderID("M1", "leg1", 1)
	if a != b {
		t.Fatalf("expected same orderId for identical mission/leaf/attempt, got %s vs %s", a, b)
	}
	if a == c {
		t.Fatal("expected a different orderId for a new attempt")
	}
}

func TestBuildRouteSequenceIdsAreMonotonic(t *testing.T) {
	s := NewSequencer(vda5050.NewCodec("v1", "generic", "carter01"))
	waypoints := []store.Waypoint{{X: 1.5, Y: 1.5, MapID: "map"}, {X: 3.3, Y: 2.1, MapID: "map"}}

	o, lo := s.BuildRoute("order-1", "M1", "leg1", waypoints, "map", 0)

	if len(o.Nodes) != 3 {
		t.Fatalf("expected current pose + 2 waypoints, got %d nodes", len(o.Nodes))
	}
	if o.Nodes[0].SequenceID != 0 || o.Nodes[0].Released {
		t.Fatalf("expected unreleased current-pose node at seq 0, got %+v", o.Nodes[0])
	}
	if o.Nodes[1].SequenceID != 2 || o.Nodes[2].SequenceID != 4 {
		t.Fatalf("expected even sequenceIds 2,4 for waypoints, got %d,%d", o.Nodes[1].SequenceID, o.Nodes[2].SequenceID)
	}
	if len(o.Edges) != 2 || o.Edges[0].SequenceID != 1 || o.Edges[1].SequenceID != 3 {
		t.Fatalf("expected odd sequenceIds 1,3 for edges, got %+v", o.Edges)
	}
	if lo.finalWaypointSeq != 4 {
		t.Fatalf("expected final waypoint seq 4, got %d", lo.finalWaypointSeq)
	}
}

func TestCheckRouteSuccessOnFinalSequenceReached(t *testing.T) {
	s := NewSequencer(vda5050.NewCodec("v1", "generic", "carter01"))
	waypoints := []store.Waypoint{{X: 1.5, Y: 1.5, MapID: "map"}, {X: 3.3, Y: 2.1, MapID: "map"}}
	_, lo := s.BuildRoute("order-1", "M1", "leg1", waypoints, "map", 0)

	outcome, _ := lo.CheckRoute(&vda5050.State{OrderID: "order-1", LastNodeSequenceID: 4})
	if outcome != Success {
		t.Fatalf("expected Success, got %v", outcome)
	}
}

func TestCheckRouteFailureOnReportedError(t *testing.T) {
	s := NewSequencer(vda5050.NewCodec("v1", "generic", "carter01"))
	waypoints := []store.Waypoint{{X: 1, Y: 1, MapID: "map"}}
	_, lo := s.BuildRoute("order-1", "M1", "leg1", waypoints, "map", 0)

	outcome, code := lo.CheckRoute(&vda5050.State{
		OrderID: "order-1",
		Errors:  []vda5050.StateError{{ErrorType: "obstacle", ErrorLevel: "FATAL"}},
	})
	if outcome != Failure || code != "node_failed" {
		t.Fatalf("expected Failure/node_failed, got %v/%s", outcome, code)
	}
}

func TestBuildUpdatePreservesOrderIDAndBumpsUpdateID(t *testing.T) {
	s := NewSequencer(vda5050.NewCodec("v1", "generic", "carter01"))
	waypoints := []store.Waypoint{{X: 1, Y: 1, MapID: "map"}}
	_, prev := s.BuildRoute("order-1", "M1", "leg1", waypoints, "map", 0)

	newTail := []store.Waypoint{{X: 2, Y: 2, MapID: "map"}, {X: 3, Y: 3, MapID: "map"}}
	o, lo := s.BuildUpdate(prev, "leg1", newTail, "map", 0)

	if o.OrderID != prev.OrderID {
		t.Fatalf("expected orderId to be preserved, got %s vs %s", o.OrderID, prev.OrderID)
	}
	if o.OrderUpdateID != prev.OrderUpdateID+1 {
		t.Fatalf("expected orderUpdateId to increment, got %d", o.OrderUpdateID)
	}
	if lo.finalWaypointSeq != 4 {
		t.Fatalf("expected final waypoint seq 4 for the new tail, got %d", lo.finalWaypointSeq)
	}
	outcome, _ := lo.CheckRoute(&vda5050.State{OrderID: prev.OrderID, LastNodeSequenceID: 4})
	if outcome != Success {
		t.Fatalf("expected the updated leaf order to resolve on the new tail's sequenceId, got %v", outcome)
	}
}

func TestCheckActionOutcomes(t *testing.T) {
	s := NewSequencer(vda5050.NewCodec("v1", "generic", "carter01"))
	_, lo := s.BuildAction("order-2", "dummy", "dummy_action", map[string]interface{}{"should_fail": 1}, "map", 0)

	outcome, _ := lo.CheckAction(&vda5050.State{
		OrderID:      "order-2",
		ActionStates: []vda5050.ActionState{{ActionID: "dummy-action", ActionStatus: vda5050.ActionFailed}},
	})
	if outcome != Failure {
		t.Fatalf("expected Failure, got %v", outcome)
	}
}
