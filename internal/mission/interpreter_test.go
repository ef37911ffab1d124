package mission

import (
	"testing"

	"github.com/amr-saas/missiondispatch/internal/store"
)

func routeSpec(name, parent string) store.MissionNode {
	n := store.MissionNode{Name: name, Parent: parent, Kind: store.NodeRoute}
	n.Route.Waypoints = []store.Waypoint{{X: 1, Y: 1}}
	return n
}

func actionSpec(name, parent, actionType string) store.MissionNode {
	n := store.MissionNode{Name: name, Parent: parent, Kind: store.NodeAction}
	n.Action.ActionType = actionType
	return n
}

func TestValidateRejectsCycle(t *testing.T) {
	spec := &store.MissionSpec{
		Robot:    "carter01",
		TimeoutS: 60,
		MissionTree: []store.MissionNode{
			{Name: "a", Parent: "b", Kind: store.NodeSequence},
			{Name: "b", Parent: "a", Kind: store.NodeSequence},
		},
	}
	if _, err := Validate(spec); err == nil {
		t.Fatal("expected cycle to be rejected")
	}
}

func TestValidateAssignsIndexNameWhenOmitted(t *testing.T) {
	spec := &store.MissionSpec{
		Robot:       "carter01",
		TimeoutS:    60,
		MissionTree: []store.MissionNode{routeSpec("", "")},
	}
	tree, err := Validate(spec)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, ok := tree.Nodes["0"]; !ok {
		t.Fatalf("expected node to be named by index, got %+v", tree.Order)
	}
}

// TestSequenceOfRoutesCompletesInOrder mirrors S1 (simple route): a single
// route leaf under the implicit root sequence completes the mission.
func TestSequenceOfRoutesCompletesInOrder(t *testing.T) {
	spec := &store.MissionSpec{
		Robot:       "carter01",
		TimeoutS:    60,
		MissionTree: []store.MissionNode{routeSpec("leg1", "root")},
	}
	tree, err := Validate(spec)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	in := NewInterpreter(tree)

	leaf, ok := in.NextLeaf()
	if !ok || leaf != "leg1" {
		t.Fatalf("expected leg1 dispatched, got %q ok=%v", leaf, ok)
	}
	in.Propagate("leg1", store.NodeSuccess, "")

	if _, ok := in.NextLeaf(); ok {
		t.Fatal("expected no further leaf after completion")
	}
	if in.RootState() != store.NodeSuccess {
		t.Fatalf("expected mission COMPLETED (root SUCCESS), got %s", in.RootState())
	}
}

// TestActionFailurePropagatesToFailure mirrors S2.
func TestActionFailurePropagatesToFailure(t *testing.T) {
	spec := &store.MissionSpec{
		Robot:       "carter01",
		TimeoutS:    60,
		MissionTree: []store.MissionNode{actionSpec("dummy", "root", "dummy_action")},
	}
	tree, err := Validate(spec)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	in := NewInterpreter(tree)

	leaf, _ := in.NextLeaf()
	in.Propagate(leaf, store.NodeFailure, "action_failed")

	if in.RootState() != store.NodeFailure {
		t.Fatalf("expected FAILURE, got %s", in.RootState())
	}
	statuses := in.NodeStatuses()
	if statuses["dummy"].Error != "action_failed" {
		t.Fatalf("expected node_status error action_failed, got %+v", statuses["dummy"])
	}
}

// TestSelectorFallbackSkipsSecondChildOnSuccess mirrors S3: a selector
// whose first child succeeds never dispatches the second child, and the
// selector itself reports SUCCESS even though a sibling action elsewhere
// in the tree later fails the mission.
func TestSelectorFallbackSkipsSecondChildOnSuccess(t *testing.T) {
	spec := &store.MissionSpec{
		Robot:    "carter01",
		TimeoutS: 60,
		MissionTree: []store.MissionNode{
			{Name: "route_fallback", Parent: "root", Kind: store.NodeSelector},
			routeSpec("goto_dropoff", "route_fallback"),
			routeSpec("goto_dropoff_seq", "route_fallback"),
			actionSpec("dropoff_book_at_goal", "root", "dropoff"),
		},
	}
	tree, err := Validate(spec)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	in := NewInterpreter(tree)

	leaf, ok := in.NextLeaf()
	if !ok || leaf != "goto_dropoff" {
		t.Fatalf("expected goto_dropoff first, got %q", leaf)
	}
	in.Propagate("goto_dropoff", store.NodeSuccess, "")

	leaf, ok = in.NextLeaf()
	if !ok || leaf != "dropoff_book_at_goal" {
		t.Fatalf("expected dropoff_book_at_goal next (goto_dropoff_seq skipped), got %q", leaf)
	}
	in.Propagate("dropoff_book_at_goal", store.NodeFailure, "action_failed")

	if in.RootState() != store.NodeFailure {
		t.Fatalf("expected mission FAILURE, got %s", in.RootState())
	}
	statuses := in.NodeStatuses()
	if statuses["route_fallback"].State != store.NodeSuccess {
		t.Fatalf("expected route_fallback SUCCESS, got %+v", statuses["route_fallback"])
	}
	if _, dispatched := statuses["goto_dropoff_seq"]; dispatched {
		t.Fatal("goto_dropoff_seq should never have been dispatched")
	}
}
