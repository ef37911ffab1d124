package controller

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/amr-saas/missiondispatch/internal/order"
	"github.com/amr-saas/missiondispatch/internal/robot"
	"github.com/amr-saas/missiondispatch/internal/store"
	"github.com/amr-saas/missiondispatch/internal/transport"
	"github.com/amr-saas/missiondispatch/internal/vda5050"
)

// TestControllerCompletesSimpleRoute mirrors S1: a single route leaf
// completes once the robot reports reaching the final waypoint.
func TestControllerCompletesSimpleRoute(t *testing.T) {
	logger := zap.NewNop()
	st := store.NewMemoryClient()
	pub := transport.NewMockPublisher()
	sup := robot.NewSupervisor(logger)
	sup.Register("carter01")

	st.PutRobot(&store.Robot{Envelope: store.Envelope{Name: "carter01"}, Status: store.RobotStatus{Online: true, State: store.RobotIdle}})

	msnSpec := store.MissionSpec{
		Robot:    "carter01",
		TimeoutS: 5,
		MissionTree: []store.MissionNode{{
			Name: "leg1", Parent: "root", Kind: store.NodeRoute,
		}},
	}
	msnSpec.MissionTree[0].Route.Waypoints = []store.Waypoint{{X: 1.5, Y: 1.5, MapID: "map"}, {X: 3.3, Y: 2.1, MapID: "map"}}
	st.PutMission(&store.Mission{
		Envelope: store.Envelope{Name: "M1", Lifecycle: store.LifecycleCreated},
		Spec:     msnSpec,
		Status:   store.MissionStatus{State: store.MissionPending},
	})

	inbound := make(chan *vda5050.State, 4)
	c := New(Config{
		RobotName:           "carter01",
		Store:               st,
		Publisher:           pub,
		Codec:               vda5050.NewCodec("v1", "generic", "carter01"),
		OrderTopic:          "uagv/v1/generic/carter01/order",
		InstantActionsTopic: "uagv/v1/generic/carter01/instantActions",
		Supervisor:          sup,
		Lock:                NewMissionLock(30*time.Second, logger),
		Cancel:              order.NewCancelCoordinator(logger),
		HeartbeatTimeout:    func() time.Duration { return 30 * time.Second },
		CancelTimeout:       15 * time.Second,
		Inbound:             inbound,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	// Wait for the Order to be published, then report completion.
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := pub.Last(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for order to be published")
		case <-time.After(10 * time.Millisecond):
		}
	}

	inbound <- &vda5050.State{OrderID: order.OrderID("M1", "leg1", 0), LastNodeSequenceID: 4}

	for i := 0; i < 200; i++ {
		m, err := st.GetMission(context.Background(), "M1")
		if err == nil && m.Status.State == store.MissionCompleted {
			cancel()
			<-done
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("mission did not complete in time")
}

// TestControllerAppliesWaypointUpdateToInFlightRoute covers spec.md
// §4.5/§4.6 rule 7: replacing an in-flight route node's waypoints
// re-issues its Order with orderUpdateId incremented and orderId preserved.
func TestControllerAppliesWaypointUpdateToInFlightRoute(t *testing.T) {
	logger := zap.NewNop()
	st := store.NewMemoryClient()
	pub := transport.NewMockPublisher()
	sup := robot.NewSupervisor(logger)
	sup.Register("carter01")

	st.PutRobot(&store.Robot{Envelope: store.Envelope{Name: "carter01"}, Status: store.RobotStatus{Online: true, State: store.RobotIdle}})

	msnSpec := store.MissionSpec{
		Robot:    "carter01",
		TimeoutS: 5,
		MissionTree: []store.MissionNode{{
			Name: "leg1", Parent: "root", Kind: store.NodeRoute,
		}},
	}
	msnSpec.MissionTree[0].Route.Waypoints = []store.Waypoint{{X: 1, Y: 1, MapID: "map"}}
	st.PutMission(&store.Mission{
		Envelope: store.Envelope{Name: "M2", Lifecycle: store.LifecycleCreated},
		Spec:     msnSpec,
		Status:   store.MissionStatus{State: store.MissionPending},
	})

	inbound := make(chan *vda5050.State, 4)
	c := New(Config{
		RobotName:           "carter01",
		Store:               st,
		Publisher:           pub,
		Codec:               vda5050.NewCodec("v1", "generic", "carter01"),
		OrderTopic:          "uagv/v1/generic/carter01/order",
		InstantActionsTopic: "uagv/v1/generic/carter01/instantActions",
		Supervisor:          sup,
		Lock:                NewMissionLock(30*time.Second, logger),
		Cancel:              order.NewCancelCoordinator(logger),
		HeartbeatTimeout:    func() time.Duration { return 30 * time.Second },
		CancelTimeout:       15 * time.Second,
		Inbound:             inbound,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	defer func() { cancel(); <-done }()

	deadline := time.After(2 * time.Second)
	for {
		if len(pub.Published()) >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the initial order to be published")
		case <-time.After(10 * time.Millisecond):
		}
	}

	fresh, err := st.GetMission(context.Background(), "M2")
	if err != nil {
		t.Fatalf("GetMission: %v", err)
	}
	fresh.Spec.MissionTree[0].Route.Waypoints = []store.Waypoint{{X: 1, Y: 1, MapID: "map"}, {X: 9, Y: 9, MapID: "map"}}
	st.PutMission(fresh)

	deadline = time.After(2 * time.Second)
	for {
		if len(pub.Published()) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the order update to be published")
		case <-time.After(10 * time.Millisecond):
		}
	}

	msgs := pub.Published()
	var first, updated vda5050.Order
	if err := json.Unmarshal(msgs[0].Payload, &first); err != nil {
		t.Fatalf("decode first order: %v", err)
	}
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &updated); err != nil {
		t.Fatalf("decode updated order: %v", err)
	}
	if updated.OrderID != first.OrderID {
		t.Fatalf("expected orderId preserved across the update, got %s vs %s", updated.OrderID, first.OrderID)
	}
	if updated.OrderUpdateID != first.OrderUpdateID+1 {
		t.Fatalf("expected orderUpdateId to increment, got %d", updated.OrderUpdateID)
	}
	last := updated.Nodes[len(updated.Nodes)-1]
	if last.NodePosition.X != 9 || last.NodePosition.Y != 9 {
		t.Fatalf("expected the updated order's final node to carry the new waypoint, got %+v", last)
	}
}

// TestControllerFailsMissionOnBackpressureDrop covers spec.md §4.2/§7: a
// queue-overflow drop on the transport fails the robot's current mission
// with transport_backpressure.
func TestControllerFailsMissionOnBackpressureDrop(t *testing.T) {
	logger := zap.NewNop()
	st := store.NewMemoryClient()
	pub := transport.NewMockPublisher()
	sup := robot.NewSupervisor(logger)
	sup.Register("carter01")

	st.PutRobot(&store.Robot{Envelope: store.Envelope{Name: "carter01"}, Status: store.RobotStatus{Online: true, State: store.RobotIdle}})

	msnSpec := store.MissionSpec{
		Robot:    "carter01",
		TimeoutS: 5,
		MissionTree: []store.MissionNode{{
			Name: "leg1", Parent: "root", Kind: store.NodeRoute,
		}},
	}
	msnSpec.MissionTree[0].Route.Waypoints = []store.Waypoint{{X: 1, Y: 1, MapID: "map"}}
	st.PutMission(&store.Mission{
		Envelope: store.Envelope{Name: "M3", Lifecycle: store.LifecycleCreated},
		Spec:     msnSpec,
		Status:   store.MissionStatus{State: store.MissionPending},
	})

	inbound := make(chan *vda5050.State, 4)
	backpressure := make(chan struct{}, 1)
	c := New(Config{
		RobotName:           "carter01",
		Store:               st,
		Publisher:           pub,
		Codec:               vda5050.NewCodec("v1", "generic", "carter01"),
		OrderTopic:          "uagv/v1/generic/carter01/order",
		InstantActionsTopic: "uagv/v1/generic/carter01/instantActions",
		Supervisor:          sup,
		Lock:                NewMissionLock(30*time.Second, logger),
		Cancel:              order.NewCancelCoordinator(logger),
		HeartbeatTimeout:    func() time.Duration { return 30 * time.Second },
		CancelTimeout:       15 * time.Second,
		Inbound:             inbound,
		Backpressure:        backpressure,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := pub.Last(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for order to be published")
		case <-time.After(10 * time.Millisecond):
		}
	}

	backpressure <- struct{}{}

	for i := 0; i < 200; i++ {
		m, err := st.GetMission(context.Background(), "M3")
		if err == nil && m.Status.State == store.MissionFailed {
			if m.Status.NodeStatus["leg1"].Error != "transport_backpressure" {
				t.Fatalf("expected transport_backpressure attached to leg1, got %+v", m.Status.NodeStatus)
			}
			cancel()
			<-done
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("mission did not fail with transport_backpressure in time")
}

// TestControllerFailsLostOnRestart covers spec.md §4.8/§7 scenario S6: a
// mission resumed RUNNING after a controller restart fails with
// lost_on_restart if the robot never produces a State within the resume
// bound.
func TestControllerFailsLostOnRestart(t *testing.T) {
	logger := zap.NewNop()
	st := store.NewMemoryClient()
	pub := transport.NewMockPublisher()
	sup := robot.NewSupervisor(logger)
	sup.Register("carter01")

	st.PutRobot(&store.Robot{Envelope: store.Envelope{Name: "carter01"}, Status: store.RobotStatus{Online: true, State: store.RobotIdle}})

	msnSpec := store.MissionSpec{
		Robot:    "carter01",
		TimeoutS: 30,
		MissionTree: []store.MissionNode{{
			Name: "leg1", Parent: "root", Kind: store.NodeRoute,
		}},
	}
	msnSpec.MissionTree[0].Route.Waypoints = []store.Waypoint{{X: 1, Y: 1, MapID: "map"}}
	startTS := time.Now()
	st.PutMission(&store.Mission{
		Envelope: store.Envelope{Name: "M4", Lifecycle: store.LifecycleCreated},
		Spec:     msnSpec,
		Status:   store.MissionStatus{State: store.MissionRunning, StartTS: &startTS},
	})

	inbound := make(chan *vda5050.State, 4)
	c := New(Config{
		RobotName:           "carter01",
		Store:               st,
		Publisher:           pub,
		Codec:               vda5050.NewCodec("v1", "generic", "carter01"),
		OrderTopic:          "uagv/v1/generic/carter01/order",
		InstantActionsTopic: "uagv/v1/generic/carter01/instantActions",
		Supervisor:          sup,
		Lock:                NewMissionLock(30*time.Second, logger),
		Cancel:              order.NewCancelCoordinator(logger),
		HeartbeatTimeout:    func() time.Duration { return 30 * time.Second },
		CancelTimeout:       15 * time.Second,
		ResumeTimeout:       200 * time.Millisecond,
		Inbound:             inbound,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	for i := 0; i < 300; i++ {
		m, err := st.GetMission(context.Background(), "M4")
		if err == nil && m.Status.State == store.MissionFailed {
			if m.Status.NodeStatus["leg1"].Error != "lost_on_restart" {
				t.Fatalf("expected lost_on_restart attached to leg1, got %+v", m.Status.NodeStatus)
			}
			cancel()
			<-done
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("mission did not fail with lost_on_restart in time")
}
