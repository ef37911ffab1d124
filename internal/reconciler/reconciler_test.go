package reconciler

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/amr-saas/missiondispatch/internal/robot"
	"github.com/amr-saas/missiondispatch/internal/store"
)

func TestStatusFlusherCoalescesAndFlushes(t *testing.T) {
	st := store.NewMemoryClient()
	st.PutRobot(&store.Robot{Envelope: store.Envelope{Name: "amr-1"}})

	f := NewStatusFlusher(st, zap.NewNop())
	f.Enqueue("amr-1", store.RobotStatus{BatteryLevel: 0.2})
	f.Enqueue("amr-1", store.RobotStatus{BatteryLevel: 0.9}) // should coalesce: only latest wins

	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx)
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-f.done

	r, err := st.GetRobot(context.Background(), "amr-1")
	if err != nil {
		t.Fatalf("GetRobot: %v", err)
	}
	if r.Status.BatteryLevel != 0.9 {
		t.Fatalf("expected coalesced battery 0.9, got %v", r.Status.BatteryLevel)
	}
}

func TestResumeAllRegistersExistingRobots(t *testing.T) {
	st := store.NewMemoryClient()
	st.PutRobot(&store.Robot{Envelope: store.Envelope{Name: "amr-1"}})
	st.PutRobot(&store.Robot{Envelope: store.Envelope{Name: "amr-2"}})

	sup := robot.NewSupervisor(zap.NewNop())
	if err := ResumeAll(context.Background(), st, sup, zap.NewNop()); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}

	if _, ok := sup.Status("amr-1"); !ok {
		t.Fatal("expected amr-1 to be tracked after resume")
	}
	if _, ok := sup.Status("amr-2"); !ok {
		t.Fatal("expected amr-2 to be tracked after resume")
	}
}
