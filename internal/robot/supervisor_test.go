package robot

import (
	"testing"

	"go.uber.org/zap"

	"github.com/amr-saas/missiondispatch/internal/store"
	"github.com/amr-saas/missiondispatch/internal/vda5050"
)

func TestApplyStateMarksOnTaskOverLowBattery(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	s.Register("amr-1")
	s.SetBatteryCriticalLevel("amr-1", 0.5)
	s.SetMissionRunning("amr-1", true)

	s.ApplyState("amr-1", &vda5050.State{
		OrderID:      "order-1",
		NodeStates:   []vda5050.NodeState{{NodeID: "n1", SequenceID: 1}},
		BatteryState: vda5050.BatteryState{BatteryCharge: 0.2},
	})

	status, ok := s.Status("amr-1")
	if !ok {
		t.Fatal("expected robot to be tracked")
	}
	if status.State != store.RobotOnTask {
		t.Fatalf("expected ON_TASK (dominant over low battery), got %s", status.State)
	}
}

func TestApplyStateMarksChargingBelowCriticalLevel(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	s.Register("amr-1")
	s.SetBatteryCriticalLevel("amr-1", 0.5)

	s.ApplyState("amr-1", &vda5050.State{BatteryState: vda5050.BatteryState{BatteryCharge: 0.2}})

	status, _ := s.Status("amr-1")
	if status.State != store.RobotCharging {
		t.Fatalf("expected CHARGING below critical level, got %s", status.State)
	}
}

func TestApplyStateMarksIdleAboveCriticalLevel(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	s.Register("amr-1")
	s.SetBatteryCriticalLevel("amr-1", 0.2)

	s.ApplyState("amr-1", &vda5050.State{BatteryState: vda5050.BatteryState{BatteryCharge: 0.8}})

	status, _ := s.Status("amr-1")
	if status.State != store.RobotIdle {
		t.Fatalf("expected IDLE above critical level, got %s", status.State)
	}
}

func TestApplyStateClampsBattery(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	s.Register("amr-1")
	s.ApplyState("amr-1", &vda5050.State{BatteryState: vda5050.BatteryState{BatteryCharge: 1.7}})

	status, _ := s.Status("amr-1")
	if status.BatteryLevel != 1.0 {
		t.Fatalf("expected clamped battery 1.0, got %v", status.BatteryLevel)
	}
}

func TestMarkOfflineFlipsStatus(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	s.Register("amr-1")
	s.ApplyConnection("amr-1", &vda5050.Connection{ConnectionState: vda5050.ConnectionOnline})

	s.MarkOffline("amr-1")

	status, _ := s.Status("amr-1")
	if status.Online {
		t.Fatal("expected robot to be marked offline")
	}
}
