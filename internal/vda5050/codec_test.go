package vda5050

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeOrderRoundTrip(t *testing.T) {
	codec := NewCodec("2.0", "acme", "carter01")

	order := &Order{
		OrderID:       "order-1",
		OrderUpdateID: 0,
		Nodes: []Node{
			{NodeID: "0", SequenceID: 0, Released: true, NodePosition: NodePosition{X: 0, Y: 0, MapID: "map"}},
			{NodeID: "1", SequenceID: 2, Released: true, NodePosition: NodePosition{X: 1.5, Y: 1.5, MapID: "map"}},
		},
		Edges: []Edge{
			{EdgeID: "e0", SequenceID: 1, Released: true, StartNodeID: "0", EndNodeID: "1"},
		},
	}

	payload, err := codec.EncodeOrder(order)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if order.HeaderID != 1 {
		t.Fatalf("expected headerId stamped to 1, got %d", order.HeaderID)
	}

	var decoded Order
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.OrderID != order.OrderID || len(decoded.Nodes) != 2 {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}

	// A second encode increments the header sequence.
	order2 := &Order{OrderID: "order-2"}
	if _, err := codec.EncodeOrder(order2); err != nil {
		t.Fatalf("encode 2: %v", err)
	}
	if order2.HeaderID != 2 {
		t.Fatalf("expected monotonic headerId 2, got %d", order2.HeaderID)
	}
}

func TestDecodeStateClampsBattery(t *testing.T) {
	payload := []byte(`{"headerId":1,"orderId":"o1","batteryState":{"batteryCharge":1.4}}`)
	state, err := DecodeState(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.BatteryState.BatteryCharge != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %v", state.BatteryState.BatteryCharge)
	}
}

func TestClamp01(t *testing.T) {
	cases := map[float64]float64{-0.5: 0, 0.3: 0.3, 1.2: 1}
	for in, want := range cases {
		if got := Clamp01(in); got != want {
			t.Errorf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}
