package vda5050

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Codec encodes and decodes VDA5050 messages as JSON, the wire format
// robots expect, and stamps outgoing headers with a monotonically
// increasing headerId from one counter shared by every topic it stamps, so
// ids increase on each topic but with gaps.
type Codec struct {
	version      string
	manufacturer string
	serial       string
	headerSeq    atomic.Int64
}

// NewCodec creates a codec for one robot's topic set.
func NewCodec(version, manufacturer, serial string) *Codec {
	return &Codec{version: version, manufacturer: manufacturer, serial: serial}
}

func (c *Codec) nextHeader() Header {
	id := c.headerSeq.Add(1)
	return NewHeader(id, c.version, c.manufacturer, c.serial)
}

// EncodeOrder stamps and marshals an Order.
func (c *Codec) EncodeOrder(o *Order) ([]byte, error) {
	o.Header = c.nextHeader()
	return json.Marshal(o)
}

// EncodeInstantActions stamps and marshals an InstantActions batch.
func (c *Codec) EncodeInstantActions(a *InstantActions) ([]byte, error) {
	a.Header = c.nextHeader()
	return json.Marshal(a)
}

// DecodeState unmarshals a State payload, clamping out-of-range telemetry
// (spec.md §3 invariant: battery_level ∈ [0,1]) rather than rejecting the
// message outright — a single noisy sample must not derail the supervisor.
func DecodeState(payload []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	s.BatteryState.BatteryCharge = Clamp01(s.BatteryState.BatteryCharge)
	return &s, nil
}

// DecodeConnection unmarshals a Connection payload.
func DecodeConnection(payload []byte) (*Connection, error) {
	var conn Connection
	if err := json.Unmarshal(payload, &conn); err != nil {
		return nil, fmt.Errorf("decode connection: %w", err)
	}
	return &conn, nil
}

// HashFactsheet returns a stable content hash of a Factsheet payload. The
// controller never interprets factsheet contents beyond this (spec.md §4.1).
func HashFactsheet(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Clamp01 restricts v to [0,1], the valid range for battery_level and
// battery.critical_level (spec.md §3). Adapted from the teacher's
// velocity-limiter clamp shape, repurposed for telemetry sanitization
// instead of continuous velocity setpoints.
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
