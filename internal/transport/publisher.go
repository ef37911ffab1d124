// Package transport abstracts the MQTT connection to the robot fleet
// (spec.md §4.2) behind a small interface, shaped like the teacher's
// adapter.RobotAdapter interface, so the sequencer and controller can be
// unit tested against an in-memory fake instead of a real broker.
package transport

import "context"

// InboundMessage is a single MQTT message handed to a Subscriber callback.
type InboundMessage struct {
	Topic   string
	Payload []byte
}

// Handler processes one inbound message for a subscription.
type Handler func(msg InboundMessage)

// Publisher is the seam between the rest of the controller and the MQTT
// broker. QoS 1, non-retained publishes; subscriptions persist across
// reconnects.
type Publisher interface {
	// Connect establishes the session. Last-will is the controller's own
	// presence topic reporting OFFLINE.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	IsConnected() bool

	// Subscribe registers handler for topic (may contain MQTT wildcards).
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Publish sends payload to topic at QoS 1, non-retained. Implementations
	// queue per-robot while disconnected per spec.md §4.2.
	Publish(ctx context.Context, topic string, payload []byte) error
}
