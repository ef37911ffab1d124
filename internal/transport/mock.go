package transport

import (
	"context"
	"sync"
)

// PublishedMessage records one call to MockPublisher.Publish.
type PublishedMessage struct {
	Topic   string
	Payload []byte
}

// MockPublisher is an in-memory Publisher double, shaped like the
// teacher's adapter/mock package, letting controller/sequencer tests run
// without a broker: it records outbound publishes and lets the test drive
// inbound State/Connection frames directly into subscribed handlers.
type MockPublisher struct {
	mu          sync.Mutex
	connected   bool
	published   []PublishedMessage
	handlers    map[string]Handler // topic filter -> handler
}

// NewMockPublisher returns a ready-to-use fake, already connected.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{connected: true, handlers: make(map[string]Handler)}
}

func (m *MockPublisher) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockPublisher) Disconnect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockPublisher) Subscribe(ctx context.Context, topic string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, PublishedMessage{Topic: topic, Payload: payload})
	return nil
}

// Published returns a snapshot of everything published so far.
func (m *MockPublisher) Published() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishedMessage, len(m.published))
	copy(out, m.published)
	return out
}

// Last returns the most recently published message, or false if none.
func (m *MockPublisher) Last() (PublishedMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.published) == 0 {
		return PublishedMessage{}, false
	}
	return m.published[len(m.published)-1], true
}

// Inject delivers an inbound message as if the broker had published it,
// dispatching to any handler whose filter matches via matchTopic.
func (m *MockPublisher) Inject(topic string, payload []byte) {
	m.mu.Lock()
	var matched []Handler
	for filter, h := range m.handlers {
		if matchTopic(filter, topic) {
			matched = append(matched, h)
		}
	}
	m.mu.Unlock()
	for _, h := range matched {
		h(InboundMessage{Topic: topic, Payload: payload})
	}
}

// matchTopic supports the single level of "+" wildcarding this controller
// uses for its robot-fanout subscriptions.
func matchTopic(filter, topic string) bool {
	fParts := splitTopic(filter)
	tParts := splitTopic(topic)
	if len(fParts) != len(tParts) {
		return false
	}
	for i, fp := range fParts {
		if fp == "+" {
			continue
		}
		if fp != tParts[i] {
			return false
		}
	}
	return true
}

func splitTopic(topic string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			parts = append(parts, topic[start:i])
			start = i + 1
		}
	}
	parts = append(parts, topic[start:])
	return parts
}
