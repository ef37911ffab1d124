package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Options configures the MQTT client, mirroring config.MQTTConfig without
// creating an import-cycle dependency on the config package.
type Options struct {
	Host         string
	Port         int
	WebSockets   bool
	WSPath       string
	ClientID     string
	PresenceTopic string
	QueueSize    int
}

type queuedPublish struct {
	topic    string
	payload  []byte
	critical bool
}

// Client is the production Publisher backed by eclipse/paho.mqtt.golang,
// grounded on the teacher's internal/mqtt/client.go connect/reconnect/LWT
// shape, generalized to per-robot outbound queues and QoS-1 throughout.
type Client struct {
	opts   Options
	logger *zap.Logger

	client paho.Client

	mu      sync.Mutex
	queues  map[string][]queuedPublish // keyed by robot serial, parsed from topic
	dropped func(robotSerial string)   // called when backpressure drops an Order
}

// NewClient builds a disconnected Client; call Connect to dial the broker.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	c := &Client{
		opts:   opts,
		logger: logger,
		queues: make(map[string][]queuedPublish),
	}

	popts := paho.NewClientOptions()
	scheme := "tcp"
	if opts.WebSockets {
		scheme = "ws"
	}
	broker := fmt.Sprintf("%s://%s:%d%s", scheme, opts.Host, opts.Port, optPath(opts))
	popts.AddBroker(broker)
	popts.SetClientID(opts.ClientID)
	popts.SetAutoReconnect(true)
	popts.SetConnectRetry(true)
	popts.SetConnectRetryInterval(100 * time.Millisecond)
	popts.SetMaxReconnectInterval(30 * time.Second)
	popts.SetWill(opts.PresenceTopic, `{"connectionState":"OFFLINE"}`, 1, false)
	popts.SetOnConnectHandler(func(paho.Client) {
		c.logger.Info("connected to mqtt broker")
		c.flushQueues()
	})
	popts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn("mqtt connection lost", zap.Error(err))
	})
	popts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		// exponential backoff with jitter is handled by the paho options
		// above (100ms..30s); this hook exists purely for observability.
		c.logger.Debug("mqtt reconnecting")
	})

	c.client = paho.NewClient(popts)
	return c
}

func optPath(opts Options) string {
	if opts.WebSockets {
		return opts.WSPath
	}
	return ""
}

// Connect blocks until the initial connection attempt resolves.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("mqtt connect timed out")
	}
	return token.Error()
}

// Disconnect publishes OFFLINE presence and closes the session.
func (c *Client) Disconnect(ctx context.Context) {
	if c.client.IsConnected() {
		c.client.Publish(c.opts.PresenceTopic, 1, false, `{"connectionState":"OFFLINE"}`)
	}
	c.client.Disconnect(250)
}

// IsConnected reports the current session state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Subscribe registers handler for topic at QoS 1.
func (c *Client) Subscribe(ctx context.Context, topic string, handler Handler) error {
	token := c.client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		handler(InboundMessage{Topic: m.Topic(), Payload: m.Payload()})
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Publish sends payload at QoS 1. While disconnected, it queues per robot
// (bounded at QueueSize); on overflow the oldest non-critical (Order)
// message is dropped in favor of critical (InstantActions) traffic, per
// spec.md §4.2.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	critical := strings.Contains(topic, "/instantActions")

	if c.client.IsConnected() {
		token := c.client.Publish(topic, 1, false, payload)
		token.Wait()
		return token.Error()
	}

	robot := robotFromTopic(topic)
	c.mu.Lock()
	q := c.queues[robot]
	if len(q) >= c.opts.QueueSize {
		q = dropOldestNonCritical(q)
		if c.dropped != nil {
			c.dropped(robot)
		}
	}
	q = append(q, queuedPublish{topic: topic, payload: payload, critical: critical})
	c.queues[robot] = q
	c.mu.Unlock()
	return nil
}

// OnBackpressureDrop registers a callback invoked when an Order is dropped
// due to a full per-robot outbound queue (feeds the transport_backpressure
// mission failure, spec.md §7).
func (c *Client) OnBackpressureDrop(fn func(robotSerial string)) {
	c.dropped = fn
}

func (c *Client) flushQueues() {
	c.mu.Lock()
	queues := c.queues
	c.queues = make(map[string][]queuedPublish)
	c.mu.Unlock()

	for robot, msgs := range queues {
		for _, m := range msgs {
			token := c.client.Publish(m.topic, 1, false, m.payload)
			token.Wait()
			if err := token.Error(); err != nil {
				c.logger.Warn("failed to flush queued publish",
					zap.String("robot", robot), zap.Error(err))
			}
		}
	}
}

func dropOldestNonCritical(q []queuedPublish) []queuedPublish {
	for i, m := range q {
		if !m.critical {
			return append(append([]queuedPublish{}, q[:i]...), q[i+1:]...)
		}
	}
	// all critical: drop the oldest anyway, bounded queues must not grow.
	if len(q) > 0 {
		return q[1:]
	}
	return q
}

func robotFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[len(parts)-2]
	}
	return topic
}
