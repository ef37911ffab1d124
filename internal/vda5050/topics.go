package vda5050

import (
	"fmt"
	"strings"
)

// Channel is one of the five VDA5050 MQTT channels.
type Channel string

const (
	ChannelOrder           Channel = "order"
	ChannelInstantActions  Channel = "instantActions"
	ChannelState           Channel = "state"
	ChannelConnection      Channel = "connection"
	ChannelFactsheet       Channel = "factsheet"
)

// Topic builds "<prefix><interface_version>/<manufacturer>/<serial>/<channel>"
// per spec.md §6. prefix is expected to end in "/".
func Topic(prefix, interfaceVersion, manufacturer, serial string, ch Channel) string {
	return fmt.Sprintf("%s%s/%s/%s/%s", prefix, interfaceVersion, manufacturer, serial, ch)
}

// SubscriptionFilter builds the "+"-wildcarded subscription topic for a
// channel, matching all robots under one manufacturer.
func SubscriptionFilter(prefix, interfaceVersion, manufacturer string, ch Channel) string {
	return fmt.Sprintf("%s%s/%s/+/%s", prefix, interfaceVersion, manufacturer, ch)
}

// ParseTopic extracts the serial number and channel from a topic matching
// the convention above, so the single MQTT receive task can demultiplex
// inbound messages to the owning robot's mailbox (spec.md §5).
func ParseTopic(prefix string, topic string) (serial string, channel Channel, ok bool) {
	trimmed := strings.TrimPrefix(topic, prefix)
	if trimmed == topic && prefix != "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) != 4 {
		return "", "", false
	}
	return parts[2], Channel(parts[3]), true
}
