// Package broker defines the transport-neutral surface the outbox publisher
// writes to. Pub/Sub and RabbitMQ both implement Publisher.
package broker

import (
	"context"
	"fmt"
	"strings"
)

const (
	KindPubSub   = "pubsub"
	KindRabbitMQ = "rabbitmq"
)

// Destination names where a message goes. Pub/Sub reads Topic, RabbitMQ
// routes on RoutingKey.
type Destination struct {
	Topic      string
	RoutingKey string
}

// Message is the broker-agnostic payload plus string attributes. Attributes
// become Pub/Sub attributes or AMQP headers. Messages sharing an OrderingKey
// are delivered in publish order where the broker supports it.
type Message struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
}

// Publisher delivers a single message and blocks until the broker confirms it.
type Publisher interface {
	Publish(ctx context.Context, dest Destination, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}

// NormalizeKind validates the configured broker name.
func NormalizeKind(kind string) (string, error) {
	switch k := strings.ToLower(strings.TrimSpace(kind)); k {
	case "", KindPubSub:
		return KindPubSub, nil
	case KindRabbitMQ, "amqp":
		return KindRabbitMQ, nil
	default:
		return "", fmt.Errorf("unsupported outbox broker %q", kind)
	}
}
