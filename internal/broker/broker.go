package broker

import (
	"context"
	"errors"
)

// Handler processes one delivered message. Returning nil acknowledges the
// message; returning an error schedules a redelivery until the retry budget
// is exhausted, after which the message lands in the queue's quarantine.
type Handler func(ctx context.Context, routingKey string, body []byte) error

// Broker is the publish/subscribe contract shared by the AMQP client and
// the in-memory broker used in tests.
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
	Subscribe(exchange, queue, pattern string, handler Handler) error
	Close() error
}

var ErrNotConnected = errors.New("broker not connected")

const (
	// retryCountHeader carries the redelivery counter across requeues.
	retryCountHeader = "x-retry-count"

	// DefaultMaxRetries is the redelivery budget before a message is routed
	// to "<queue>.quarantine" instead of the live queue.
	DefaultMaxRetries = 5
)

func quarantineQueue(queue string) string {
	return queue + ".quarantine"
}
