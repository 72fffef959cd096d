package broker

import (
	"context"
	"strings"
	"sync"
)

type memorySub struct {
	exchange string
	queue    string
	pattern  string
	handler  Handler
}

type publishedMessage struct {
	Exchange   string
	RoutingKey string
	Body       []byte
}

// Memory is an in-process Broker for tests. Delivery is synchronous: a
// failing handler is retried immediately with the same retry budget and
// quarantine accounting as the AMQP client, so redelivery behavior can be
// asserted without a running broker.
type Memory struct {
	mu          sync.Mutex
	subs        []memorySub
	published   []publishedMessage
	quarantined map[string][][]byte
	maxRetries  int
}

func NewMemory() *Memory {
	return &Memory{
		quarantined: make(map[string][][]byte),
		maxRetries:  DefaultMaxRetries,
	}
}

func (m *Memory) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	m.mu.Lock()
	m.published = append(m.published, publishedMessage{Exchange: exchange, RoutingKey: routingKey, Body: body})
	subs := make([]memorySub, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, sub := range subs {
		if sub.exchange != exchange || !topicMatch(sub.pattern, routingKey) {
			continue
		}
		m.deliver(ctx, sub, routingKey, body)
	}
	return nil
}

func (m *Memory) deliver(ctx context.Context, sub memorySub, routingKey string, body []byte) {
	for attempt := 1; ; attempt++ {
		if err := sub.handler(ctx, routingKey, body); err == nil {
			return
		}
		if attempt >= m.maxRetries {
			m.mu.Lock()
			q := quarantineQueue(sub.queue)
			m.quarantined[q] = append(m.quarantined[q], body)
			m.mu.Unlock()
			return
		}
	}
}

func (m *Memory) Subscribe(exchange, queue, pattern string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, memorySub{exchange: exchange, queue: queue, pattern: pattern, handler: handler})
	return nil
}

func (m *Memory) Close() error { return nil }

// Published returns the bodies published under a routing key, in order.
func (m *Memory) Published(routingKey string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, p := range m.published {
		if p.RoutingKey == routingKey {
			out = append(out, p.Body)
		}
	}
	return out
}

// Quarantined returns the bodies routed to a queue's quarantine.
func (m *Memory) Quarantined(queue string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quarantined[quarantineQueue(queue)]
}

// topicMatch implements AMQP topic-binding semantics: "*" matches exactly
// one word, "#" matches zero or more words.
func topicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	switch {
	case len(pattern) == 0:
		return len(key) == 0
	case pattern[0] == "#":
		if matchWords(pattern[1:], key) {
			return true
		}
		return len(key) > 0 && matchWords(pattern, key[1:])
	case len(key) == 0:
		return false
	case pattern[0] == "*" || pattern[0] == key[0]:
		return matchWords(pattern[1:], key[1:])
	default:
		return false
	}
}
