package broker

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	reconnectDelay  = 5 * time.Second
	redeliveryDelay = 1 * time.Second
)

type subscription struct {
	exchange string
	queue    string
	pattern  string
	handler  Handler
}

// Client is an AMQP topic-exchange client. Connect never fails the calling
// process: dial failures are logged and retried every 5s for as long as the
// client lives, and subscriptions registered while disconnected are
// established once a connection is available.
type Client struct {
	url        string
	logger     *zap.Logger
	maxRetries int
	retryDelay time.Duration

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	subs    []subscription

	closed    chan struct{}
	closeOnce sync.Once
}

func NewClient(url string, logger *zap.Logger) *Client {
	return &Client{
		url:        url,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		retryDelay: redeliveryDelay,
		closed:     make(chan struct{}),
	}
}

// Connect starts the connection lifecycle in the background. The caller
// must tolerate a not-yet-ready broker; Publish returns ErrNotConnected
// until the first dial succeeds.
func (c *Client) Connect() {
	go c.connectLoop()
}

func (c *Client) connectLoop() {
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		notify, err := c.connectOnce()
		if err != nil {
			c.logger.Error("Failed to connect to broker, retrying",
				zap.Duration("retry_in", reconnectDelay),
				zap.Error(err))
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-c.closed:
				return
			}
		}

		c.logger.Info("Broker connected")

		select {
		case amqpErr := <-notify:
			c.logger.Warn("Broker connection lost", zap.Error(amqpErr))
			c.clearConnection()
		case <-c.closed:
			return
		}
	}
}

func (c *Client) connectOnce() (chan *amqp.Error, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, sub := range subs {
		if err := c.startConsumer(channel, sub); err != nil {
			c.logger.Error("Failed to re-establish subscription",
				zap.String("queue", sub.queue),
				zap.Error(err))
		}
	}

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	return notify, nil
}

func (c *Client) clearConnection() {
	c.mu.Lock()
	c.conn = nil
	c.channel = nil
	c.mu.Unlock()
}

// Publish sends a persistent message to a durable topic exchange. The
// exchange is re-declared on every publish; the declaration is a no-op when
// it already exists with matching properties.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	if channel == nil {
		return ErrNotConnected
	}

	if err := c.declareExchange(channel, exchange); err != nil {
		c.logger.Error("Failed to declare exchange",
			zap.String("exchange", exchange),
			zap.Error(err))
		return err
	}

	err := channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		c.logger.Error("Failed to publish message",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
			zap.Error(err))
		return err
	}

	c.logger.Debug("Message published",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey))
	return nil
}

// Subscribe declares a durable queue bound to the exchange under the given
// routing pattern and begins consuming. Queue names are stable across
// restarts so undelivered messages survive a consumer restart.
func (c *Client) Subscribe(exchange, queue, pattern string, handler Handler) error {
	sub := subscription{exchange: exchange, queue: queue, pattern: pattern, handler: handler}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	channel := c.channel
	c.mu.Unlock()

	if channel == nil {
		// Consumption starts when the connect loop gets a channel.
		return nil
	}
	return c.startConsumer(channel, sub)
}

func (c *Client) startConsumer(channel *amqp.Channel, sub subscription) error {
	if err := c.declareExchange(channel, sub.exchange); err != nil {
		return err
	}

	q, err := channel.QueueDeclare(sub.queue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := channel.QueueBind(q.Name, sub.pattern, sub.exchange, false, nil); err != nil {
		return err
	}

	deliveries, err := channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.logger.Info("Subscribed to queue",
		zap.String("exchange", sub.exchange),
		zap.String("queue", sub.queue),
		zap.String("pattern", sub.pattern))

	go c.consume(channel, sub, deliveries)
	return nil
}

func (c *Client) consume(channel *amqp.Channel, sub subscription, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		key := originalRoutingKey(d)
		err := sub.handler(context.Background(), key, d.Body)
		if err == nil {
			if ackErr := d.Ack(false); ackErr != nil {
				c.logger.Error("Failed to ack message", zap.String("queue", sub.queue), zap.Error(ackErr))
			}
			continue
		}

		c.logger.Error("Error processing message",
			zap.String("queue", sub.queue),
			zap.String("routing_key", key),
			zap.Error(err))
		c.redeliver(channel, sub, d)
	}
	c.logger.Debug("Delivery channel closed", zap.String("queue", sub.queue))
}

// redeliver requeues a failed message with an incremented retry counter, or
// routes it to the quarantine queue once the budget is spent. The original
// delivery is acked either way; a requeued copy carries the state forward.
// Each requeue waits retryDelay first so transient failures, like an event
// arriving before the row it references, have time to clear instead of
// burning the whole retry budget back to back.
func (c *Client) redeliver(channel *amqp.Channel, sub subscription, d amqp.Delivery) {
	retries := retryCount(d.Headers)
	key := originalRoutingKey(d)

	target := sub.queue
	if retries+1 >= c.maxRetries {
		target = quarantineQueue(sub.queue)
		if _, err := channel.QueueDeclare(target, true, false, false, false, nil); err != nil {
			c.logger.Error("Failed to declare quarantine queue", zap.String("queue", target), zap.Error(err))
			_ = d.Nack(false, true)
			return
		}
		c.logger.Warn("Retry budget exhausted, quarantining message",
			zap.String("queue", sub.queue),
			zap.String("routing_key", key),
			zap.Int("retries", retries+1))
	}

	if target == sub.queue && !c.waitRetryDelay() {
		// Shutting down mid-wait: hand the message back to the broker.
		_ = d.Nack(false, true)
		return
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(retries + 1)

	// Republish through the default exchange, which routes directly to the
	// named queue.
	err := channel.PublishWithContext(context.Background(), "", target, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      headers,
		// Preserve the original routing key for handlers on redelivery:
		// the default exchange rewrites it to the queue name.
		Type: key,
		Body: d.Body,
	})
	if err != nil {
		c.logger.Error("Failed to requeue message, falling back to nack",
			zap.String("queue", sub.queue),
			zap.Error(err))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// waitRetryDelay blocks for the retry delay and reports whether the client
// is still open.
func (c *Client) waitRetryDelay() bool {
	select {
	case <-time.After(c.retryDelay):
		return true
	case <-c.closed:
		return false
	}
}

func (c *Client) declareExchange(channel *amqp.Channel, exchange string) error {
	return channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

// Close is best-effort: shutdown must not be blocked by a misbehaving
// broker, so errors are logged and swallowed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })

	c.mu.Lock()
	channel := c.channel
	conn := c.conn
	c.channel = nil
	c.conn = nil
	c.mu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
			c.logger.Warn("Error closing broker channel", zap.Error(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Warn("Error closing broker connection", zap.Error(err))
		}
	}
	c.logger.Info("Broker client closed")
	return nil
}

func originalRoutingKey(d amqp.Delivery) string {
	if d.Type != "" {
		return d.Type
	}
	return d.RoutingKey
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
