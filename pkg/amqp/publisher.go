// Package amqp publishes lifecycle events to a RabbitMQ topic exchange.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fleet-dispatch/pkg/logger"
)

// Publisher satisfies events.Publisher. The event topic is used as the
// routing key, so consumers bind with patterns such as "order.*".
type Publisher struct {
	url      string
	exchange string
	log      logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects with retries and declares a durable topic exchange.
func Dial(ctx context.Context, url, exchange string, attempts int, log logger.Logger) (*Publisher, error) {
	p := &Publisher{url: url, exchange: exchange, log: log}
	delay := time.Second
	for attempt := 1; attempt <= attempts; attempt++ {
		err := p.connect()
		if err == nil {
			log.Infof("connected to rabbitmq, exchange %q", exchange)
			return p, nil
		}
		log.Warnf("rabbitmq not ready (%d/%d): %v", attempt, attempts, err)
		if attempt == attempts {
			return nil, fmt.Errorf("rabbitmq: could not connect after %d attempts: %w", attempts, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay = delay * 3 / 2; delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	return nil, fmt.Errorf("rabbitmq: no connection attempts configured")
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.mu.Lock()
	p.conn, p.ch = conn, ch
	p.mu.Unlock()
	return nil
}

// Publish sends value as a persistent JSON message routed by topic. A closed
// connection is re-dialed once before giving up.
func (p *Publisher) Publish(ctx context.Context, topic, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	p.mu.Lock()
	closed := p.conn == nil || p.conn.IsClosed()
	p.mu.Unlock()
	if closed {
		if err := p.connect(); err != nil {
			return err
		}
	}

	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	return ch.PublishWithContext(ctx, p.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
