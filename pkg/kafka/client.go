package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"fleet-dispatch/pkg/logger"
)

// Client publishes lifecycle events to Kafka and can tail topics. It
// satisfies events.Publisher.
type Client struct {
	brokers []string
	log     logger.Logger

	mu      sync.Mutex
	writers map[string]*kafkago.Writer
}

// NewClient returns a Client for the given brokers.
func NewClient(brokers []string, log logger.Logger) *Client {
	return &Client{brokers: brokers, log: log, writers: make(map[string]*kafkago.Writer)}
}

// EnsureTopics creates topics if they don't already exist, retrying the
// broker connection up to attempts times.
func (c *Client) EnsureTopics(ctx context.Context, attempts int, topics ...string) error {
	if len(c.brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := kafkago.DialContext(ctx, "tcp", c.brokers[0])
		if err != nil {
			c.log.Warnf("kafka not ready, retrying in 3s (%d/%d): %v", attempt, attempts, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		configs := make([]kafkago.TopicConfig, len(topics))
		for i, t := range topics {
			configs[i] = kafkago.TopicConfig{
				Topic:             t,
				NumPartitions:     3,
				ReplicationFactor: 1,
			}
		}

		err = conn.CreateTopics(configs...)
		conn.Close()
		if err != nil {
			c.log.Warnf("topic creation returned (may already exist): %v", err)
		}
		c.log.Infof("kafka topics ensured: %v", topics)
		return nil
	}
	return fmt.Errorf("kafka: could not connect after %d attempts", attempts)
}

// Publish sends a JSON-serialised message to a topic. Messages with the same
// key land on the same partition, so one order's events stay ordered.
func (c *Client) Publish(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return c.writer(topic).WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: data,
	})
}

func (c *Client) writer(topic string) *kafkago.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.writers[topic]; ok {
		return w
	}
	w := &kafkago.Writer{
		Addr:     kafkago.TCP(c.brokers...),
		Topic:    topic,
		Balancer: &kafkago.Hash{},
	}
	c.writers[topic] = w
	return w
}

// Subscribe starts a background goroutine that reads from a topic until ctx
// is canceled.
func (c *Client) Subscribe(ctx context.Context, topic, groupID string, handler func(key, value []byte) error) {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  c.brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	go func() {
		defer r.Close()
		for {
			msg, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warnf("read error on %s: %v", topic, err)
				time.Sleep(time.Second)
				continue
			}
			if err := handler(msg.Key, msg.Value); err != nil {
				c.log.Warnf("handler error on %s: %v", topic, err)
			}
		}
	}()
}

// Close flushes and closes every writer.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for topic, w := range c.writers {
		if err := w.Close(); err != nil && first == nil {
			first = fmt.Errorf("close writer %s: %w", topic, err)
		}
	}
	c.writers = map[string]*kafkago.Writer{}
	return first
}
