// Package mqtt ingests driver positions published by vehicle telematics units.
// Units publish JSON samples to <prefix>/<driverID>/position.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"fleet-dispatch/internal/geo"
	"fleet-dispatch/pkg/logger"
)

// Config defines the broker connection and subscription.
type Config struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
}

// Sink receives every well-formed sample.
type Sink func(ctx context.Context, driverID string, s geo.Sample) error

type pahoClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

var newClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }

// Ingest subscribes to position topics and forwards samples to a Sink.
type Ingest struct {
	cfg  Config
	sink Sink
	log  logger.Logger
	cli  pahoClient
}

// NewIngest creates an ingest; call Start to connect.
func NewIngest(cfg Config, sink Sink, log logger.Logger) *Ingest {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "fleet"
	}
	return &Ingest{cfg: cfg, sink: sink, log: log}
}

// Topic is the subscription filter covering every driver.
func (in *Ingest) Topic() string { return in.cfg.TopicPrefix + "/+/position" }

// Start connects and subscribes. The subscription is renewed on every
// reconnect. Samples are handled with ctx until Stop.
func (in *Ingest) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(in.cfg.Broker).
		SetClientID(in.cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	if in.cfg.Username != "" {
		opts.SetUsername(in.cfg.Username)
		opts.SetPassword(in.cfg.Password)
	}
	opts.OnConnect = func(c paho.Client) {
		in.log.Infof("mqtt connected, subscribing to %s", in.Topic())
		if token := c.Subscribe(in.Topic(), in.cfg.QoS, in.Handler(ctx)); token.Wait() && token.Error() != nil {
			in.log.Errorf("subscribe %s: %v", in.Topic(), token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		in.log.Warnf("mqtt connection lost: %v", err)
	}

	in.cli = newClient(opts)
	if token := in.cli.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", in.cfg.Broker, token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (in *Ingest) Stop() {
	if in.cli != nil && in.cli.IsConnected() {
		in.cli.Disconnect(250)
	}
}

// Handler returns the message callback. Malformed messages are logged and
// dropped.
func (in *Ingest) Handler(ctx context.Context) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		driverID, s, err := ParsePosition(in.cfg.TopicPrefix, msg.Topic(), msg.Payload())
		if err != nil {
			in.log.Warnf("dropping message on %s: %v", msg.Topic(), err)
			return
		}
		if err := in.sink(ctx, driverID, s); err != nil {
			in.log.Warnf("position for driver %s: %v", driverID, err)
		}
	}
}

// ParsePosition extracts the driver id from topic and decodes payload. A
// missing timestamp is left zero for the receiver to fill.
func ParsePosition(prefix, topic string, payload []byte) (string, geo.Sample, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", geo.Sample{}, fmt.Errorf("topic %q outside prefix %q", topic, prefix)
	}
	driverID, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != "position" || driverID == "" {
		return "", geo.Sample{}, fmt.Errorf("topic %q is not a position topic", topic)
	}

	var f geo.Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", geo.Sample{}, fmt.Errorf("decode payload: %w", err)
	}
	s, ok := f.Sample()
	if !ok {
		return "", geo.Sample{}, fmt.Errorf("payload without lat/lng")
	}
	return driverID, s, nil
}
