package publish

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/people.counter/internal/monitoring"
	"github.com/banshee-data/people.counter/internal/occupancy"
)

// MQTTOptions configures an MQTTSink.
type MQTTOptions struct {
	// Broker is host:port, or a full URL such as ssl://host:8883.
	Broker   string
	ClientID string
	// TopicPrefix is prepended to every topic, e.g. "site-a" publishes
	// to "site-a/person".
	TopicPrefix    string
	QoS            byte
	PublishTimeout time.Duration
	ConnectTimeout time.Duration
}

// brokerURL adds the tcp scheme when the broker has none.
func (o MQTTOptions) brokerURL() string {
	if strings.Contains(o.Broker, "://") {
		return o.Broker
	}
	return "tcp://" + o.Broker
}

// Topic returns the full topic for a logical event topic.
func (o MQTTOptions) Topic(topic string) string {
	prefix := strings.Trim(o.TopicPrefix, "/")
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}

// Client is the subset of mqtt.Client the sink needs.
type Client interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes events to an MQTT broker.
type MQTTSink struct {
	opts   MQTTOptions
	Client Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// Stats contains publish statistics.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// NewMQTTSink creates a sink with a paho client configured for
// auto-reconnect. Call Connect before publishing.
func NewMQTTSink(opts MQTTOptions) *MQTTSink {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	s := &MQTTSink{
		opts:      opts,
		published: make(map[string]uint64),
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.brokerURL())
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnect = func(mqtt.Client) {
		s.setConnected(true)
		monitoring.Logf("mqtt connected to %s as %s", opts.Broker, opts.ClientID)
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.setConnected(false)
		monitoring.Logf("mqtt connection to %s lost, reconnecting: %v", opts.Broker, err)
	}
	s.Client = mqtt.NewClient(co)
	return s
}

// newMQTTSinkWithClient is used by tests to inject a fake client.
func newMQTTSinkWithClient(opts MQTTOptions, c Client) *MQTTSink {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	return &MQTTSink{opts: opts, Client: c, published: make(map[string]uint64)}
}

// Connect establishes the broker connection. An unreachable broker is
// reported after ConnectTimeout.
func (s *MQTTSink) Connect(ctx context.Context) error {
	token := s.Client.Connect()
	if err := wait(ctx, token, s.opts.ConnectTimeout); err != nil {
		return fmt.Errorf("mqtt connection to %s failed: %w", s.opts.Broker, err)
	}
	s.setConnected(true)
	return nil
}

// Publish sends the event payload to its topic.
func (s *MQTTSink) Publish(ctx context.Context, sessionID string, e occupancy.Event) error {
	if !s.isConnected() {
		s.countError()
		return ErrNotConnected
	}

	payload, err := Encode(e)
	if err != nil {
		s.countError()
		return err
	}

	topic := s.opts.Topic(e.Topic())
	token := s.Client.Publish(topic, s.opts.QoS, false, payload)
	if err := wait(ctx, token, s.opts.PublishTimeout); err != nil {
		s.countError()
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	s.mu.Lock()
	s.published[topic]++
	s.mu.Unlock()
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if s.Client != nil && s.Client.IsConnected() {
		s.Client.Disconnect(250)
		monitoring.Logf("mqtt disconnected from %s", s.opts.Broker)
	}
	s.setConnected(false)
	return nil
}

// Stats returns publish statistics.
func (s *MQTTSink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return Stats{
		Connected: s.connected,
		Published: published,
		Errors:    s.errors,
	}
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}
