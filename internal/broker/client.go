// Package broker wraps the MQTT connection the ingestor lives on: one durable
// client with automatic reconnection, a fixed wildcard subscription set, and a
// single FIFO inbound channel consumed by the message router.
package broker

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscription topics. The broker re-subscribes to all of them on every
// (re)connect because the session is not persistent.
const (
	TopicSensorData     = "+/sensors/+/data"
	TopicRules          = "rules/+"
	TopicConfigResponse = "+/settings/sensors/get/response"
)

const (
	defaultInboundBuffer = 10000
	publishQoS           = 1 // at least once; downstream ops are idempotent
	subscribeQoS         = 0
)

// Message is one inbound broker message.
type Message struct {
	Topic   string
	Payload []byte
}

// Config holds broker connection settings.
type Config struct {
	Host     string
	Port     int
	ClientID string

	// ConnectRetryDelay is the initial reconnect backoff. Defaults to 1s.
	ConnectRetryDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
	// InboundBuffer sizes the FIFO delivery channel. Defaults to 10000.
	InboundBuffer int
}

func (c *Config) defaults() {
	if c.ConnectRetryDelay == 0 {
		c.ConnectRetryDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.InboundBuffer == 0 {
		c.InboundBuffer = defaultInboundBuffer
	}
	if c.ClientID == "" {
		c.ClientID = "iot-ingestor"
	}
}

// Client is the durable pub/sub connection. Inbound messages are delivered in
// broker order on the Messages channel; a full channel drops the message
// (readings lost during backpressure behave like readings lost during a
// disconnect).
type Client struct {
	cfg     Config
	mc      mqtt.Client
	inbound chan Message

	// Optional hooks for metrics.
	OnReconnect func()
	OnDrop      func()
	OnConnected func(up bool)
}

// New creates a Client. Connect must be called before publishing.
func New(cfg Config) *Client {
	cfg.defaults()
	c := &Client{
		cfg:     cfg,
		inbound: make(chan Message, cfg.InboundBuffer),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.ConnectRetryDelay).
		SetMaxReconnectInterval(cfg.MaxReconnectDelay).
		SetOrderMatters(true)

	opts.SetOnConnectHandler(func(mc mqtt.Client) {
		log.Printf("[broker] connected to %s:%d", cfg.Host, cfg.Port)
		if c.OnConnected != nil {
			c.OnConnected(true)
		}
		c.subscribeAll(mc)
	})
	opts.SetConnectionLostHandler(func(mc mqtt.Client, err error) {
		log.Printf("[broker] connection lost: %v", err)
		if c.OnConnected != nil {
			c.OnConnected(false)
		}
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
	})

	c.mc = mqtt.NewClient(opts)
	return c
}

// Connect blocks until the first connection succeeds or ctx expires.
// With retry enabled the token only completes on success, so a ctx deadline
// is the backoff-exhaustion boundary for fatal startup handling.
func (c *Client) Connect(ctx context.Context) error {
	tok := c.mc.Connect()
	done := make(chan struct{})
	go func() {
		tok.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		c.mc.Disconnect(0)
		return fmt.Errorf("broker connect: %w", ctx.Err())
	case <-done:
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	return nil
}

// Messages returns the FIFO inbound channel.
func (c *Client) Messages() <-chan Message {
	return c.inbound
}

// Publish sends a payload at QoS 1 and blocks until the broker acknowledges.
// Returns an error while disconnected; callers drop or retry by their own
// policy.
func (c *Client) Publish(topic string, payload []byte) error {
	tok := c.mc.Publish(topic, publishQoS, false, payload)
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing in-flight publishes a short drain window.
func (c *Client) Close() {
	c.mc.Disconnect(250)
}

func (c *Client) subscribeAll(mc mqtt.Client) {
	for _, topic := range []string{TopicSensorData, TopicRules, TopicConfigResponse} {
		tok := mc.Subscribe(topic, subscribeQoS, c.handleMessage)
		if tok.Wait() && tok.Error() != nil {
			log.Printf("[broker] subscribe %s failed: %v", topic, tok.Error())
			continue
		}
		log.Printf("[broker] subscribed to %s", topic)
	}
}

func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case c.inbound <- Message{Topic: msg.Topic(), Payload: msg.Payload()}:
	default:
		if c.OnDrop != nil {
			c.OnDrop()
		} else {
			log.Printf("[broker] inbound channel full, dropping message on %s", msg.Topic())
		}
	}
}
