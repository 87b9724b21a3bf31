package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/warden-core/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages. Handlers
// run on paho goroutines and must not block. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client publishes security events and carries cache invalidations
// between Warden instances. It is safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// mu guards everything below.
	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]subscription
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger
}

// Connect dials the broker and waits up to the connect timeout for the
// session. The broker is told to publish an offline presence for this
// instance if it disappears. Failures wrap ErrConnectionFailed.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		options:       buildClientOptions(cfg),
		subscriptions: make(map[string]subscription),
	}
	configureLWT(c.options, cfg.Broker.ClientID)

	c.options.
		SetOnConnectHandler(func(pahomqtt.Client) { c.onSessionUp() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onSessionLost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			if l := c.getLogger(); l != nil {
				l.Warn("MQTT reconnecting", "client_id", cfg.Broker.ClientID)
			}
		})

	c.client = pahomqtt.NewClient(c.options)
	tok := c.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: no session after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs on its own goroutine and may lag behind.
	c.setConnected(true)
	return c, nil
}

// onSessionUp restores subscriptions, announces presence and notifies the
// owner. It runs on the first connect and after every reconnect.
func (c *Client) onSessionUp() {
	c.mu.Lock()
	c.connected = true
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	hook := c.onConnect
	c.mu.Unlock()

	for _, s := range subs {
		// Not awaited: a failed resubscribe shows up on the next reconnect.
		c.client.Subscribe(s.topic, s.qos, c.wrapHandler(s.handler))
	}
	c.announce(statusOnline, "")

	if hook != nil {
		hook()
	}
}

func (c *Client) onSessionLost(err error) {
	c.mu.Lock()
	c.connected = false
	hook := c.onDisconnect
	c.mu.Unlock()

	if hook != nil {
		hook(err)
	}
}

// announce publishes a retained presence message on the status topic.
func (c *Client) announce(status, reason string) pahomqtt.Token {
	payload := presencePayload(c.cfg.Broker.ClientID, status, reason)
	return c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload) //nolint:gosec // QoS validated by config
}

// Close announces a graceful offline presence and disconnects. Closing a
// client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.announce(statusOffline, reasonShutdown).WaitTimeout(ackTimeout)
	}
	c.client.Disconnect(quiesceMillis)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// SetOnConnect registers a callback for the first connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback for a lost connection.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Without a
// logger they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, recovering panics so one bad
// message cannot kill the delivery goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
				}
			}
		}()

		if err := handler(topic, msg.Payload()); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("MQTT handler returned error", "topic", topic, "error", err)
			}
		}
	}
}
