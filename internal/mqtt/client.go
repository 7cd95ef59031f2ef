// Package mqtt connects the controller to the broker: soil sensors report
// on bodenfeuchte/devices/<id>, and status snapshots and hardware alerts
// go out on the chili-fac topics.
package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config holds the configuration for the MQTT client.
type Config struct {
	BrokerURL     string
	ClientID      string
	Username      string
	Password      string
	QoS           byte
	AutoReconnect bool
	MaxRetries    int
	RetryInterval time.Duration
}

// Client wraps a paho client and re-subscribes its topics after every
// reconnect.
type Client struct {
	client paho.Client
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]paho.MessageHandler
}

// NewClient starts connecting to the broker and waits up to
// cfg.MaxRetries retry intervals for the first connection. A broker that is
// still down after that is not an error: paho keeps retrying in the
// background and onConnect attaches the subscriptions once it is up.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt: no broker configured")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		logger: logger.With("broker", cfg.BrokerURL),
		subs:   make(map[string]paho.MessageHandler),
	}

	opts := paho.NewClientOptions().AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(cfg.AutoReconnect)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.RetryInterval)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	budget := time.Duration(cfg.MaxRetries) * cfg.RetryInterval
	if !token.WaitTimeout(budget) {
		c.logger.Warn("mqtt broker not reachable yet, retrying in the background", "waited", budget, "retry_in", cfg.RetryInterval)
		return c, nil
	}
	if err := token.Error(); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.BrokerURL, err)
	}
	c.logger.Info("connected to mqtt broker")
	return c, nil
}

func (c *Client) onConnect(client paho.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, h := range c.subs {
		if token := client.Subscribe(topic, c.cfg.QoS, h); token.Wait() && token.Error() != nil {
			c.logger.Error("resubscribe failed", "topic", topic, "error", token.Error())
		}
	}
}

// Subscribe registers h for topic. The subscription survives reconnects;
// while the broker is unreachable it is only recorded.
func (c *Client) Subscribe(topic string, h paho.MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		c.logger.Info("subscription deferred until connected", "topic", topic)
		return nil
	}

	token := c.client.Subscribe(topic, c.cfg.QoS, h)
	if !token.WaitTimeout(c.cfg.RetryInterval) {
		return fmt.Errorf("mqtt: subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	c.logger.Info("subscribed", "topic", topic)
	return nil
}

// Publish sends payload and waits up to the retry interval for the broker
// to acknowledge it.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnected() {
		return fmt.Errorf("mqtt: not connected, cannot publish to %s", topic)
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.cfg.RetryInterval) {
		return fmt.Errorf("mqtt: publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Close disconnects from the broker, or stops retrying when it was never
// reached.
func (c *Client) Close() {
	c.logger.Info("disconnecting from mqtt broker")
	c.client.Disconnect(250) // Wait up to 250 milliseconds for inflight messages to be delivered
}
