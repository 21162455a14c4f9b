// Package mqtt publishes stage events to an MQTT broker and consumes the
// breathing summaries produced by the acoustic front end.
package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"sleepstage/internal"
	"sleepstage/internal/config"
	"sleepstage/internal/errors"
)

// MessageHandler handles one inbound message.
type MessageHandler func(topic string, payload []byte)

// Broker is the slice of an MQTT client the adapters need.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Close() error
}

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Client is a Broker backed by paho.
type Client struct {
	client paho.Client
	logger *internal.Logger
}

var _ Broker = (*Client)(nil)

// NewClient connects to cfg.Broker.
func NewClient(cfg config.MQTTConfig, logger *internal.Logger) (*Client, error) {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("[MQTT] connection lost: %v", err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.ExternalServiceError("mqtt", fmt.Errorf("connection timeout"))
	}
	if err := token.Error(); err != nil {
		return nil, errors.ExternalServiceError("mqtt", err)
	}
	logger.Info("[MQTT] connected to %s as %s", cfg.Broker, cfg.ClientID)
	return &Client{client: client, logger: logger}, nil
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.ExternalServiceError("mqtt", fmt.Errorf("publish timeout on %s", topic))
	}
	if err := token.Error(); err != nil {
		return errors.ExternalServiceError("mqtt", err)
	}
	return nil
}

func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(connectTimeout) {
		return errors.ExternalServiceError("mqtt", fmt.Errorf("subscribe timeout on %s", topic))
	}
	if err := token.Error(); err != nil {
		return errors.ExternalServiceError("mqtt", err)
	}
	return nil
}

// Close disconnects, waiting briefly for in-flight work.
func (c *Client) Close() error {
	c.client.Disconnect(250)
	return nil
}
