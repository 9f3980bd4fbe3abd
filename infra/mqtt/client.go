// Package mqtt connects the optimizer to the grid operator's broker. The
// trigger subscriber turns MPC request messages into scheduled control
// cycles and stop messages into session teardowns.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string `koanf:"broker"`
	ClientID   string `koanf:"client_id"`
	Username   string `koanf:"username"`
	Password   string `koanf:"password"`
	Topic      string `koanf:"topic"`
	QoS        byte   `koanf:"qos"`
	UseTLS     bool   `koanf:"use_tls"`
	ClientCert string `koanf:"client_cert"`
	ClientKey  string `koanf:"client_key"`
	CABundle   string `koanf:"ca_bundle"`
}

// client is the paho surface the trigger needs, split out for tests.
type client interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Client wraps an established broker connection.
type Client struct {
	cli client
	cfg Config
}

var newPahoClient = func(opts *paho.ClientOptions) client {
	return paho.NewClient(opts)
}

// Connect dials the broker and returns a connected client.
func Connect(cfg Config, onConnect func()) (*Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.loadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if onConnect != nil {
		opts.OnConnect = func(paho.Client) { onConnect() }
	}

	c := newPahoClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Client{cli: c, cfg: cfg}, nil
}

// Subscribe registers a message handler on the configured topic.
func (c *Client) Subscribe(handler paho.MessageHandler) error {
	token := c.cli.Subscribe(c.cfg.Topic, c.cfg.QoS, handler)
	token.Wait()
	return token.Error()
}

// Close gracefully disconnects from the broker.
func (c *Client) Close() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}

func (c Config) loadTLSConfig() (*tls.Config, error) {
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
