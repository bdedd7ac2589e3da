// Package mqtt delivers notices to the platform's delivery pipeline over an
// MQTT broker. Each recipient has a topic; the pipeline consumes it, fans out
// to the requested channels (app push, SMS, email) and publishes delivery
// receipts back on the status topic.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"vetdispatch/core/model"
	"vetdispatch/core/notify"
	"vetdispatch/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker      string          `json:"broker"`
	ClientID    string          `json:"client_id"`
	Username    string          `json:"username"`
	Password    string          `json:"password"`
	StatusTopic string          `json:"status_topic"`
	UseTLS      bool            `json:"use_tls"`
	ClientCert  string          `json:"client_cert"`
	ClientKey   string          `json:"client_key"`
	CABundle    string          `json:"ca_bundle"`
	QoS         map[string]byte `json:"qos"` // keyed by priority name
	MaxRetries  int             `json:"max_retries"`
	BackoffMS   int             `json:"backoff_ms"`
	TLSConfig   *tls.Config     `json:"-"`
}

// StatusHandler receives delivery receipts published by the pipeline.
type StatusHandler func(requestID, vetID string, status model.DeliveryStatus, at time.Time)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Gateway implements notify.Gateway using Eclipse Paho.
type Gateway struct {
	cli        pahoClient
	qos        map[string]byte
	maxRetries int
	backoff    time.Duration
	onStatus   StatusHandler
	logger     logger.Logger
}

// NewGateway connects to the broker and subscribes to the status topic when
// one is configured. onStatus may be nil.
func NewGateway(cfg Config, onStatus StatusHandler) (*Gateway, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_gateway")
	g := &Gateway{
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		onStatus:   onStatus,
		logger:     log,
	}
	if g.maxRetries <= 0 {
		g.maxRetries = 3
	}
	if g.backoff <= 0 {
		g.backoff = 100 * time.Millisecond
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if cfg.StatusTopic == "" || g.onStatus == nil {
			return
		}
		if token := c.Subscribe(cfg.StatusTopic, 1, g.onReceipt); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	g.cli = c
	return g, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
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

func (g *Gateway) onReceipt(_ paho.Client, msg paho.Message) {
	var m struct {
		RequestID string `json:"request_id"`
		VetID     string `json:"vet_id"`
		Status    string `json:"status"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		g.logger.Errorf("failed to decode receipt: %v", err)
		return
	}
	at := time.UnixMilli(m.Timestamp)
	if m.Timestamp == 0 {
		at = time.Now()
	}
	g.onStatus(m.RequestID, m.VetID, model.DeliveryStatus(m.Status), at)
}

func topicFor(n notify.Notice) string {
	if n.Vet {
		return fmt.Sprintf("vets/%s/notices", n.RecipientID)
	}
	return fmt.Sprintf("owners/%s/notices", n.RecipientID)
}

// Send publishes the notice to the recipient's topic, retrying with
// exponential backoff. It returns once the broker accepted the publish or
// every attempt failed.
func (g *Gateway) Send(ctx context.Context, n notify.Notice) (notify.DeliveryResult, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return notify.DeliveryResult{NoticeID: n.ID}, err
	}

	topic := topicFor(n)
	qos := byte(1)
	if q, ok := g.qos[n.Priority.String()]; ok {
		qos = q
	}

	start := time.Now()
	var publishErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		token := g.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			g.logger.Debugf("sent notice %s to %s", n.ID, topic)
			break
		}
		g.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		select {
		case <-ctx.Done():
			return notify.DeliveryResult{NoticeID: n.ID, Latency: time.Since(start)}, ctx.Err()
		case <-time.After(g.backoff * time.Duration(1<<attempt)):
		}
	}
	res := notify.DeliveryResult{
		NoticeID: n.ID,
		Accepted: publishErr == nil,
		Latency:  time.Since(start),
	}
	return res, publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (g *Gateway) Disconnect() {
	if g.cli != nil && g.cli.IsConnected() {
		g.cli.Disconnect(250)
	}
}
