package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/optiroute/core/model"
	coremon "github.com/kilianp07/optiroute/core/monitoring"
	coremqtt "github.com/kilianp07/optiroute/core/mqtt"
	"github.com/kilianp07/optiroute/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker         string          `json:"broker"`
	ClientID       string          `json:"client_id"`
	Username       string          `json:"username"`
	Password       string          `json:"password"`
	TopicPrefix    string          `json:"topic_prefix"`
	UseTLS         bool            `json:"use_tls"`
	ClientCert     string          `json:"client_cert"`
	ClientKey      string          `json:"client_key"`
	CABundle       string          `json:"ca_bundle"`
	AuthMethod     string          `json:"auth_method"`
	QoS            map[string]byte `json:"qos"`
	LWTTopic       string          `json:"lwt_topic"`
	LWTPayload     string          `json:"lwt_payload"`
	LWTQoS         byte            `json:"lwt_qos"`
	LWTRetain      bool            `json:"lwt_retain"`
	MaxRetries     int             `json:"max_retries"`
	BackoffMS      int             `json:"backoff_ms"`
	// ReplyTimeoutMS bounds the wait for a remote worker reply.
	ReplyTimeoutMS int             `json:"reply_timeout_ms"`
	TLSConfig      *tls.Config     `json:"-"`
}

// ReplyTimeout returns the remote worker reply bound, 2s by default.
func (c Config) ReplyTimeout() time.Duration {
	if c.ReplyTimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.ReplyTimeoutMS) * time.Millisecond
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool { return c.Broker != "" }

// Topics returns the topic layout under the configured prefix.
func (c Config) Topics() coremqtt.Topics { return coremqtt.Topics{Prefix: c.TopicPrefix} }

func (c Config) qos(kind string) byte {
	if q, ok := c.QoS[kind]; ok {
		return q
	}
	return 0
}

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

var _ coremqtt.Client = (*PahoClient)(nil)

// PahoClient implements the core request/reply client over Eclipse Paho.
type PahoClient struct {
	cli    pahoClient
	cfg    Config
	topics coremqtt.Topics
	logger logger.Logger

	mu      sync.Mutex
	replies map[string]chan coremqtt.Reply
	subs    map[string]paho.MessageHandler

	maxRetries int
	backoff    time.Duration
}

// NewPahoClient connects to the broker and subscribes to worker replies.
// Subscriptions are restored on reconnect.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_client")
	pc := &PahoClient{
		cfg:        cfg,
		topics:     cfg.Topics(),
		logger:     log,
		replies:    make(map[string]chan coremqtt.Reply),
		subs:       make(map[string]paho.MessageHandler),
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	if pc.maxRetries <= 0 {
		pc.maxRetries = 3
	}
	if pc.backoff <= 0 {
		pc.backoff = 100 * time.Millisecond
	}
	pc.subs[pc.topics.Replies()] = pc.onReply

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		pc.resubscribe(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	pc.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	id := cfg.ClientID
	if id == "" {
		id = "optiroute-" + uuid.NewString()
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(id)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
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

func (p *PahoClient) resubscribe(c paho.Client) {
	p.mu.Lock()
	subs := make(map[string]paho.MessageHandler, len(p.subs))
	for t, h := range p.subs {
		subs[t] = h
	}
	p.mu.Unlock()
	for topic, h := range subs {
		if token := c.Subscribe(topic, p.cfg.qos("reply"), h); token.Wait() && token.Error() != nil {
			p.logger.Errorf("subscribe %s: %v", topic, token.Error())
		}
	}
}

// Topics returns the topic layout used by the client.
func (p *PahoClient) Topics() coremqtt.Topics { return p.topics }

// Subscribe registers handler for topic. The subscription survives
// reconnects.
func (p *PahoClient) Subscribe(topic string, handler paho.MessageHandler) error {
	p.mu.Lock()
	p.subs[topic] = handler
	p.mu.Unlock()
	token := p.cli.Subscribe(topic, p.cfg.qos("reply"), handler)
	token.Wait()
	return token.Error()
}

func (p *PahoClient) onReply(_ paho.Client, msg paho.Message) {
	var r coremqtt.Reply
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		p.logger.Errorf("failed to decode reply: %v", err)
		return
	}
	if r.WorkerID == "" {
		r.WorkerID = coremqtt.LastSegment(strings.TrimSuffix(msg.Topic(), "/reply"))
	}
	p.mu.Lock()
	ch, ok := p.replies[r.CommandID]
	p.mu.Unlock()
	if !ok {
		p.logger.Debugf("reply for unknown command %s", r.CommandID)
		return
	}
	select {
	case ch <- r:
	default:
	}
}

// Publish sends payload as JSON, retrying with exponential backoff. The
// final failure is reported to the error monitor.
func (p *PahoClient) Publish(ctx context.Context, topic, kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, p.cfg.qos(kind), false, payload)
		token.Wait()
		if publishErr = token.Error(); publishErr == nil {
			return nil
		}
		p.logger.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt == p.maxRetries {
			break
		}
		select {
		case <-time.After(p.backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	coremon.CaptureException(publishErr, map[string]string{"module": "mqtt", "topic": topic})
	return publishErr
}

// Send implements coremqtt.Client.
func (p *PahoClient) Send(ctx context.Context, workerID, kind string, order *model.Order) (string, error) {
	req := coremqtt.Request{
		CommandID: uuid.NewString(),
		Kind:      kind,
		WorkerID:  workerID,
		Order:     order,
		Timestamp: time.Now().UnixMilli(),
	}
	p.mu.Lock()
	p.replies[req.CommandID] = make(chan coremqtt.Reply, 1)
	p.mu.Unlock()
	if err := p.Publish(ctx, p.topics.Request(workerID), "command", req); err != nil {
		p.forget(req.CommandID)
		return "", err
	}
	p.logger.Debugf("sent %s %s to %s", kind, req.CommandID, workerID)
	return req.CommandID, nil
}

// WaitForReply implements coremqtt.Client.
func (p *PahoClient) WaitForReply(ctx context.Context, commandID string, timeout time.Duration) (coremqtt.Reply, error) {
	p.mu.Lock()
	ch := p.replies[commandID]
	p.mu.Unlock()
	if ch == nil {
		return coremqtt.Reply{}, fmt.Errorf("%w: %s", coremqtt.ErrUnknownCommand, commandID)
	}
	defer p.forget(commandID)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
		return coremqtt.Reply{}, fmt.Errorf("%w: %s", coremqtt.ErrReplyTimeout, commandID)
	case <-ctx.Done():
		return coremqtt.Reply{}, ctx.Err()
	}
}

func (p *PahoClient) forget(commandID string) {
	p.mu.Lock()
	delete(p.replies, commandID)
	p.mu.Unlock()
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
