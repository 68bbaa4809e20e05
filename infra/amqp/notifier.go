// Package amqp publishes coordinator messages on a RabbitMQ topic exchange.
//
// Every message is routed with the key <recipient>.<type>, so consumers can
// bind to one worker ("w1.#"), one kind of message ("*.traffic_alert") or
// everything ("#").
package amqp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kilianp07/optiroute/core/factory"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/notify"
)

// Config describes the broker and exchange.
type Config struct {
	URL       string `json:"url"`
	Exchange  string `json:"exchange"`
	UseTLS    bool   `json:"use_tls"`
	TimeoutMS int    `json:"timeout_ms"`
}

func (c *Config) SetDefaults() {
	if c.Exchange == "" {
		c.Exchange = "optiroute.messages"
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 2000
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("amqp url is required")
	}
	return nil
}

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Notifier implements notify.Notifier over AMQP.
type Notifier struct {
	cfg     Config
	ch      channel
	closeFn func() error
	now     func() time.Time

	mu sync.Mutex
}

// Dial connects to the broker and declares the exchange.
func Dial(cfg Config) (*Notifier, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		conn *amqp.Connection
		err  error
	)
	if cfg.UseTLS {
		conn, err = amqp.DialTLS(cfg.URL, &tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		conn, err = amqp.Dial(cfg.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	n, err := newNotifier(cfg, ch)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	n.closeFn = conn.Close
	return n, nil
}

func newNotifier(cfg Config, ch channel) (*Notifier, error) {
	cfg.SetDefaults()
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	return &Notifier{cfg: cfg, ch: ch, now: time.Now}, nil
}

// RoutingKey returns the key msg is published with.
func RoutingKey(msg model.Message) string {
	r := msg.Recipient
	if r == "" {
		r = model.Broadcast
	}
	return r + "." + string(msg.Type)
}

func (n *Notifier) Notify(ctx context.Context, msg model.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(n.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()
	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.ch.PublishWithContext(ctx, n.cfg.Exchange, RoutingKey(msg), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    n.now().UTC(),
		Type:         string(msg.Type),
		Headers:      amqp.Table{"sender": msg.Sender},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp notify %s: %w", msg.Recipient, err)
	}
	return nil
}

func (n *Notifier) Close() error {
	err := n.ch.Close()
	if n.closeFn != nil {
		if cerr := n.closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func init() {
	_ = notify.Register("amqp", func(conf map[string]any) (notify.Notifier, error) {
		var cfg Config
		if err := factory.Decode(conf, &cfg); err != nil {
			return nil, err
		}
		return Dial(cfg)
	})
}
