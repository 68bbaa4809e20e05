package mqtt

import (
	"context"
	"fmt"

	"github.com/kilianp07/optiroute/core/factory"
	"github.com/kilianp07/optiroute/core/model"
	coremqtt "github.com/kilianp07/optiroute/core/mqtt"
	"github.com/kilianp07/optiroute/core/notify"
)

type publisher interface {
	Publish(ctx context.Context, topic, kind string, v any) error
}

// Notifier publishes coordinator messages as JSON on
// <prefix>/agent/<recipient>/messages.
type Notifier struct {
	pub    publisher
	topics coremqtt.Topics
	close  func()
}

// NewNotifier publishes through cli. Closing the notifier does not
// disconnect a shared client.
func NewNotifier(cli *PahoClient) *Notifier {
	return &Notifier{pub: cli, topics: cli.topics}
}

func (n *Notifier) Notify(ctx context.Context, msg model.Message) error {
	if err := n.pub.Publish(ctx, n.topics.Messages(msg.Recipient), "message", msg); err != nil {
		return fmt.Errorf("mqtt notify %s: %w", msg.Recipient, err)
	}
	return nil
}

func (n *Notifier) Close() error {
	if n.close != nil {
		n.close()
	}
	return nil
}

func init() {
	_ = notify.Register("mqtt", func(conf map[string]any) (notify.Notifier, error) {
		var cfg Config
		if err := factory.Decode(conf, &cfg); err != nil {
			return nil, err
		}
		if !cfg.Enabled() {
			return nil, fmt.Errorf("mqtt notifier requires a broker")
		}
		cli, err := NewPahoClient(cfg)
		if err != nil {
			return nil, err
		}
		n := NewNotifier(cli)
		n.close = cli.Disconnect
		return n, nil
	})
}
