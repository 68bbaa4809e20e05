// Package notify delivers coordinator messages to interested parties.
//
// A Notifier is built from configuration through a factory registry. The
// core only logs delivery failures and never retries them.
package notify

import (
	"context"
	"errors"

	"github.com/kilianp07/optiroute/core/factory"
	"github.com/kilianp07/optiroute/core/logger"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/internal/eventbus"
)

// Notifier sends a message to its recipient.
type Notifier interface {
	Notify(ctx context.Context, msg model.Message) error
	Close() error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, model.Message) error { return nil }
func (Nop) Close() error                                { return nil }

// LogNotifier writes messages to a logger.
type LogNotifier struct {
	Log logger.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg model.Message) error {
	logger.OrNop(n.Log).Infow("message", map[string]any{
		"sender":    msg.Sender,
		"recipient": msg.Recipient,
		"type":      string(msg.Type),
		"payload":   msg.Payload,
	})
	return nil
}

func (LogNotifier) Close() error { return nil }

// BusNotifier publishes messages on an in-process bus.
type BusNotifier struct {
	Bus *eventbus.TypedBus[model.Message]
}

// NewBusNotifier creates a notifier publishing on bus. A nil bus creates a
// private one reachable through the Bus field.
func NewBusNotifier(bus *eventbus.TypedBus[model.Message]) *BusNotifier {
	if bus == nil {
		bus = eventbus.NewTyped[model.Message](0)
	}
	return &BusNotifier{Bus: bus}
}

func (n *BusNotifier) Notify(ctx context.Context, msg model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.Bus.Publish(msg)
	return nil
}

func (n *BusNotifier) Close() error {
	n.Bus.Close()
	return nil
}

// Multi fans a message out to several notifiers. Every notifier is tried and
// the errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg model.Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var notifiers = factory.NewRegistry[Notifier]()

func init() {
	_ = Register("nop", func(map[string]any) (Notifier, error) { return Nop{}, nil })
	_ = Register("log", func(conf map[string]any) (Notifier, error) {
		var c struct {
			Component string `json:"component"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Component == "" {
			c.Component = "notify"
		}
		return LogNotifier{Log: newLogger(c.Component)}, nil
	})
	_ = Register("bus", func(map[string]any) (Notifier, error) { return NewBusNotifier(nil), nil })
}

// newLogger is replaced by the application to route log notifications to
// the real logger.
var newLogger = func(string) logger.Logger { return logger.NopLogger{} }

// SetLoggerFactory sets the logger constructor used by the "log" notifier.
func SetLoggerFactory(f func(component string) logger.Logger) {
	if f != nil {
		newLogger = f
	}
}

// Register adds a notifier factory identified by name.
func Register(name string, f factory.Factory[Notifier]) error {
	return notifiers.Register(name, f)
}

// New builds a notifier from configuration. No entries yield Nop and several
// entries yield Multi.
func New(cfgs []factory.ModuleConfig) (Notifier, error) {
	if len(cfgs) == 0 {
		return Nop{}, nil
	}
	ns, err := notifiers.CreateAll(cfgs)
	if err != nil {
		return nil, err
	}
	if len(ns) == 1 {
		return ns[0], nil
	}
	return Multi(ns), nil
}
