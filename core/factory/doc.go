// Package factory builds pluggable modules (notifiers, metrics sinks) from
// the `type` + `conf` entries of the configuration file. Packages register
// their factories in init; the application only imports them.
//
//	_ = notify.Register("amqp", func(conf map[string]any) (notify.Notifier, error) {
//		var c amqp.Config
//		if err := factory.Decode(conf, &c); err != nil {
//			return nil, err
//		}
//		return amqp.Dial(c)
//	})
package factory
