// Package infra holds the adapters around the dispatch core: the MQTT
// worker transport, the AMQP notifier, the traffic feed, error monitoring
// and the metrics exporters. They depend on core interfaces and never the
// other way round.
package infra
