// Package metrics defines the events emitted by the dispatch core for
// observability and the Sink interfaces that record them.
//
// Sink is the only mandatory interface. The other recorders are optional and
// are detected with a type assertion, so a sink only implements what it can
// store. Sinks are built from configuration through the factory registry and
// combined with NewMultiSink when several are configured.
package metrics
