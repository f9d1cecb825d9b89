// Package bus provides the topic-addressed publish/subscribe channel that
// coordinates all swarmd agents.
//
// The bus is backed by NATS. Delivery is at-least-once, ordered per topic
// per subscriber; cross-topic ordering is not guaranteed. Messages published
// to a topic with no live subscribers are retained until one subscribes or a
// retention deadline elapses, after which they are reported on the
// Undeliverable channel instead of being dropped.
//
// The daemon normally runs an in-process NATS server (StartEmbedded) so no
// external broker is required; agents never share state outside the bus.
package bus
