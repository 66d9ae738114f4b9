package ebg

import "context"

// Transport is the external P2P overlay the fabric publishes onto (spec
// §6). The core assumes no ordering or reliability guarantees from it.
type Transport interface {
	Broadcast(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Delivery, func(), error)
	Send(peer string, payload []byte) error
	Peers() []string
}

// Delivery is one inbound transport message with its sender identified.
type Delivery struct {
	Sender  string
	Payload []byte
}

// Handler processes a decoded, deduplicated, TTL-valid envelope for one
// topic. Handlers never read another component's private state — they
// receive only the envelope's payload (spec §4.6).
type Handler func(ctx context.Context, env Envelope)
