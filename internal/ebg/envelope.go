// Package ebg implements the Event Bus / Gossip Fabric (spec §4.6): an
// in-process typed pub/sub plus an outbound-gossip envelope format with
// TTL decrement and message deduplication. The handler-registration
// shape (one set of subscribers per topic, looked up and invoked without
// reaching into a peer's private state) is grounded on the teacher's
// networking/router.ChainRouter (AddChain/RemoveChain/HandleInbound
// registering per-chain handlers) generalized from per-chain routing to
// per-topic pub/sub.
package ebg

import "time"

// Kind enumerates the gossiped message kinds spec §4.6 lists.
type Kind string

const (
	KindAnnouncement Kind = "announcement"
	KindBid          Kind = "bid"
	KindAssignment   Kind = "assignment"
	KindHealthReport Kind = "health_report"
	KindResult       Kind = "result"

	// KindDomainEvent carries the indexer-facing event stream (spec §6:
	// JobReceived, JobAnnounced, BidAccepted, ... each a JSON object
	// {event, ts, job_id?, worker_id?, payload}) over the same
	// envelope/dedup/TTL machinery as the gossip kinds above.
	KindDomainEvent Kind = "domain_event"
)

// Envelope is the versioned wire wrapper every gossiped message carries
// (spec §4.6).
type Envelope struct {
	MsgID   string
	Kind    Kind
	Sender  string
	Payload []byte
	TS      time.Time
	TTL     int
	Seq     uint64
}

// dedupKey is the composite key the dedup set filters on (spec §4.6:
// "filters repeats by (msg_id, sender)").
type dedupKey struct {
	msgID  string
	sender string
}
