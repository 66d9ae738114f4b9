package ebg

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshcompute/coordinator/internal/config"
)

// Fabric is the Event Bus / Gossip Fabric. It serves both as an
// in-process pub/sub (local subscribers registered per topic) and, when
// a Transport is wired, as the outbound/inbound gossip layer — both
// modes satisfy the same dedup/TTL invariants (spec §9 open question:
// "leaves room for a pure in-process mode for single-node testing").
type Fabric struct {
	cfg       config.Config
	log       *zap.Logger
	transport Transport
	now       func() time.Time
	senderID  string

	dedup *dedupSet

	mu          sync.RWMutex
	subscribers map[string][]Handler
	seq         uint64
}

// New constructs a Fabric. transport may be nil, in which case the
// fabric runs in pure in-process mode: Publish fans straight out to
// local subscribers without ever touching the network.
func New(cfg config.Config, log *zap.Logger, transport Transport, senderID string, now func() time.Time) *Fabric {
	return &Fabric{
		cfg:         cfg,
		log:         log,
		transport:   transport,
		now:         now,
		senderID:    senderID,
		dedup:       newDedupSet(cfg.DeduplicationCapacity, cfg.DeduplicationWindow, now),
		subscribers: make(map[string][]Handler),
	}
}

// Subscribe registers handler for every envelope published on topic,
// whether it arrived from a local Publish call or from the transport.
func (f *Fabric) Subscribe(topic string, handler Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[topic] = append(f.subscribers[topic], handler)
}

// Publish wraps payload in a versioned envelope, delivers it to local
// subscribers, and — if a transport is wired — broadcasts it outward
// with the caller-supplied ttl as its initial TTL (spec §4.6).
func (f *Fabric) Publish(ctx context.Context, topic string, kind Kind, payload []byte, ttl int) error {
	env := Envelope{
		MsgID:   newMsgID(),
		Kind:    kind,
		Sender:  f.senderID,
		Payload: payload,
		TS:      f.now(),
		TTL:     ttl,
		Seq:     f.nextSeq(),
	}
	f.deliverLocal(ctx, topic, env)

	if f.transport == nil {
		return nil
	}
	return f.transport.Broadcast(topic, encode(env))
}

func (f *Fabric) nextSeq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

func (f *Fabric) deliverLocal(ctx context.Context, topic string, env Envelope) {
	if f.dedup.seenOrRecord(dedupKey{msgID: env.MsgID, sender: env.Sender}) {
		return
	}
	f.mu.RLock()
	handlers := append([]Handler(nil), f.subscribers[topic]...)
	f.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, env)
	}
}

// RunInbound pumps the transport's inbound stream for topic into local
// subscribers, decrementing TTL and dropping at TTL 0 or on duplicate
// (spec §4.6). It blocks until ctx is cancelled or the stream closes.
func (f *Fabric) RunInbound(ctx context.Context, topic string) error {
	if f.transport == nil {
		return nil
	}
	deliveries, unsubscribe, err := f.transport.Subscribe(topic)
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			env, err := decode(d.Payload)
			if err != nil {
				continue
			}
			if env.TTL <= 0 {
				continue
			}
			env.TTL--
			f.deliverLocal(ctx, topic, env)
		}
	}
}

func newMsgID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
