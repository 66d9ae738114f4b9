// Package wsgossip implements the event bus's Transport (spec §4.6,
// §9 open question: "single-node ... vs. a real gossip transport") over
// plain WebSocket connections between coordinator peers. Grounded on
// the jontk-slurm-client streaming server's Upgrader/ReadJSON/WriteJSON
// pattern (pkg/streaming/websocket.go), generalized from one client
// pushing typed stream events to a full-mesh hub where every peer both
// accepts inbound connections and dials its configured peers, relaying
// raw envelope bytes rather than a typed message.
package wsgossip

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshcompute/coordinator/internal/ebg"
)

var errNoSuchPeer = errors.New("wsgossip: no such peer")

const (
	writeTimeout = 5 * time.Second
	pingInterval = 20 * time.Second
)

type frame struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type peerConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // guards writes; gorilla connections are not write-concurrent-safe
}

func (p *peerConn) writeFrame(f frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(f)
}

// Hub is a full-mesh WebSocket transport: it accepts inbound peer
// connections on HandleUpgrade and dials out to every address passed to
// DialPeer. Broadcast relays to every connection it holds; Send writes
// to one named peer.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	selfID   string

	mu    sync.RWMutex
	peers map[string]*peerConn

	subMu       sync.Mutex
	subscribers map[string][]chan ebg.Delivery
}

func New(log *zap.Logger, selfID string) *Hub {
	return &Hub{
		log:    log,
		selfID: selfID,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peers:       make(map[string]*peerConn),
		subscribers: make(map[string][]chan ebg.Delivery),
	}
}

// HandleUpgrade is an http.HandlerFunc accepting an inbound peer
// connection. peerID is read from the "X-Peer-ID" header the dialing
// side sets.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	peerID := r.Header.Get("X-Peer-ID")
	if peerID == "" {
		http.Error(w, "missing X-Peer-ID", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warn("wsgossip: upgrade failed", zap.Error(err))
		}
		return
	}
	h.adopt(peerID, conn)
}

// DialPeer opens an outbound connection to a peer's HandleUpgrade
// endpoint, e.g. "ws://10.0.0.2:7946/gossip".
func (h *Hub) DialPeer(ctx context.Context, url string) error {
	header := http.Header{}
	header.Set("X-Peer-ID", h.selfID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return err
	}
	h.adopt(url, conn)
	return nil
}

func (h *Hub) adopt(peerID string, conn *websocket.Conn) {
	p := &peerConn{id: peerID, conn: conn}
	h.mu.Lock()
	h.peers[peerID] = p
	h.mu.Unlock()

	go h.readLoop(p)
	go h.pingLoop(p)
}

func (h *Hub) readLoop(p *peerConn) {
	defer h.drop(p)
	for {
		var f frame
		if err := p.conn.ReadJSON(&f); err != nil {
			return
		}
		h.subMu.Lock()
		chans := append([]chan ebg.Delivery(nil), h.subscribers[f.Topic]...)
		h.subMu.Unlock()
		for _, c := range chans {
			select {
			case c <- ebg.Delivery{Sender: p.id, Payload: f.Payload}:
			default: // slow subscriber: drop rather than block the read loop
			}
		}
	}
}

func (h *Hub) pingLoop(p *peerConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		p.mu.Lock()
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := p.conn.WriteMessage(websocket.PingMessage, nil)
		p.mu.Unlock()
		if err != nil {
			h.drop(p)
			return
		}
	}
}

func (h *Hub) drop(p *peerConn) {
	h.mu.Lock()
	if cur, ok := h.peers[p.id]; ok && cur == p {
		delete(h.peers, p.id)
	}
	h.mu.Unlock()
	_ = p.conn.Close()
}

// Broadcast implements ebg.Transport: it relays payload to every
// currently connected peer on topic.
func (h *Hub) Broadcast(topic string, payload []byte) error {
	h.mu.RLock()
	peers := make([]*peerConn, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	f := frame{Topic: topic, Payload: payload}
	for _, p := range peers {
		if err := p.writeFrame(f); err != nil && h.log != nil {
			h.log.Warn("wsgossip: broadcast write failed", zap.String("peer", p.id), zap.Error(err))
		}
	}
	return nil
}

// Send implements ebg.Transport: a point-to-point message to one peer.
func (h *Hub) Send(peer string, payload []byte) error {
	h.mu.RLock()
	p, ok := h.peers[peer]
	h.mu.RUnlock()
	if !ok {
		return errNoSuchPeer
	}
	return p.writeFrame(frame{Topic: "", Payload: payload})
}

// Subscribe implements ebg.Transport: the returned channel receives
// every Delivery relayed on topic from any peer.
func (h *Hub) Subscribe(topic string) (<-chan ebg.Delivery, func(), error) {
	c := make(chan ebg.Delivery, 64)
	h.subMu.Lock()
	h.subscribers[topic] = append(h.subscribers[topic], c)
	h.subMu.Unlock()

	unsubscribe := func() {
		h.subMu.Lock()
		defer h.subMu.Unlock()
		subs := h.subscribers[topic]
		for i, sub := range subs {
			if sub == c {
				h.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(c)
	}
	return c, unsubscribe, nil
}

// Peers implements ebg.Transport: the IDs of currently connected peers.
func (h *Hub) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, id)
	}
	return out
}
