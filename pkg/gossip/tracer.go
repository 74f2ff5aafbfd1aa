package gossip

import (
	"sync/atomic"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/baderanaas/lanchat/pkg/metrics"
)

// Stats is a point-in-time view of the engine counters.
type Stats struct {
	Delivered   uint64
	Duplicate   uint64
	Rejected    uint64
	DroppedRPC  uint64
	GossipPeers int64
}

// tracer receives gossipsub's internal events and turns them into counters.
type tracer struct {
	m *metrics.Metrics

	delivered atomic.Uint64
	duplicate atomic.Uint64
	rejected  atomic.Uint64
	dropped   atomic.Uint64
	peers     atomic.Int64
}

var _ pubsub.RawTracer = (*tracer)(nil)

func newTracer(m *metrics.Metrics) *tracer {
	return &tracer{m: m}
}

func (t *tracer) stats() Stats {
	return Stats{
		Delivered:   t.delivered.Load(),
		Duplicate:   t.duplicate.Load(),
		Rejected:    t.rejected.Load(),
		DroppedRPC:  t.dropped.Load(),
		GossipPeers: t.peers.Load(),
	}
}

func (t *tracer) AddPeer(p peer.ID, proto protocol.ID) {
	t.peers.Add(1)
	log.Debugf("gossip peer %s joined over %s", p, proto)
}

func (t *tracer) RemovePeer(p peer.ID) {
	t.peers.Add(-1)
	log.Debugf("gossip peer %s left", p)
}

func (t *tracer) DeliverMessage(*pubsub.Message) {
	t.delivered.Add(1)
}

func (t *tracer) DuplicateMessage(*pubsub.Message) {
	t.duplicate.Add(1)
	t.m.MessagesDuplicate.Inc()
}

func (t *tracer) RejectMessage(msg *pubsub.Message, reason string) {
	t.rejected.Add(1)
	t.m.MessagesRejected.WithLabelValues(reason).Inc()
	log.Debugf("rejected message from %s: %s", msg.ReceivedFrom, reason)
}

func (t *tracer) DropRPC(_ *pubsub.RPC, p peer.ID) {
	t.dropped.Add(1)
	t.m.RPCDropped.Inc()
	log.Debugf("dropped rpc to %s: queue full", p)
}

func (t *tracer) Join(topic string) {
	log.Debugf("joined %s", topic)
}

func (t *tracer) Leave(topic string) {
	log.Debugf("left %s", topic)
}

func (t *tracer) Graft(p peer.ID, topic string) {
	log.Debugf("grafted %s on %s", p, topic)
}

func (t *tracer) Prune(p peer.ID, topic string) {
	log.Debugf("pruned %s from %s", p, topic)
}

func (t *tracer) ThrottlePeer(p peer.ID) {
	log.Warnf("throttling %s", p)
}

func (*tracer) ValidateMessage(*pubsub.Message)      {}
func (*tracer) UndeliverableMessage(*pubsub.Message) {}
func (*tracer) RecvRPC(*pubsub.RPC)                  {}
func (*tracer) SendRPC(*pubsub.RPC, peer.ID)         {}
