// Package gossip runs topic-based message dissemination over gossipsub,
// restricted to explicitly admitted peers.
package gossip

import (
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/multierr"

	"github.com/baderanaas/lanchat/pkg/config"
	"github.com/baderanaas/lanchat/pkg/event"
	"github.com/baderanaas/lanchat/pkg/executor"
	"github.com/baderanaas/lanchat/pkg/metrics"
)

var log = logging.Logger("lanchat/gossip")

var (
	ErrUnknownTopic    = errors.New("unknown topic")
	ErrInvalidTopic    = errors.New("invalid topic name")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrNoSubscribers   = errors.New("no subscribed peers")
	ErrBackpressure    = errors.New("publish queue full")
)

// envelopeSlack is the room left in a gossipsub message for the protobuf
// envelope around a frame: author key, signature, seqno and topic.
const envelopeSlack = 4 << 10

// Engine owns the gossipsub router and the topics this node uses.
type Engine struct {
	ps        *pubsub.PubSub
	self      peer.ID
	key       ic.PrivKey
	ex        *executor.Executor
	bus       *event.Bus
	publishes *executor.Pool
	metrics   *metrics.Metrics
	admission *Admission
	tracer    *tracer
	maxFrame  int

	mu      sync.Mutex
	created map[string]struct{}
	joined  map[string]*topicState
}

type topicState struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// New starts gossipsub on h.
func New(ex *executor.Executor, h host.Host, bus *event.Bus, m *metrics.Metrics, cfg config.Config) (*Engine, error) {
	key := h.Peerstore().PrivKey(h.ID())
	if key == nil {
		return nil, fmt.Errorf("no private key for %s", h.ID())
	}

	connected := func(id peer.ID) bool {
		return h.Network().Connectedness(id) == network.Connected
	}
	e := &Engine{
		self:      h.ID(),
		key:       key,
		ex:        ex,
		bus:       bus,
		publishes: ex.NewPool("publish", cfg.PublishWorkers, cfg.PublishQueueDepth),
		metrics:   m,
		admission: NewAdmission(h.ID(), connected),
		tracer:    newTracer(m),
		maxFrame:  cfg.MaxFrameSize,
		created:   make(map[string]struct{}),
		joined:    make(map[string]*topicState),
	}

	params := pubsub.DefaultGossipSubParams()
	params.HeartbeatInterval = cfg.HeartbeatInterval

	ps, err := pubsub.NewGossipSub(ex.Context(), h,
		pubsub.WithGossipSubParams(params),
		pubsub.WithMessageIdFn(messageID),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign),
		pubsub.WithMaxMessageSize(cfg.MaxFrameSize+envelopeSlack),
		pubsub.WithPeerOutboundQueueSize(cfg.PeerQueueSize),
		pubsub.WithBlacklist(e.admission),
		pubsub.WithPeerFilter(func(id peer.ID, _ string) bool { return e.admission.Allowed(id) }),
		pubsub.WithRawTracer(e.tracer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gossipsub: %w", err)
	}
	e.ps = ps
	return e, nil
}

// AddExplicitPeer admits id to gossip. It reports whether the caller must
// redial id so gossipsub sees it as a new peer.
func (e *Engine) AddExplicitPeer(id peer.ID) bool {
	return e.admission.Admit(id)
}

// RemoveExplicitPeer evicts id. Its outbound queue is dropped at once.
func (e *Engine) RemoveExplicitPeer(id peer.ID) {
	if e.admission.Revoke(id) {
		e.ps.BlacklistPeer(id)
	}
}

// ExplicitPeers lists the admitted peers.
func (e *Engine) ExplicitPeers() []peer.ID {
	return e.admission.Participants()
}

// Stats returns the gossip counters.
func (e *Engine) Stats() Stats {
	return e.tracer.stats()
}

// Close cancels every subscription and leaves every topic. The router itself
// stops with the executor context.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	for name, ts := range e.joined {
		if ts.sub != nil {
			ts.sub.Cancel()
		}
		if cerr := ts.topic.Close(); cerr != nil {
			// cancellation is processed asynchronously by the router
			log.Debugf("closing topic %s: %v", name, cerr)
		}
		if uerr := e.ps.UnregisterTopicValidator(name); uerr != nil {
			err = multierr.Append(err, fmt.Errorf("unregistering validator for %s: %w", name, uerr))
		}
		delete(e.joined, name)
	}
	return err
}
