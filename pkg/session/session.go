// Package session owns the node's state and the single loop that mutates
// it. Everything else talks to it through events and the request methods.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"

	"github.com/baderanaas/lanchat/pkg/config"
	"github.com/baderanaas/lanchat/pkg/directory"
	"github.com/baderanaas/lanchat/pkg/discovery"
	"github.com/baderanaas/lanchat/pkg/event"
	"github.com/baderanaas/lanchat/pkg/executor"
	"github.com/baderanaas/lanchat/pkg/gossip"
	"github.com/baderanaas/lanchat/pkg/metrics"
	"github.com/baderanaas/lanchat/pkg/transport"
)

var log = logging.Logger("lanchat/session")

// ErrClosed is returned by requests made after the session stopped.
var ErrClosed = errors.New("session closed")

// Transport is the part of the transport host the session drives.
type Transport interface {
	ID() peer.ID
	P2PAddrs() []multiaddr.Multiaddr
	ConnectOrReuse(info peer.AddrInfo, redial bool) error
	Identify(id peer.ID) error
	CancelPeer(id peer.ID)
	Close() error
}

// Gossip is the part of the gossip engine the session drives.
type Gossip interface {
	CreateTopic(name string) (gossip.TopicHandle, error)
	Subscribe(h gossip.TopicHandle) error
	Publish(h gossip.TopicHandle, payload []byte) (gossip.Message, error)
	AddExplicitPeer(id peer.ID) bool
	RemoveExplicitPeer(id peer.ID)
	Stats() gossip.Stats
	Close() error
}

// Discovery produces peer sightings until its context ends.
type Discovery interface {
	Run(ctx context.Context) error
}

// Session is a running node.
type Session struct {
	ex        *executor.Executor
	bus       *event.Bus
	transport Transport
	gossip    Gossip
	metrics   *metrics.Metrics

	self        peer.ID
	displayName string

	// Owned by the loop.
	dir         *directory.Directory
	messages    *MessageLog
	created     map[string]gossip.TopicHandle
	joined      map[string]gossip.TopicHandle
	unreachable map[peer.ID]struct{}
	identified  map[peer.ID]struct{}
	// introduced holds identities from peers that are neither discovered
	// nor a local connect target. They are applied if the peer shows up.
	introduced map[peer.ID]transport.IdentityReceived
	peersDirty bool

	snap atomic.Pointer[snapshot]
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New builds the transport, gossip and discovery stack for cfg and starts
// the session loop. Failing to bind a listen address is returned as
// transport.ErrNoListenAddrs.
func New(ctx context.Context, cfg config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ex := executor.New(ctx)
	bus := event.NewBus(cfg.EventBuffer)
	m := metrics.New(cfg.Registerer)

	host, err := transport.New(ex, bus, cfg)
	if err != nil {
		_ = ex.Shutdown()
		return nil, err
	}
	engine, err := gossip.New(ex, host.Host(), bus, m, cfg)
	if err != nil {
		return nil, multierr.Combine(err, ex.Shutdown(), host.Close())
	}

	var disc Discovery
	if cfg.EnableMDNS {
		disc = discovery.New(host.Host(), bus, cfg)
	}

	s := newSession(ex, bus, host, engine, m, cfg.DisplayName)
	s.start(disc)
	log.Infof("session started as %s (%s)", cfg.DisplayName, s.self)
	return s, nil
}

func newSession(ex *executor.Executor, bus *event.Bus, t Transport, g Gossip, m *metrics.Metrics, displayName string) *Session {
	s := &Session{
		ex:          ex,
		bus:         bus,
		transport:   t,
		gossip:      g,
		metrics:     m,
		self:        t.ID(),
		displayName: displayName,
		dir:         directory.New(),
		messages:    newMessageLog(),
		created:     make(map[string]gossip.TopicHandle),
		joined:      make(map[string]gossip.TopicHandle),
		unreachable: make(map[peer.ID]struct{}),
		identified:  make(map[peer.ID]struct{}),
		introduced:  make(map[peer.ID]transport.IdentityReceived),
		done:        make(chan struct{}),
	}
	s.publishSnapshot()
	return s
}

func (s *Session) start(disc Discovery) {
	if disc != nil {
		s.ex.Go("discovery", disc.Run)
	}
	s.ex.Go("session", s.run)
}

// ID is the local peer identity.
func (s *Session) ID() peer.ID {
	return s.self
}

// DisplayName is the name this node announces.
func (s *Session) DisplayName() string {
	return s.displayName
}

// ListenAddrs returns the addresses other nodes can /connect to.
func (s *Session) ListenAddrs() []multiaddr.Multiaddr {
	return s.transport.P2PAddrs()
}

// Done is closed when the loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops the loop and tears the stack down.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = multierr.Combine(
			s.gossip.Close(),
			s.ex.Shutdown(),
			s.transport.Close(),
		)
		log.Infof("session closed")
	})
	return s.closeErr
}
