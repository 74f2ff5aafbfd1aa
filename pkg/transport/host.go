// Package transport owns the libp2p host: secure multiplexed connections,
// dialing, and the identification exchange between connected peers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	yamux "github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	"golang.org/x/time/rate"

	"github.com/baderanaas/lanchat/pkg/config"
	"github.com/baderanaas/lanchat/pkg/crypto"
	"github.com/baderanaas/lanchat/pkg/event"
	"github.com/baderanaas/lanchat/pkg/executor"
)

var log = logging.Logger("lanchat/transport")

var (
	// ErrNoListenAddrs means the host could not bind anything. It is the only
	// fatal transport error.
	ErrNoListenAddrs = errors.New("no listen address could be bound")
	ErrDialQueueFull = errors.New("dial queue is full")
	ErrDialThrottled = errors.New("dial throttled")
)

// Host wraps the libp2p host. Dials and identification run on a bounded
// pool; their outcomes come back as events on the bus.
type Host struct {
	host  host.Host
	ctx   context.Context
	bus   *event.Bus
	dials *executor.Pool

	displayName string
	dialTimeout time.Duration
	dialBackoff time.Duration

	mu       sync.Mutex
	pending  map[peer.ID]peerTasks
	limiters map[peer.ID]*rate.Limiter
}

type peerTasks struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the libp2p host with TCP and QUIC transports, Noise security
// and yamux multiplexing. Failing to bind any address is fatal.
func New(ex *executor.Executor, bus *event.Bus, cfg config.Config) (*Host, error) {
	privKey := cfg.PrivateKey
	if privKey == nil {
		var err error
		privKey, _, err = crypto.GenerateIdentity()
		if err != nil {
			return nil, fmt.Errorf("failed to generate identity: %w", err)
		}
	}

	cm, err := connmgr.NewConnManager(cfg.ConnLow, cfg.ConnHigh, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(cfg.Listen()...),
		libp2p.Identity(privKey),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(cm),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoListenAddrs, err)
	}
	if len(h.Addrs()) == 0 {
		_ = h.Close()
		return nil, ErrNoListenAddrs
	}

	t := &Host{
		host:        h,
		ctx:         ex.Context(),
		bus:         bus,
		dials:       ex.NewPool("dial", cfg.DialWorkers, cfg.DialQueueDepth),
		displayName: cfg.DisplayName,
		dialTimeout: cfg.DialTimeout,
		dialBackoff: cfg.DialBackoff,
		pending:     make(map[peer.ID]peerTasks),
		limiters:    make(map[peer.ID]*rate.Limiter),
	}

	h.SetStreamHandler(IdentifyProtocol, t.handleIdentifyStream)
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    t.connected,
		DisconnectedF: t.disconnected,
	})

	log.Infof("node %s listening on %v", h.ID(), h.Addrs())
	return t, nil
}

// ID is the local peer identity.
func (t *Host) ID() peer.ID {
	return t.host.ID()
}

// Host exposes the libp2p host to the gossip and discovery layers.
func (t *Host) Host() host.Host {
	return t.host
}

// ListenAddrs returns the bound addresses.
func (t *Host) ListenAddrs() []multiaddr.Multiaddr {
	return t.host.Addrs()
}

// P2PAddrs returns the bound addresses with the /p2p/ component, ready to be
// pasted into another node's connect command.
func (t *Host) P2PAddrs() []multiaddr.Multiaddr {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: t.host.ID(), Addrs: t.host.Addrs()})
	if err != nil {
		return nil
	}
	return addrs
}

// Close shuts the host down, dropping every connection.
func (t *Host) Close() error {
	t.mu.Lock()
	for id, p := range t.pending {
		p.cancel()
		delete(t.pending, id)
	}
	t.mu.Unlock()
	return t.host.Close()
}

func (t *Host) emit(ev event.Event) {
	if !t.bus.Emit(t.ctx, ev) {
		log.Debugf("dropped %T: shutting down", ev)
	}
}

func (t *Host) connected(_ network.Network, c network.Conn) {
	t.emit(Connected{Peer: c.RemotePeer(), Addr: c.RemoteMultiaddr()})
}

func (t *Host) disconnected(n network.Network, c network.Conn) {
	if n.Connectedness(c.RemotePeer()) == network.Connected {
		return
	}
	t.emit(Disconnected{Peer: c.RemotePeer()})
}
