package transport

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"golang.org/x/time/rate"
)

// ConnectOrReuse makes sure there is a connection to info.ID. An existing
// connection is reused unless redial is set, in which case it is closed and
// dialed again. The dial runs on the pool; failures arrive as
// ConnectionFailed events.
func (t *Host) ConnectOrReuse(info peer.AddrInfo, redial bool) error {
	if info.ID == t.host.ID() {
		return nil
	}
	if !redial && t.host.Network().Connectedness(info.ID) == network.Connected {
		return nil
	}
	if !redial && !t.allow(info.ID) {
		return ErrDialThrottled
	}

	ctx := t.peerContext(info.ID)
	ok := t.dials.TrySubmit(func(context.Context) {
		t.dial(ctx, info, redial)
	})
	if !ok {
		return ErrDialQueueFull
	}
	return nil
}

func (t *Host) dial(ctx context.Context, info peer.AddrInfo, redial bool) {
	if ctx.Err() != nil {
		return
	}
	if redial {
		if err := t.host.Network().ClosePeer(info.ID); err != nil {
			log.Debugf("closing %s before redial: %v", info.ID, err)
		}
	} else if t.host.Network().Connectedness(info.ID) == network.Connected {
		return
	}

	dctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()
	if err := t.host.Connect(dctx, info); err != nil {
		if ctx.Err() != nil {
			// cancelled by CancelPeer or shutdown, not a reachability verdict
			return
		}
		t.emit(ConnectionFailed{Peer: info.ID, Err: err})
	}
}

// CancelPeer aborts pending dials and identification sends to id without
// touching any other peer.
func (t *Host) CancelPeer(id peer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[id]; ok {
		p.cancel()
		delete(t.pending, id)
	}
	delete(t.limiters, id)
}

// peerContext returns the context all work for id runs under. It lives
// until CancelPeer(id).
func (t *Host) peerContext(id peer.ID) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[id]; ok {
		return p.ctx
	}
	ctx, cancel := context.WithCancel(t.ctx)
	t.pending[id] = peerTasks{ctx: ctx, cancel: cancel}
	return ctx
}

// allow rate limits dials to one peer so repeated discovery broadcasts do
// not hammer an unreachable host.
func (t *Host) allow(id peer.ID) bool {
	if t.dialBackoff <= 0 {
		return true
	}
	t.mu.Lock()
	lim, ok := t.limiters[id]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.dialBackoff), 1)
		t.limiters[id] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}

// ParseAddrInfo turns a full /p2p/ multiaddr string into dialable peer info.
func ParseAddrInfo(addrStr string) (peer.AddrInfo, error) {
	addr, err := multiaddr.NewMultiaddr(addrStr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("invalid multiaddress: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("failed to get peer info: %w", err)
	}
	return *info, nil
}
