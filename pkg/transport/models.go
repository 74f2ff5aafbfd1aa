package transport

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/baderanaas/lanchat/pkg/event"
)

// IdentifyMessage is sent once per connection so the other side can label us.
type IdentifyMessage struct {
	PeerID      string    `json:"peer_id"`
	DisplayName string    `json:"display_name"`
	Addrs       []string  `json:"addrs,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Connected is emitted for every new connection to a peer.
type Connected struct {
	Peer peer.ID
	Addr multiaddr.Multiaddr
}

// Disconnected is emitted when the last connection to a peer closes.
type Disconnected struct {
	Peer peer.ID
}

// ConnectionFailed reports a dial that could not complete its handshake. The
// peer stays unreachable until discovery sees it again.
type ConnectionFailed struct {
	Peer peer.ID
	Err  error
}

// IdentityReceived carries a peer's self-reported name together with the
// address we actually reached it on.
type IdentityReceived struct {
	Peer        peer.ID
	DisplayName string
	Addr        multiaddr.Multiaddr
}

func (Connected) Source() event.Source        { return event.SourceTransport }
func (Disconnected) Source() event.Source     { return event.SourceTransport }
func (ConnectionFailed) Source() event.Source { return event.SourceTransport }
func (IdentityReceived) Source() event.Source { return event.SourceTransport }
