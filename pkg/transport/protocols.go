package transport

import "github.com/libp2p/go-libp2p/core/protocol"

const (
	// IdentifyProtocol carries display names between directly connected peers.
	IdentifyProtocol protocol.ID = "/lanchat/identify/1.0.0"

	// maxIdentifySize bounds a single identification message.
	maxIdentifySize = 4 * 1024

	// maxDisplayName is the longest display name kept from a peer.
	maxDisplayName = 64
)
