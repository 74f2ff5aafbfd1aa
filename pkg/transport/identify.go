package transport

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identify sends our display name to id on the pool. Failures are only
// logged: a peer without a name is still a peer.
func (t *Host) Identify(id peer.ID) error {
	ctx := t.peerContext(id)
	ok := t.dials.TrySubmit(func(context.Context) {
		t.sendIdentify(ctx, id)
	})
	if !ok {
		return ErrDialQueueFull
	}
	return nil
}

func (t *Host) sendIdentify(ctx context.Context, id peer.ID) {
	ctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	s, err := t.host.NewStream(network.WithNoDial(ctx, "identify"), id, IdentifyProtocol)
	if err != nil {
		log.Debugf("failed to open identify stream to %s: %v", id, err)
		return
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Debugf("error closing identify stream: %v", err)
		}
	}()

	addrs := make([]string, 0, len(t.host.Addrs()))
	for _, a := range t.host.Addrs() {
		addrs = append(addrs, a.String())
	}
	msg := IdentifyMessage{
		PeerID:      t.host.ID().String(),
		DisplayName: t.displayName,
		Addrs:       addrs,
		Timestamp:   time.Now(),
	}
	if err := json.NewEncoder(s).Encode(msg); err != nil {
		log.Debugf("failed to send identify message to %s: %v", id, err)
	}
}

// handleIdentifyStream accepts a peer's identification. A message that
// claims a different identity than the authenticated connection is dropped.
func (t *Host) handleIdentifyStream(s network.Stream) {
	defer func() {
		if err := s.Close(); err != nil {
			log.Debugf("error closing identify stream: %v", err)
		}
	}()

	var msg IdentifyMessage
	if err := json.NewDecoder(io.LimitReader(s, maxIdentifySize)).Decode(&msg); err != nil {
		log.Debugf("failed to decode identify message: %v", err)
		return
	}

	remote := s.Conn().RemotePeer()
	if msg.PeerID != remote.String() {
		log.Warnf("identify from %s claims to be %s, ignoring", remote, msg.PeerID)
		return
	}

	t.emit(IdentityReceived{
		Peer:        remote,
		DisplayName: cleanDisplayName(msg.DisplayName),
		Addr:        s.Conn().RemoteMultiaddr(),
	})
}

// cleanDisplayName strips control characters and bounds the length of a
// name chosen by a remote peer.
func cleanDisplayName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxDisplayName {
		runes := []rune(name)
		name = string(runes[:maxDisplayName])
	}
	return name
}
