package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/baderanaas/lanchat/pkg/directory"
	"github.com/baderanaas/lanchat/pkg/discovery"
	"github.com/baderanaas/lanchat/pkg/event"
	"github.com/baderanaas/lanchat/pkg/gossip"
	"github.com/baderanaas/lanchat/pkg/transport"
)

// run is the dispatch loop. It handles exactly one event per iteration and
// is the only code that mutates session state.
func (s *Session) run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.bus.Events():
			reply := s.handle(ev)
			s.publishSnapshot()
			if reply != nil {
				reply()
			}
		}
	}
}

// handle applies ev. Commands return their reply, which the loop sends once
// the resulting snapshot is visible.
func (s *Session) handle(ev event.Event) (reply func()) {
	switch ev := ev.(type) {
	// discovery
	case discovery.PeerAppeared:
		s.peerAppeared(ev.Info)
	case discovery.PeerRefreshed:
		s.peerRefreshed(ev.Info)
	case discovery.PeerExpired:
		s.peerExpired(ev.ID)

	// transport
	case transport.Connected:
		delete(s.unreachable, ev.Peer)
		if _, ok := s.identified[ev.Peer]; !ok {
			s.identified[ev.Peer] = struct{}{}
			if err := s.transport.Identify(ev.Peer); err != nil {
				log.Debugf("could not identify to %s: %v", directory.ShortID(ev.Peer), err)
				delete(s.identified, ev.Peer)
			}
		}
	case transport.Disconnected:
		delete(s.identified, ev.Peer)
		delete(s.introduced, ev.Peer)
	case transport.ConnectionFailed:
		s.unreachable[ev.Peer] = struct{}{}
		s.metrics.ConnectFailures.Inc()
		log.Infof("peer %s unreachable: %v", directory.ShortID(ev.Peer), ev.Err)
	case transport.IdentityReceived:
		s.identityReceived(ev)

	// gossip
	case gossip.MessageReceived:
		s.record(ev.Message)
	case gossip.PublishFailed:
		log.Warnf("message %s on %s was not sent: %v", ev.Fingerprint, ev.Topic, ev.Err)

	// local
	case publishCmd:
		err := s.publish(ev.handle, ev.text)
		return func() { ev.reply <- err }
	case subscribeCmd:
		h, err := s.subscribe(ev.name)
		return func() { ev.reply <- topicReply{handle: h, err: err} }
	case createTopicCmd:
		h, err := s.gossip.CreateTopic(ev.name)
		if err == nil {
			s.created[ev.name] = h
		}
		return func() { ev.reply <- topicReply{handle: h, err: err} }
	case connectCmd:
		err := s.connect(ev.info)
		return func() { ev.reply <- err }

	default:
		log.Warnf("unhandled %s event %T", ev.Source(), ev)
	}
	return nil
}

func (s *Session) peerAppeared(info peer.AddrInfo) {
	s.track(info)
	delete(s.unreachable, info.ID)
	redial := s.gossip.AddExplicitPeer(info.ID)
	s.dial(info, redial)
}

func (s *Session) peerRefreshed(info peer.AddrInfo) {
	if _, ok := s.dir.Get(info.ID); !ok {
		s.peerAppeared(info)
		return
	}
	if _, ok := s.unreachable[info.ID]; ok {
		s.dial(info, false)
	}
}

// peerExpired drops id from the directory and from gossip at once, and
// cancels anything still pending towards it.
func (s *Session) peerExpired(id peer.ID) {
	if s.dir.Remove(id) {
		s.peersDirty = true
	}
	s.gossip.RemoveExplicitPeer(id)
	s.transport.CancelPeer(id)
	delete(s.unreachable, id)
	delete(s.identified, id)
	delete(s.introduced, id)
}

// track puts info in the directory, applying any identity the peer sent
// before we knew it.
func (s *Session) track(info peer.AddrInfo) {
	if s.dir.Upsert(info.ID, firstAddr(info)) {
		s.peersDirty = true
	}
	if ev, ok := s.introduced[info.ID]; ok {
		delete(s.introduced, info.ID)
		s.dir.Identify(ev.Peer, ev.DisplayName, ev.Addr)
		s.peersDirty = true
	}
}

// identityReceived names a peer. Only peers already in the directory,
// discovered or dialled from here, are admitted to gossip; anyone else is
// remembered until discovery or a local connect vouches for them.
func (s *Session) identityReceived(ev transport.IdentityReceived) {
	if _, known := s.dir.Get(ev.Peer); !known {
		log.Debugf("identity from unknown peer %s (%q) held back", directory.ShortID(ev.Peer), ev.DisplayName)
		s.introduced[ev.Peer] = ev
		return
	}
	s.dir.Identify(ev.Peer, ev.DisplayName, ev.Addr)
	s.peersDirty = true
	if s.gossip.AddExplicitPeer(ev.Peer) {
		// Redial by id so the peerstore supplies listen addresses; the
		// observed address of an inbound connection is not dialable.
		s.dial(peer.AddrInfo{ID: ev.Peer}, true)
	}
}

func (s *Session) dial(info peer.AddrInfo, redial bool) {
	err := s.transport.ConnectOrReuse(info, redial)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrDialThrottled):
		log.Debugf("dial to %s throttled", directory.ShortID(info.ID))
	default:
		log.Warnf("could not dial %s: %v", directory.ShortID(info.ID), err)
	}
}

func (s *Session) connect(info peer.AddrInfo) error {
	s.track(info)
	delete(s.unreachable, info.ID)
	redial := s.gossip.AddExplicitPeer(info.ID)
	if err := s.transport.ConnectOrReuse(info, redial); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", directory.ShortID(info.ID), err)
	}
	return nil
}

func (s *Session) publish(h gossip.TopicHandle, text string) error {
	if !s.knownTopic(h) {
		return fmt.Errorf("%w: %s", gossip.ErrUnknownTopic, h.Name())
	}
	m, err := s.gossip.Publish(h, []byte(text))
	if err != nil {
		return err
	}
	s.record(m)
	return nil
}

func (s *Session) subscribe(name string) (gossip.TopicHandle, error) {
	h := gossip.Handle(name)
	if err := s.gossip.Subscribe(h); err != nil {
		return gossip.TopicHandle{}, err
	}
	s.joined[name] = h
	return h, nil
}

func (s *Session) record(m gossip.Message) {
	if !s.messages.Add(m) {
		s.metrics.MessagesDuplicate.Inc()
		return
	}
	s.metrics.MessagesDelivered.Inc()
	log.Debugf("[%s] %s: %d bytes", m.Topic, directory.ShortID(m.Sender), len(m.Payload))
}

func (s *Session) knownTopic(h gossip.TopicHandle) bool {
	if _, ok := s.created[h.Name()]; ok {
		return true
	}
	_, ok := s.joined[h.Name()]
	return ok
}

func firstAddr(info peer.AddrInfo) multiaddr.Multiaddr {
	if len(info.Addrs) == 0 {
		return nil
	}
	return info.Addrs[0]
}
