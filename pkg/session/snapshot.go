package session

import (
	"sort"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/baderanaas/lanchat/pkg/directory"
	"github.com/baderanaas/lanchat/pkg/gossip"
)

// MessageView is a logged message as the UI renders it.
type MessageView struct {
	Fingerprint   string
	Topic         string
	Sender        peer.ID
	SenderDisplay string
	Text          string
	ReceivedAt    time.Time
	Local         bool
}

// TopicsView lists the topics this node created and the ones it joined.
type TopicsView struct {
	Created []string
	Joined  []string
}

// Stats summarizes the session for status lines and diagnostics.
type Stats struct {
	Peers    int
	Messages int
	Topics   int
	Gossip   gossip.Stats
}

// snapshot is an immutable view of the loop's state. The loop replaces it
// after every event; readers never see it change.
type snapshot struct {
	messages []gossip.Message
	peers    []directory.PeerRecord
	names    map[peer.ID]string
	topics   TopicsView
}

func (s *Session) publishSnapshot() {
	next := &snapshot{messages: s.messages.Entries()}
	prev := s.snap.Load()
	if prev == nil || s.peersDirty {
		next.peers = s.dir.Snapshot()
		next.names = s.dir.Names()
		s.metrics.Peers.Set(float64(len(next.peers)))
	} else {
		next.peers, next.names = prev.peers, prev.names
	}
	s.peersDirty = false

	if prev != nil && len(prev.topics.Created) == len(s.created) && len(prev.topics.Joined) == len(s.joined) {
		next.topics = prev.topics
	} else {
		next.topics = TopicsView{Created: sortedNames(s.created), Joined: sortedNames(s.joined)}
	}
	s.snap.Store(next)
}

// SnapshotMessages returns the message log in delivery order.
func (s *Session) SnapshotMessages() []MessageView {
	snap := s.snap.Load()
	out := make([]MessageView, len(snap.messages))
	for i, m := range snap.messages {
		out[i] = MessageView{
			Fingerprint:   m.Fingerprint,
			Topic:         m.Topic,
			Sender:        m.Sender,
			SenderDisplay: s.senderDisplay(snap, m),
			Text:          string(m.Payload),
			ReceivedAt:    m.ReceivedAt,
			Local:         m.Local,
		}
	}
	return out
}

// SnapshotPeers returns the known peers ordered by id.
func (s *Session) SnapshotPeers() []directory.PeerRecord {
	peers := s.snap.Load().peers
	out := make([]directory.PeerRecord, len(peers))
	copy(out, peers)
	return out
}

// Topics returns the created and joined topic names.
func (s *Session) Topics() TopicsView {
	t := s.snap.Load().topics
	return TopicsView{
		Created: append([]string(nil), t.Created...),
		Joined:  append([]string(nil), t.Joined...),
	}
}

// Stats reports directory, log and gossip counters.
func (s *Session) Stats() Stats {
	snap := s.snap.Load()
	return Stats{
		Peers:    len(snap.peers),
		Messages: len(snap.messages),
		Topics:   len(snap.topics.Joined),
		Gossip:   s.gossip.Stats(),
	}
}

func (s *Session) senderDisplay(snap *snapshot, m gossip.Message) string {
	if m.Sender == s.self {
		return s.displayName
	}
	if name, ok := snap.names[m.Sender]; ok {
		return name
	}
	return directory.ShortID(m.Sender)
}

func sortedNames(topics map[string]gossip.TopicHandle) []string {
	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
