package gossip

import (
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Admission is the explicit-peer set. Gossipsub consults it as its
// blacklist: anyone not admitted is "blacklisted", so unknown peers can
// neither join our mesh nor inject messages. The local peer is always
// admitted.
//
// Writes come from the session loop; reads come from pubsub goroutines.
type Admission struct {
	self      peer.ID
	connected func(peer.ID) bool

	mu           sync.RWMutex
	participants map[peer.ID]struct{}
	// refused holds peers gossipsub turned away while they were not
	// admitted over a live connection. Admitting one of them needs a fresh
	// connection before gossipsub will talk to it.
	refused map[peer.ID]struct{}
}

// NewAdmission returns an empty set that only admits self. connected
// reports whether a connection to a peer is currently open.
func NewAdmission(self peer.ID, connected func(peer.ID) bool) *Admission {
	return &Admission{
		self:         self,
		connected:    connected,
		participants: make(map[peer.ID]struct{}),
		refused:      make(map[peer.ID]struct{}),
	}
}

// Admit adds id to the participants. It reports whether the connection to
// id must be re-established for gossip to flow.
func (a *Admission) Admit(id peer.ID) (redial bool) {
	if id == a.self {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.participants[id] = struct{}{}
	_, refused := a.refused[id]
	delete(a.refused, id)
	// with no connection left the next dial is fresh anyway
	return refused && a.connected(id)
}

// Revoke removes id from the participants.
func (a *Admission) Revoke(id peer.ID) bool {
	if id == a.self {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.participants[id]
	delete(a.participants, id)
	if a.connected(id) {
		a.refused[id] = struct{}{}
	}
	return ok
}

// Allowed reports whether id may exchange gossip with us.
func (a *Admission) Allowed(id peer.ID) bool {
	if id == a.self {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.participants[id]
	return ok
}

// Participants returns the admitted peers sorted by id.
func (a *Admission) Participants() []peer.ID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]peer.ID, 0, len(a.participants))
	for id := range a.participants {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains implements pubsub.Blacklist. Gossipsub also asks about message
// authors it has never been connected to; those are not remembered.
func (a *Admission) Contains(id peer.ID) bool {
	if a.Allowed(id) {
		return false
	}
	if a.connected(id) {
		a.mu.Lock()
		a.refused[id] = struct{}{}
		a.mu.Unlock()
	}
	return true
}

// Add implements pubsub.Blacklist. Gossipsub calls it from BlacklistPeer.
func (a *Admission) Add(id peer.ID) bool {
	a.Revoke(id)
	return id != a.self
}
